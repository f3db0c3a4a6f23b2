package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/strdash/price-proxy/config"
	"github.com/strdash/price-proxy/core"
	"github.com/strdash/price-proxy/logger"
)

func main() {
	configPath := os.Getenv("CONFIG_FILE")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		boot := logger.New(logger.Config{Level: "info"})
		boot.Fatal().Err(err).Msg("error loading config")
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: true})
	log.Info().Int("port", cfg.Port).Msg("starting price proxy")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry, err := core.Setup(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to assemble services")
	}

	if err := registry.StartAll(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start services")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("received shutdown signal, stopping services")
	cancel()
	registry.StopAll()
	log.Info().Msg("stopped")
}
