package core

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// Interface defines the common lifecycle for all services.
type Interface interface {
	Start(ctx context.Context) error
	Stop()
}

type registration struct {
	name    string
	service Interface
}

// Registry holds named services in their initialisation order and logs
// every lifecycle transition.
type Registry struct {
	log      zerolog.Logger
	services []registration
}

// NewRegistry creates an empty service registry.
func NewRegistry(log zerolog.Logger) *Registry {
	return &Registry{
		log: log.With().Str("component", "registry").Logger(),
	}
}

// Register adds a named service to the registry.
func (r *Registry) Register(name string, service Interface) {
	r.services = append(r.services, registration{name: name, service: service})
}

// StartAll starts every registered service in registration order,
// stopping at the first failure.
func (r *Registry) StartAll(ctx context.Context) error {
	for _, reg := range r.services {
		r.log.Info().Str("service", reg.name).Msg("starting service")
		if err := reg.service.Start(ctx); err != nil {
			return fmt.Errorf("starting %s: %w", reg.name, err)
		}
	}
	return nil
}

// StopAll stops all services in reverse registration order.
func (r *Registry) StopAll() {
	for i := len(r.services) - 1; i >= 0; i-- {
		r.log.Info().Str("service", r.services[i].name).Msg("stopping service")
		r.services[i].service.Stop()
	}
}
