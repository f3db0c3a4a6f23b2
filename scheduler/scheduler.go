package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Scheduler runs a task at a fixed interval on a background goroutine.
// Start is idempotent while running and Stop may be called at any time,
// any number of times; an in-flight task run is allowed to complete.
type Scheduler struct {
	name     string
	interval time.Duration
	task     func(context.Context)
	log      zerolog.Logger
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
}

// New creates a Scheduler that invokes task every interval. The name
// tags every log line the loop emits.
func New(name string, interval time.Duration, task func(context.Context), log zerolog.Logger) *Scheduler {
	return &Scheduler{
		name:     name,
		interval: interval,
		task:     task,
		log:      log.With().Str("scheduler", name).Logger(),
	}
}

// Start begins executing the task at the configured interval. When
// firstRunImmediately is set the task runs once before the first tick.
func (s *Scheduler) Start(ctx context.Context, firstRunImmediately bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		s.log.Debug().Msg("already running, start ignored")
		return
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.running = true
	s.log.Info().Dur("interval", s.interval).Msg("scheduler started")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		if firstRunImmediately {
			s.runTask(ctx)
		}

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.runTask(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (s *Scheduler) runTask(ctx context.Context) {
	start := time.Now()
	s.task(ctx)
	s.log.Debug().Dur("took", time.Since(start)).Msg("tick complete")
}

// Stop cancels the ticker and waits for the goroutine to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.running = false
	s.log.Info().Msg("scheduler stopped")
}

// IsRunning reports whether the scheduler is currently active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
