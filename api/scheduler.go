/*
scheduler.go - Background activation and expiry scheduler

PURPOSE:
  Periodically promotes scheduled policy versions whose effective date
  has arrived and sweeps stale reservation holds. The same work is
  reachable via POST /api/policies/activate and
  POST /api/reservations/expire for manual/ops-driven runs; this
  goroutine just keeps it happening without an operator.

DESIGN:
  - One background goroutine with a configurable tick interval
  - Each tick is independent: a failed tick logs and the next tick
    retries naturally, no internal retry loop
  - Ticks take the same store transactions as the API paths, so running
    both concurrently is safe

CONFIGURATION:
  - TickInterval: How often to run (default: 1 minute)
  - Enabled:      Whether the scheduler is active (default: true)

USAGE:
  scheduler := NewScheduler(handler, log)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - engine/publish.go: ActivatePending
  - engine/reserve.go: ExpireStaleHolds
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Scheduler drives policy activation and hold expiry on a timer.
type Scheduler struct {
	Handler      *Handler
	TickInterval time.Duration
	Enabled      bool

	log    zerolog.Logger
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewScheduler creates a scheduler over the handler's engine components.
func NewScheduler(handler *Handler, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		Handler:      handler,
		TickInterval: 1 * time.Minute,
		Enabled:      true,
		log:          log,
		stop:         make(chan struct{}),
	}
}

// Start begins the scheduler.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.log.Info().Msg("scheduler disabled, not starting")
		return
	}

	s.ticker = time.NewTicker(s.TickInterval)
	s.wg.Add(1)
	go s.run()

	s.log.Info().Dur("interval", s.TickInterval).Msg("scheduler started")
}

// Stop stops the scheduler and waits for the current tick to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.wg.Wait()
		s.log.Info().Msg("scheduler stopped")
	}
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	// Run immediately on start
	s.tick()

	for {
		select {
		case <-s.ticker.C:
			s.tick()
		case <-s.stop:
			return
		}
	}
}

func (s *Scheduler) tick() {
	ctx := context.Background()
	now := time.Now()

	activated, err := s.Handler.Publisher.ActivatePending(ctx, now)
	if err != nil {
		s.log.Error().Err(err).Msg("scheduled policy activation failed")
	} else if activated > 0 {
		s.log.Info().Int("activated", activated).Msg("scheduled policies activated")
	}

	released, err := s.Handler.Reservations.ExpireStaleHolds(ctx, now)
	if err != nil {
		s.log.Error().Err(err).Msg("hold expiry sweep failed")
	} else if released > 0 {
		s.log.Info().Int("released", released).Msg("stale holds swept")
	}
}
