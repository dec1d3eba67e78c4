package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Scheduler fires the daily simulation at a fixed local time. Manual
// triggers and the scheduled run share the same per-day check-and-set, so
// whichever fires second is a reported no-op.
type Scheduler struct {
	engine *Engine
	runAt  string // HH:MM

	running atomic.Bool
	mu      sync.Mutex
	nextRun time.Time
}

// NewScheduler creates a scheduler firing RunDay once per day at runAt.
func NewScheduler(engine *Engine, runAt string) (*Scheduler, error) {
	if _, err := time.Parse("15:04", runAt); err != nil {
		return nil, fmt.Errorf("market: invalid simulation time %q: %w", runAt, err)
	}
	return &Scheduler{engine: engine, runAt: runAt}, nil
}

// Run blocks until ctx is done, firing the daily simulation at the
// configured time. Must be called in a goroutine.
func (s *Scheduler) Run(ctx context.Context) {
	s.running.Store(true)
	defer s.running.Store(false)

	for {
		next := s.nextOccurrence(s.engine.now())
		s.mu.Lock()
		s.nextRun = next
		s.mu.Unlock()

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			slog.Info("scheduler stopped")
			return
		case <-timer.C:
		}

		if err := s.engine.RunDay(ctx, s.engine.now()); err != nil {
			if errors.Is(err, ErrAlreadyRanToday) {
				slog.Info("scheduled simulation skipped", "reason", "already ran today")
			} else {
				slog.Error("scheduled simulation failed", "err", err)
			}
		}
	}
}

// Running reports whether the scheduler loop is active.
func (s *Scheduler) Running() bool { return s.running.Load() }

// NextRun returns the next scheduled fire time, zero when not running.
func (s *Scheduler) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextRun
}

func (s *Scheduler) nextOccurrence(now time.Time) time.Time {
	at, _ := time.Parse("15:04", s.runAt)
	next := time.Date(now.Year(), now.Month(), now.Day(), at.Hour(), at.Minute(), 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
