// Package schedule runs the scrape batch on a daily cadence, with an
// immediate run on startup. Runs never overlap: the loop is strictly
// sequential.
package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/AdrianLuk12/sociarch-scraper/internal/domain"
)

// RunFunc performs one complete scrape batch.
type RunFunc func(ctx context.Context) (*domain.RunSummary, error)

// Scheduler triggers the run function once at startup and then daily at the
// configured local hour. It retains the last summary for the ops API.
type Scheduler struct {
	run  RunFunc
	hour int
	loc  *time.Location
	log  *zap.Logger
	now  func() time.Time

	mu   sync.Mutex
	last *domain.RunSummary
}

// New creates a scheduler firing daily at the given hour in the given
// timezone.
func New(run RunFunc, hour int, timezone string, log *zap.Logger) (*Scheduler, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", timezone, err)
	}
	if hour < 0 || hour > 23 {
		return nil, fmt.Errorf("schedule hour %d out of range", hour)
	}
	return &Scheduler{run: run, hour: hour, loc: loc, log: log, now: time.Now}, nil
}

// WithClock overrides the wall clock, for tests.
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// LastSummary returns the most recent completed run's summary, or nil.
func (s *Scheduler) LastSummary() *domain.RunSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// NextRun computes the first daily trigger strictly after the given time.
func NextRun(after time.Time, hour int, loc *time.Location) time.Time {
	local := after.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), hour, 0, 0, 0, loc)
	if !next.After(local) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// Start blocks until the context is cancelled, running the batch once
// immediately and then at every daily trigger.
func (s *Scheduler) Start(ctx context.Context) {
	s.log.Info("scheduler started",
		zap.Int("hour", s.hour), zap.String("timezone", s.loc.String()))

	s.runOnce(ctx)

	for {
		next := NextRun(s.now(), s.hour, s.loc)
		s.log.Info("next run scheduled", zap.Time("at", next))

		timer := time.NewTimer(next.Sub(s.now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			s.log.Info("scheduler stopped")
			return
		case <-timer.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	start := s.now()
	summary, err := s.run(ctx)
	if err != nil {
		s.log.Error("scheduled run failed", zap.Error(err), zap.Duration("after", s.now().Sub(start)))
		return
	}

	s.mu.Lock()
	s.last = summary
	s.mu.Unlock()

	s.log.Info("scheduled run completed",
		zap.String("run_id", summary.RunID),
		zap.Duration("duration", s.now().Sub(start)),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed))
}
