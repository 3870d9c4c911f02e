// Package sched triggers recurring pipeline runs from a cron expression.
// A new run never starts while the previous one is still going.
package sched

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler fires pipeline runs on a cron schedule
type Scheduler struct {
	expr    string
	sched   cron.Schedule
	log     *slog.Logger
	tick    time.Duration
	lastRun time.Time
	running bool
	mu      sync.RWMutex
}

// NewScheduler creates a scheduler for the given cron expression
func NewScheduler(expr string, log *slog.Logger) (*Scheduler, error) {
	sched, err := ParseCron(expr)
	if err != nil {
		return nil, err
	}
	return &Scheduler{
		expr:  expr,
		sched: sched,
		log:   log,
		tick:  time.Minute,
	}, nil
}

// ParseCron parses a standard five-field cron expression
func ParseCron(expr string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	return parser.Parse(expr)
}

// SetTick overrides the poll granularity. Tests shrink it.
func (s *Scheduler) SetTick(d time.Duration) { s.tick = d }

// NextRun returns the next scheduled run time
func (s *Scheduler) NextRun() time.Time {
	return s.sched.Next(time.Now())
}

// ShouldRun returns true if a run is due and none is in flight
func (s *Scheduler) ShouldRun() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.running {
		return false
	}

	lastRun := s.lastRun
	if lastRun.IsZero() {
		lastRun = time.Now().Add(-24 * time.Hour)
	}

	return time.Now().After(s.sched.Next(lastRun))
}

// MarkRunning marks a run as in flight
func (s *Scheduler) MarkRunning() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = true
}

// MarkComplete marks the in-flight run as finished
func (s *Scheduler) MarkComplete() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	s.lastRun = time.Now()
}

// Start runs the scheduler loop until the context is cancelled. Due runs
// execute in their own goroutine so the loop keeps ticking.
func (s *Scheduler) Start(ctx context.Context, runFunc func(context.Context) error) {
	s.log.Info("scheduler started", "cron", s.expr, "next", s.NextRun())

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.ShouldRun() {
				continue
			}
			s.MarkRunning()
			go func() {
				if err := runFunc(ctx); err != nil {
					s.log.Error("scheduled run failed", "error", err)
				}
				s.MarkComplete()
				s.log.Info("next scheduled run", "at", s.NextRun())
			}()
		}
	}
}
