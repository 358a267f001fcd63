package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Intervals supplies the current auto-update period. It is read fresh on
// every arm, so an interval change takes effect on the next cycle without a
// restart.
type Intervals interface {
	AutoUpdateIntervalHours() int
}

// Scheduler drives the periodic auto-update with a single self-rescheduling
// timer. At most one timer exists at a time; re-arming always cancels the
// previous one first.
type Scheduler struct {
	run       func(ctx context.Context) error
	intervals Intervals

	mu      sync.Mutex
	timer   *time.Timer
	next    *time.Time
	started bool
	stopped bool

	now   func() time.Time
	after func(d time.Duration, f func()) *time.Timer
}

func New(run func(ctx context.Context) error, intervals Intervals) *Scheduler {
	return &Scheduler{
		run:       run,
		intervals: intervals,
		now:       time.Now,
		after:     time.AfterFunc,
	}
}

// Start arms the first timer. Calling it again is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	s.arm()
}

// Reschedule cancels the pending timer and arms a fresh one with the
// current interval. Used after the interval setting changes.
func (s *Scheduler) Reschedule() {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if started {
		s.arm()
	}
}

func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.next = nil
}

// NextUpdateTime is when the next pass will fire, nil while idle.
func (s *Scheduler) NextUpdateTime() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.next == nil {
		return nil
	}
	t := *s.next
	return &t
}

func (s *Scheduler) arm() {
	d := time.Duration(s.intervals.AutoUpdateIntervalHours()) * time.Hour

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	next := s.now().Add(d)
	s.next = &next
	s.timer = s.after(d, s.fire)
	slog.Info("auto-update scheduled", "interval_hours", d.Hours(), "next_update", next.Format(time.RFC3339))
}

// fire runs one pass and re-arms no matter how the pass ended. A failed or
// panicking pass must never silence the schedule.
func (s *Scheduler) fire() {
	defer s.arm()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("auto-update panicked", "panic", fmt.Sprint(r))
		}
	}()

	if err := s.run(context.Background()); err != nil {
		slog.Error("auto-update failed", "error", err.Error())
	}
}
