// Package retention prunes the analytics buffer on a cron schedule.
package retention

import (
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// DefaultSchedule runs the sweep at the top of every hour.
const DefaultSchedule = "0 * * * *"

// DefaultRetention keeps thirty days of events.
const DefaultRetention = 30 * 24 * time.Hour

// Pruner removes events at or before a cutoff in epoch milliseconds.
type Pruner interface {
	ClearOldEvents(cutoffMs int64) int
}

// Config holds scheduler settings.
type Config struct {
	Pruner    Pruner
	Schedule  string        // cron schedule, e.g. "0 * * * *"
	Retention time.Duration // age after which events are removed
	Clock     func() time.Time
	Logger    zerolog.Logger
}

// Scheduler runs the retention sweep on a schedule.
type Scheduler struct {
	pruner    Pruner
	schedule  string
	retention time.Duration
	now       func() time.Time
	parser    cron.Parser
	cron      *cron.Cron
	running   bool
	mu        sync.Mutex
	logger    zerolog.Logger
}

// New validates cfg and returns a stopped scheduler.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Pruner == nil {
		return nil, errors.New("retention: pruner is required")
	}
	schedule := cfg.Schedule
	if schedule == "" {
		schedule = DefaultSchedule
	}
	retention := cfg.Retention
	if retention <= 0 {
		retention = DefaultRetention
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(schedule); err != nil {
		return nil, err
	}

	s := &Scheduler{
		pruner:    cfg.Pruner,
		schedule:  schedule,
		retention: retention,
		now:       now,
		parser:    parser,
		logger:    cfg.Logger.With().Str("component", "retention-scheduler").Logger(),
	}
	s.logger.Info().
		Str("schedule", schedule).
		Dur("retention", retention).
		Msg("Retention scheduler initialized")
	return s, nil
}

// Start begins running the sweep on schedule. Calling Start twice is a no-op.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		s.logger.Warn().Msg("Retention scheduler already running")
		return nil
	}

	s.cron = cron.New(cron.WithParser(s.parser))
	if _, err := s.cron.AddFunc(s.schedule, func() { s.RunNow() }); err != nil {
		return err
	}
	s.cron.Start()
	s.running = true

	s.logger.Info().
		Str("schedule", s.schedule).
		Time("next_run", s.NextRun()).
		Msg("Retention scheduler started")
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	if s.cron != nil {
		ctx := s.cron.Stop()
		<-ctx.Done()
	}
	s.running = false
	s.logger.Info().Msg("Retention scheduler stopped")
}

// RunNow performs one sweep immediately and returns the number of removed events.
func (s *Scheduler) RunNow() int {
	start := time.Now()
	cutoff := s.now().Add(-s.retention)
	removed := s.pruner.ClearOldEvents(cutoff.UnixMilli())
	s.logger.Info().
		Int("removed", removed).
		Time("cutoff", cutoff).
		Dur("duration", time.Since(start)).
		Msg("Retention sweep completed")
	return removed
}

// NextRun returns the next scheduled run after the current time.
func (s *Scheduler) NextRun() time.Time {
	schedule, err := s.parser.Parse(s.schedule)
	if err != nil {
		return time.Time{}
	}
	return schedule.Next(s.now())
}

// IsRunning reports whether the schedule is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Schedule returns the cron expression.
func (s *Scheduler) Schedule() string {
	return s.schedule
}
