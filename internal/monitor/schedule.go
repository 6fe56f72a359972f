package monitor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

var scheduleParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule accepts a cron expression with optional seconds field, or a
// descriptor such as "@hourly" or "@every 30s".
func ParseSchedule(expr string) (cron.Schedule, error) {
	sched, err := scheduleParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid poll schedule %q: %w", expr, err)
	}
	return sched, nil
}

// StartSchedule refreshes on a cron schedule instead of a fixed interval.
// A tick that fires while the previous refresh is still running is skipped.
// It is a no-op while a poller or schedule is already active.
func (s *Service) StartSchedule(expr string) error {
	sched, err := ParseSchedule(expr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pollStop != nil || s.cron != nil {
		return nil
	}

	logger := cron.PrintfLogger(slog.NewLogLogger(s.log.Handler(), slog.LevelWarn))
	c := cron.New(cron.WithParser(scheduleParser), cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))
	c.Schedule(sched, cron.FuncJob(func() { s.Refresh(context.Background()) }))
	c.Start()
	s.cron = c
	s.log.Info("poll schedule started", "schedule", expr)
	return nil
}

func (s *Service) stopSchedule() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}
