package poll

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultInterval is how often the releases listing is checked.
const DefaultInterval = time.Minute

// Cycler runs one check cycle.
type Cycler interface {
	RunCycle(ctx context.Context) error
}

// Scheduler fires check cycles on a fixed period. A firing is skipped while
// the previous cycle is still running, and a failed cycle never stops the
// schedule.
type Scheduler struct {
	cron     *cron.Cron
	cycler   Cycler
	logger   *slog.Logger
	interval time.Duration
	stopOnce sync.Once
}

// NewScheduler creates a scheduler. A non-positive interval selects DefaultInterval.
func NewScheduler(cycler Cycler, interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	cl := cronLogger{logger: logger}
	return &Scheduler{
		cron:     cron.New(cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)), cron.WithLogger(cl)),
		cycler:   cycler,
		logger:   logger,
		interval: interval,
	}
}

// Start schedules the cycle and returns immediately. Cycles run with ctx and
// stop being scheduled when ctx ends.
func (s *Scheduler) Start(ctx context.Context) error {
	spec := "@every " + s.interval.String()
	if _, err := s.cron.AddFunc(spec, func() { s.fire(ctx) }); err != nil {
		return fmt.Errorf("schedule %q: %w", spec, err)
	}
	s.cron.Start()
	s.logger.Info("Poll scheduler started", "interval", s.interval.String())

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// Stop halts scheduling and waits for a running cycle to finish.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		<-s.cron.Stop().Done()
		s.logger.Info("Poll scheduler stopped")
	})
}

func (s *Scheduler) fire(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if err := s.cycler.RunCycle(ctx); err != nil {
		s.logger.Error("Check cycle failed", "error", err)
	}
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append([]any{"error", err}, keysAndValues...)...)
}
