// Package scheduler runs the periodic maintenance jobs of the server: the
// thumbnail pass and the share purge.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// A Job is one periodic task. Run receives the context given to Add.
type Job struct {
	Name string
	// Spec is a cron specification such as "@hourly" or "0 3 * * *".
	Spec string
	Run  func(ctx context.Context) error
}

// Scheduler wraps a cron runner. A job still running when its next tick
// arrives is skipped.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger
}

func New(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}

	cl := cronLogger{logger: logger.With("component", "scheduler")}

	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		logger: logger,
	}
}

// Add registers job. Errors returned by Run are logged.
func (s *Scheduler) Add(ctx context.Context, job Job) error {
	logger := s.logger.With("job", job.Name)

	_, err := s.cron.AddFunc(job.Spec, func() {
		start := time.Now()
		if err := job.Run(ctx); err != nil {
			logger.Error("job failed", "error", err, "duration", time.Since(start))
			return
		}
		logger.Info("job finished", "duration", time.Since(start))
	})
	if err != nil {
		return fmt.Errorf("schedule %s: %w", job.Name, err)
	}

	logger.Info("job registered", "spec", job.Spec)
	return nil
}

// Len returns the number of registered jobs.
func (s *Scheduler) Len() int {
	return len(s.cron.Entries())
}

// Start launches the scheduler asynchronously.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop prevents new runs and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append([]any{"error", err}, keysAndValues...)...)
}
