// Package scheduler runs the periodic propagation, sweep and backup jobs.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"courtbook/internal/propagation"
)

const jobTimeout = 10 * time.Minute

// Engine is the part of the orchestrator the jobs trigger.
type Engine interface {
	RunPropagation(ctx context.Context, opts propagation.Options) (propagation.Result, error)
	Sweep(ctx context.Context) propagation.SweepResult
}

// Backuper produces database backups.
type Backuper interface {
	Run(ctx context.Context)
}

// Config holds the cron specs. An empty spec disables the job.
type Config struct {
	Propagation string
	Sweep       string
	Backup      string
}

type job struct {
	name string
	spec string
	run  func(ctx context.Context)
}

// Scheduler wraps a cron instance bound to the business time zone.
type Scheduler struct {
	cron   *cron.Cron
	engine Engine
	logger zerolog.Logger
}

// New registers the jobs. backup may be nil.
func New(cfg Config, loc *time.Location, engine Engine, backup Backuper, logger *zerolog.Logger) (*Scheduler, error) {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "scheduler").Logger()
	}
	if loc == nil {
		loc = time.UTC
	}

	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cronLogger{l}),
			cron.WithChain(cron.Recover(cronLogger{l}), cron.SkipIfStillRunning(cronLogger{l})),
		),
		engine: engine,
		logger: l,
	}

	jobs := []job{
		{"propagation", cfg.Propagation, s.propagate},
		{"sweep", cfg.Sweep, s.sweep},
	}
	if backup != nil {
		jobs = append(jobs, job{"backup", cfg.Backup, backup.Run})
	}

	for _, job := range jobs {
		if job.spec == "" {
			continue
		}
		run := job.run
		if _, err := s.cron.AddFunc(job.spec, func() {
			ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
			defer cancel()
			run(ctx)
		}); err != nil {
			return nil, fmt.Errorf("schedule %s %q: %w", job.name, job.spec, err)
		}
		l.Info().Str("job", job.name).Str("spec", job.spec).Msg("job scheduled")
	}

	return s, nil
}

// Start runs the scheduler in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts scheduling and waits for running jobs up to ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.logger.Warn().Msg("scheduler stopped before running jobs finished")
	}
}

// Entries returns the number of scheduled jobs.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}

func (s *Scheduler) propagate(ctx context.Context) {
	res, err := s.engine.RunPropagation(ctx, propagation.Options{Trigger: "cron"})
	if err != nil {
		s.logger.Error().Err(err).Msg("scheduled propagation failed")
		return
	}
	s.logger.Debug().Int("created", res.BookingsCreated).Int("errors", len(res.Errors)).Msg("scheduled propagation done")
}

func (s *Scheduler) sweep(ctx context.Context) {
	res := s.engine.Sweep(ctx)
	for _, itemErr := range res.Errors {
		s.logger.Warn().Err(itemErr).Msg("sweep item failed")
	}
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	logger zerolog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
