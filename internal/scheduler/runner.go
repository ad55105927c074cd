package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sakif/coding-leaderboard/internal/metrics"
)

// DefaultQueueSize is how many jobs may wait before Enqueue starts refusing.
const DefaultQueueSize = 16

// Job is a unit of background work. ctx is the runner's context, not the
// context of whoever enqueued the job.
type Job func(ctx context.Context) error

type queued struct {
	name string
	fn   Job
}

// Runner executes enqueued jobs one at a time, in order. HTTP handlers use it
// to start a sync batch and answer 202 straight away.
type Runner struct {
	jobs   chan queued
	logger *slog.Logger
}

// NewRunner creates a Runner with room for size waiting jobs.
func NewRunner(size int, logger *slog.Logger) *Runner {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Runner{
		jobs:   make(chan queued, size),
		logger: logger,
	}
}

// Enqueue adds a job without blocking. It returns false when the queue is
// full; the caller decides what to tell its client.
func (r *Runner) Enqueue(name string, fn Job) bool {
	select {
	case r.jobs <- queued{name: name, fn: fn}:
		metrics.JobsQueued.Inc()
		r.logger.Info("job queued", slog.String("job", name))
		return true
	default:
		r.logger.Warn("job queue full, dropping job", slog.String("job", name))
		return false
	}
}

// Serve implements suture.Service.
func (r *Runner) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case j := <-r.jobs:
			metrics.JobsQueued.Dec()
			r.run(ctx, j)
		}
	}
}

// run executes one job. A panicking job is turned into an error so it does
// not take the queue down with it.
func (r *Runner) run(ctx context.Context, j queued) {
	start := time.Now()
	var err error
	func() {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("scheduler: job %s panicked: %v", j.name, p)
			}
		}()
		err = j.fn(ctx)
	}()

	metrics.RecordJob(j.name, err)
	if err != nil {
		r.logger.Error("job failed",
			slog.String("job", j.name),
			slog.Duration("duration", time.Since(start)),
			slog.String("error", err.Error()),
		)
		return
	}
	r.logger.Info("job done", slog.String("job", j.name), slog.Duration("duration", time.Since(start)))
}

func (r *Runner) String() string {
	return "job-runner"
}
