// Package worker runs the polling loop that drains the queue one task at a time.
package worker

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"workqueue/internal/domain"
	"workqueue/internal/metrics"
	"workqueue/internal/queue"
)

// Source hands out tasks. It is satisfied by *queue.Service for a worker that
// shares the queue directory and by *client.Client for one that goes through
// the HTTP API.
type Source interface {
	ClaimNext(ctx context.Context, now time.Time) (domain.Task, error)
	Complete(ctx context.Context, t domain.Task) error
}

type Handler interface {
	Handle(ctx context.Context, t domain.Task) error
}

type HandlerFunc func(ctx context.Context, t domain.Task) error

func (f HandlerFunc) Handle(ctx context.Context, t domain.Task) error { return f(ctx, t) }

// Recorder stores the outcome of each handled task. Optional.
type Recorder interface {
	RecordCompletion(ctx context.Context, e domain.HistoryEntry) error
}

// Worker claims due tasks, runs the handler, and completes them. Only one task
// is in flight at a time: claiming does not reserve a task, so running several
// workers against one queue can process a task twice.
type Worker struct {
	src       Source
	handler   Handler
	recorder  Recorder
	pollEvery time.Duration
	now       func() time.Time
}

type Option func(*Worker)

func WithRecorder(r Recorder) Option {
	return func(w *Worker) { w.recorder = r }
}

func WithClock(now func() time.Time) Option {
	return func(w *Worker) { w.now = now }
}

func New(src Source, handler Handler, pollEvery time.Duration, opts ...Option) *Worker {
	w := &Worker{src: src, handler: handler, pollEvery: pollEvery, now: time.Now}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run polls until ctx is canceled. Each tick drains every task that is due.
func (w *Worker) Run(ctx context.Context) {
	t := time.NewTicker(w.pollEvery)
	defer t.Stop()

	log.Info().Dur("poll", w.pollEvery).Msg("worker started")
	for {
		w.drain(ctx)
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

func (w *Worker) drain(ctx context.Context) {
	for ctx.Err() == nil {
		processed, err := w.ProcessNext(ctx)
		if err != nil {
			log.Error().Err(err).Msg("process next task")
			return
		}
		if !processed {
			log.Debug().Msg("no current task")
			return
		}
	}
}

// ProcessNext handles at most one task. It reports false when nothing was due.
func (w *Worker) ProcessNext(ctx context.Context) (bool, error) {
	tk, err := w.src.ClaimNext(ctx, w.now())
	if errors.Is(err, queue.ErrEmpty) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	start := time.Now()
	handleErr := w.handler.Handle(ctx, tk)
	outcome := domain.OutcomeSucceeded
	if handleErr != nil {
		outcome = domain.OutcomeFailed
		log.Error().Err(handleErr).Str("task_id", tk.ID).Msg("task failed")
	}
	metrics.HandlerDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())

	// failed tasks are removed too; there is no retry
	if err := w.src.Complete(ctx, tk); err != nil {
		if errors.Is(err, queue.ErrNotFound) {
			log.Warn().Str("task_id", tk.ID).Msg("task already completed elsewhere")
			return true, nil
		}
		return true, err
	}

	if w.recorder != nil {
		entry := domain.HistoryEntry{
			TaskID:      tk.ID,
			Priority:    tk.Priority,
			ScheduledAt: tk.ScheduledAt,
			Payload:     tk.Payload,
			Outcome:     outcome,
			FinishedAt:  w.now(),
		}
		if handleErr != nil {
			entry.Error = handleErr.Error()
		}
		if err := w.recorder.RecordCompletion(ctx, entry); err != nil {
			log.Error().Err(err).Str("task_id", tk.ID).Msg("record completion")
		}
	}

	log.Info().Str("task_id", tk.ID).Int("priority", tk.Priority).Str("outcome", outcome).Msg("completed task")
	return true, nil
}
