package queue

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"workqueue/internal/domain"
	"workqueue/internal/metrics"
)

// Service is the API the HTTP layer and workers use. It keeps no state of its
// own beyond the Store.
type Service struct {
	store           *Store
	defaultPriority int
}

func NewService(store *Store, defaultPriority int) *Service {
	return &Service{store: store, defaultPriority: defaultPriority}
}

func (s *Service) Store() *Store { return s.store }

// DefaultPriority is used by callers that let the user leave priority blank.
func (s *Service) DefaultPriority() int { return s.defaultPriority }

// Enqueue persists a new task and returns its id. A zero scheduledAt means
// the task is due immediately.
func (s *Service) Enqueue(ctx context.Context, payload []byte, priority int, scheduledAt time.Time) (string, error) {
	t, err := s.store.Add(ctx, domain.Task{Payload: payload, Priority: priority, ScheduledAt: scheduledAt})
	if err != nil {
		return "", err
	}
	metrics.TasksEnqueued.Inc()
	log.Debug().Str("task_id", t.ID).Int("priority", t.Priority).Time("scheduled_at", t.ScheduledAt).Msg("task enqueued")
	return t.ID, nil
}

// ClaimNext returns the next due task with its payload, or ErrEmpty. The task
// stays in the queue until Complete is called. Two callers racing here may get
// the same task; only one of their Complete calls will succeed.
//
// A due task whose file vanished or cannot be read is passed over so one bad
// entry never blocks the tasks behind it. ErrStorage is returned only when no
// due task could be read and at least one read failed for a reason other than
// the file being gone.
func (s *Service) ClaimNext(ctx context.Context, now time.Time) (domain.Task, error) {
	pending, err := s.store.ListPending(ctx, now)
	if err != nil {
		return domain.Task{}, err
	}

	var readErr error
	for _, t := range pending {
		payload, err := s.store.LoadPayload(ctx, t)
		switch {
		case err == nil:
			t.Payload = payload
			metrics.TasksClaimed.Inc()
			return t, nil
		case errors.Is(err, ErrNotFound):
			// completed by someone else after the listing
			continue
		case errors.Is(err, ErrStorage):
			log.Warn().Err(err).Str("task_id", t.ID).Msg("skipping unreadable task")
			readErr = err
			continue
		default:
			return domain.Task{}, err
		}
	}
	if readErr != nil {
		return domain.Task{}, readErr
	}
	return domain.Task{}, ErrEmpty
}

// Complete removes a claimed task using the handle returned by ClaimNext.
func (s *Service) Complete(ctx context.Context, t domain.Task) error {
	if t.Name == "" {
		return s.CompleteByID(ctx, t.ID)
	}
	return s.finish(ctx, t)
}

// CompleteByID removes the task with the given id, scanning for its file first.
func (s *Service) CompleteByID(ctx context.Context, id string) error {
	t, err := s.store.Find(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			metrics.TasksCompleted.WithLabelValues("not_found").Inc()
		}
		return err
	}
	return s.finish(ctx, t)
}

func (s *Service) finish(ctx context.Context, t domain.Task) error {
	err := s.store.Remove(ctx, t)
	switch {
	case err == nil:
		metrics.TasksCompleted.WithLabelValues("ok").Inc()
		log.Debug().Str("task_id", t.ID).Msg("task completed")
	case errors.Is(err, ErrNotFound):
		metrics.TasksCompleted.WithLabelValues("not_found").Inc()
	}
	return err
}

// Next returns the next due task without its payload.
func (s *Service) Next(ctx context.Context, now time.Time) (domain.Task, error) {
	return s.store.PeekNext(ctx, now)
}

// Pending lists due tasks in order.
func (s *Service) Pending(ctx context.Context, now time.Time) ([]domain.Task, error) {
	return s.store.ListPending(ctx, now)
}

// All lists every task file in order, due or not.
func (s *Service) All(ctx context.Context) ([]domain.Task, error) {
	return s.store.List(ctx)
}

// Get returns one task with its payload.
func (s *Service) Get(ctx context.Context, id string) (domain.Task, error) {
	t, err := s.store.Find(ctx, id)
	if err != nil {
		return domain.Task{}, err
	}
	if t.Payload, err = s.store.LoadPayload(ctx, t); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}
