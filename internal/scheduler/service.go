package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"workqueue/internal/domain"
	"workqueue/internal/store"
)

// Enqueuer is the part of the queue facade the scheduler writes to.
type Enqueuer interface {
	Enqueue(ctx context.Context, payload []byte, priority int, scheduledAt time.Time) (string, error)
}

// Service turns due cron schedules into task files.
type Service struct {
	repo     store.Repository
	queue    Enqueuer
	stop     chan struct{}
	interval time.Duration
}

func NewService(repo store.Repository, queue Enqueuer, checkInterval time.Duration) *Service {
	return &Service{
		repo:     repo,
		queue:    queue,
		stop:     make(chan struct{}),
		interval: checkInterval,
	}
}

func (s *Service) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	log.Info().Dur("interval", s.interval).Msg("schedule service started")

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case now := <-ticker.C:
			s.ProcessDue(ctx, now)
		}
	}
}

func (s *Service) Stop() {
	close(s.stop)
}

// ProcessDue enqueues one task per schedule whose next run is at or before now.
func (s *Service) ProcessDue(ctx context.Context, now time.Time) {
	schedules, err := s.repo.GetDueSchedules(ctx, now)
	if err != nil {
		log.Error().Err(err).Msg("failed to get due schedules")
		return
	}

	for _, schedule := range schedules {
		if err := s.processSchedule(ctx, schedule, now); err != nil {
			log.Error().Err(err).Str("schedule_id", schedule.ID).Msg("failed to process schedule")
		}
	}
}

func (s *Service) processSchedule(ctx context.Context, schedule domain.Schedule, now time.Time) error {
	cronSchedule, err := cron.ParseStandard(schedule.CronExpr)
	if err != nil {
		return err
	}

	// next_run advances before the enqueue so a failed update cannot fire the
	// same run twice; a failed enqueue loses that one run instead.
	nextRun := cronSchedule.Next(now)
	if err := s.repo.UpdateScheduleLastRun(ctx, schedule.ID, now, nextRun); err != nil {
		return err
	}

	taskID, err := s.queue.Enqueue(ctx, schedule.Payload, schedule.Priority, now)
	if err != nil {
		log.Error().Err(err).
			Str("schedule_id", schedule.ID).
			Time("missed_run", now).
			Msg("scheduled run not enqueued")
		return err
	}

	log.Info().
		Str("schedule_id", schedule.ID).
		Str("schedule_name", schedule.Name).
		Str("task_id", taskID).
		Time("next_run", nextRun).
		Msg("scheduled task enqueued")

	return nil
}

// ValidateCronExpression validates a cron expression
func ValidateCronExpression(expr string) error {
	_, err := cron.ParseStandard(expr)
	return err
}

// NextRunTime calculates the next run time for a cron expression
func NextRunTime(expr string, from time.Time) (time.Time, error) {
	cronSchedule, err := cron.ParseStandard(expr)
	if err != nil {
		return time.Time{}, err
	}
	return cronSchedule.Next(from), nil
}
