// Package metrics holds the prometheus collectors shared by the server and the worker.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"

	"workqueue/internal/domain"
)

var (
	TasksEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "workqueue_tasks_enqueued_total",
		Help: "Tasks written to the queue directory",
	})

	TasksClaimed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "workqueue_tasks_claimed_total",
		Help: "Tasks handed out by claim next",
	})

	// outcome: ok or not_found
	TasksCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "workqueue_tasks_completed_total",
		Help: "Completion attempts by outcome",
	}, []string{"outcome"})

	// state: due or scheduled
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "workqueue_queue_depth",
		Help: "Task files currently in the queue directory",
	}, []string{"state"})

	HandlerDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "workqueue_handler_duration_seconds",
		Help:    "Time spent by the worker handling one task",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})
)

// Lister is the part of the queue the depth collector needs.
type Lister interface {
	All(ctx context.Context) ([]domain.Task, error)
}

// UpdateDepth sets the depth gauges from one directory scan.
func UpdateDepth(ctx context.Context, l Lister, now time.Time) error {
	tasks, err := l.All(ctx)
	if err != nil {
		return err
	}
	var due, scheduled int
	for _, t := range tasks {
		if t.Due(now) {
			due++
		} else {
			scheduled++
		}
	}
	QueueDepth.WithLabelValues("due").Set(float64(due))
	QueueDepth.WithLabelValues("scheduled").Set(float64(scheduled))
	return nil
}

// CollectDepth refreshes the depth gauges every interval until ctx is done.
func CollectDepth(ctx context.Context, l Lister, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if err := UpdateDepth(ctx, l, now); err != nil {
				log.Error().Err(err).Msg("collect queue depth")
			}
		}
	}
}
