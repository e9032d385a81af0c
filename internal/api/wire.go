package api

import (
	"time"

	"workqueue/internal/domain"
)

// Task is the JSON form of a queued task. Exectime mirrors ScheduledAt in unix
// seconds, with 0 meaning "as soon as possible".
type Task struct {
	ID          string    `json:"id"`
	Priority    int       `json:"priority"`
	ScheduledAt time.Time `json:"scheduled_at"`
	Exectime    int64     `json:"exectime"`
	Payload     *string   `json:"payload,omitempty"`
	Name        string    `json:"name,omitempty"`
}

func TaskFromDomain(t domain.Task, withPayload bool) Task {
	out := Task{ID: t.ID, Priority: t.Priority, ScheduledAt: t.ScheduledAt, Name: t.Name}
	if !t.ScheduledAt.IsZero() {
		out.Exectime = t.ScheduledAt.Unix()
	}
	if withPayload {
		p := string(t.Payload)
		out.Payload = &p
	}
	return out
}

func (t Task) Domain() domain.Task {
	out := domain.Task{ID: t.ID, Priority: t.Priority, ScheduledAt: t.ScheduledAt, Name: t.Name}
	if t.Payload != nil {
		out.Payload = []byte(*t.Payload)
	}
	return out
}

type NextResponse struct {
	Status string `json:"status"`
	Task   *Task  `json:"task"`
}

type CompleteRequest struct {
	ID string `json:"id"`
}

type StatusResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type EnqueueRequest struct {
	Payload     string     `json:"payload"`
	Priority    *int       `json:"priority"`
	ScheduledAt *time.Time `json:"scheduled_at"`
	Exectime    int64      `json:"exectime"`
}

type EnqueueResponse struct {
	ID string `json:"id"`
}

type HistoryEntry struct {
	TaskID      string    `json:"task_id"`
	Priority    int       `json:"priority"`
	ScheduledAt time.Time `json:"scheduled_at"`
	Payload     string    `json:"payload"`
	Outcome     string    `json:"outcome"`
	Error       string    `json:"error,omitempty"`
	FinishedAt  time.Time `json:"finished_at"`
}

func HistoryFromDomain(e domain.HistoryEntry) HistoryEntry {
	return HistoryEntry{
		TaskID:      e.TaskID,
		Priority:    e.Priority,
		ScheduledAt: e.ScheduledAt,
		Payload:     string(e.Payload),
		Outcome:     e.Outcome,
		Error:       e.Error,
		FinishedAt:  e.FinishedAt,
	}
}

func (e HistoryEntry) Domain() domain.HistoryEntry {
	return domain.HistoryEntry{
		TaskID:      e.TaskID,
		Priority:    e.Priority,
		ScheduledAt: e.ScheduledAt,
		Payload:     []byte(e.Payload),
		Outcome:     e.Outcome,
		Error:       e.Error,
		FinishedAt:  e.FinishedAt,
	}
}
