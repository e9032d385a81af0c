package domain

import "time"

// Task is one pending unit of work. Priority, ScheduledAt and ID are recoverable
// from Name alone; Payload is only filled once the file body has been read.
type Task struct {
	ID          string
	Priority    int // lower runs first
	ScheduledAt time.Time
	Payload     []byte
	Name        string // file name inside the queue directory
}

// Due reports whether the task may be claimed at now.
func (t Task) Due(now time.Time) bool {
	return !t.ScheduledAt.After(now)
}

type Schedule struct {
	ID        string
	Name      string
	CronExpr  string
	Payload   []byte
	Priority  int
	Enabled   bool
	LastRun   *time.Time
	NextRun   time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Outcomes recorded in the completion history.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomeDeleted   = "deleted"
)

type HistoryEntry struct {
	ID          int64
	TaskID      string
	Priority    int
	ScheduledAt time.Time
	Payload     []byte
	Outcome     string
	Error       string
	FinishedAt  time.Time
}
