// Package store keeps what the queue directory does not: a history of finished
// tasks and the cron schedules that feed the queue. It never holds pending tasks.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"workqueue/internal/domain"
)

var ErrNotFound = errors.New("record not found")

// Open opens a SQLite database at path with WAL enabled and applies the schema.
func Open(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?cache=shared&mode=rwc&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1) // SQLite single writer
	if err := EnsureSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// EnsureSchema creates tables if they don't exist.
func EnsureSchema(db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS task_history (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  task_id TEXT NOT NULL,
  priority INTEGER NOT NULL,
  scheduled_at DATETIME NOT NULL,
  payload BLOB NOT NULL,
  outcome TEXT NOT NULL CHECK(outcome IN ('succeeded','failed','deleted')),
  error TEXT NOT NULL DEFAULT '',
  finished_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_task_history_task ON task_history(task_id);
CREATE INDEX IF NOT EXISTS idx_task_history_finished ON task_history(finished_at);
CREATE TABLE IF NOT EXISTS schedules (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL UNIQUE,
  cron_expr TEXT NOT NULL,
  payload BLOB NOT NULL,
  priority INTEGER NOT NULL DEFAULT 100,
  enabled INTEGER NOT NULL DEFAULT 1,
  last_run DATETIME,
  next_run DATETIME NOT NULL,
  created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_schedules_next_run ON schedules(enabled, next_run);
`
	_, err := db.Exec(schema)
	return err
}

type Repository interface {
	RecordCompletion(ctx context.Context, e domain.HistoryEntry) error
	ListHistory(ctx context.Context, limit int) ([]domain.HistoryEntry, error)
	TaskHistory(ctx context.Context, taskID string) ([]domain.HistoryEntry, error)

	CreateSchedule(ctx context.Context, s domain.Schedule) (string, error)
	GetSchedule(ctx context.Context, id string) (domain.Schedule, error)
	GetScheduleByName(ctx context.Context, name string) (domain.Schedule, error)
	ListSchedules(ctx context.Context) ([]domain.Schedule, error)
	UpdateSchedule(ctx context.Context, s domain.Schedule) error
	DeleteSchedule(ctx context.Context, id string) error
	GetDueSchedules(ctx context.Context, now time.Time) ([]domain.Schedule, error)
	UpdateScheduleLastRun(ctx context.Context, id string, lastRun, nextRun time.Time) error
}

type sqliteRepo struct{ db *sql.DB }

func NewSQLiteRepo(db *sql.DB) Repository { return &sqliteRepo{db: db} }

func (r *sqliteRepo) RecordCompletion(ctx context.Context, e domain.HistoryEntry) error {
	if e.FinishedAt.IsZero() {
		e.FinishedAt = time.Now()
	}
	if e.Payload == nil {
		e.Payload = []byte{}
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO task_history (task_id,priority,scheduled_at,payload,outcome,error,finished_at)
VALUES (?,?,?,?,?,?,?)`,
		e.TaskID, e.Priority, e.ScheduledAt.UTC(), e.Payload, e.Outcome, e.Error, e.FinishedAt.UTC())
	return err
}

const historyColumns = `id,task_id,priority,scheduled_at,payload,outcome,error,finished_at`

func (r *sqliteRepo) ListHistory(ctx context.Context, limit int) ([]domain.HistoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT `+historyColumns+`
FROM task_history ORDER BY finished_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	return scanHistory(rows)
}

func (r *sqliteRepo) TaskHistory(ctx context.Context, taskID string) ([]domain.HistoryEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT `+historyColumns+`
FROM task_history WHERE task_id=? ORDER BY id`, taskID)
	if err != nil {
		return nil, err
	}
	return scanHistory(rows)
}

func scanHistory(rows *sql.Rows) ([]domain.HistoryEntry, error) {
	defer rows.Close()

	var entries []domain.HistoryEntry
	for rows.Next() {
		var e domain.HistoryEntry
		if err := rows.Scan(&e.ID, &e.TaskID, &e.Priority, &e.ScheduledAt, &e.Payload, &e.Outcome, &e.Error, &e.FinishedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *sqliteRepo) CreateSchedule(ctx context.Context, s domain.Schedule) (string, error) {
	id := s.ID
	if id == "" {
		id = "sch_" + uuid.NewString()
	}
	if s.Payload == nil {
		s.Payload = []byte{}
	}

	_, err := r.db.ExecContext(ctx, `
INSERT INTO schedules (id,name,cron_expr,payload,priority,enabled,last_run,next_run,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,CURRENT_TIMESTAMP,CURRENT_TIMESTAMP)
`, id, s.Name, s.CronExpr, s.Payload, s.Priority, s.Enabled, s.LastRun, s.NextRun.UTC())
	return id, err
}

const scheduleColumns = `id,name,cron_expr,payload,priority,enabled,last_run,next_run,created_at,updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSchedule(row rowScanner) (domain.Schedule, error) {
	var s domain.Schedule
	var lastRun sql.NullTime
	if err := row.Scan(&s.ID, &s.Name, &s.CronExpr, &s.Payload, &s.Priority, &s.Enabled, &lastRun, &s.NextRun, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return domain.Schedule{}, err
	}
	if lastRun.Valid {
		s.LastRun = &lastRun.Time
	}
	return s, nil
}

func (r *sqliteRepo) GetSchedule(ctx context.Context, id string) (domain.Schedule, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+scheduleColumns+` FROM schedules WHERE id=?`, id)
	s, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Schedule{}, fmt.Errorf("%w: schedule %s", ErrNotFound, id)
	}
	return s, err
}

func (r *sqliteRepo) GetScheduleByName(ctx context.Context, name string) (domain.Schedule, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+scheduleColumns+` FROM schedules WHERE name=?`, name)
	s, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Schedule{}, fmt.Errorf("%w: schedule %q", ErrNotFound, name)
	}
	return s, err
}

func (r *sqliteRepo) ListSchedules(ctx context.Context) ([]domain.Schedule, error) {
	return r.querySchedules(ctx, `SELECT `+scheduleColumns+` FROM schedules ORDER BY name`)
}

func (r *sqliteRepo) GetDueSchedules(ctx context.Context, now time.Time) ([]domain.Schedule, error) {
	return r.querySchedules(ctx, `SELECT `+scheduleColumns+`
FROM schedules WHERE enabled=1 AND next_run <= ? ORDER BY next_run`, now.UTC())
}

func (r *sqliteRepo) querySchedules(ctx context.Context, query string, args ...any) ([]domain.Schedule, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var schedules []domain.Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, s)
	}
	return schedules, rows.Err()
}

func (r *sqliteRepo) UpdateSchedule(ctx context.Context, s domain.Schedule) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE schedules SET name=?,cron_expr=?,payload=?,priority=?,enabled=?,next_run=?,updated_at=CURRENT_TIMESTAMP
WHERE id=?`, s.Name, s.CronExpr, s.Payload, s.Priority, s.Enabled, s.NextRun.UTC(), s.ID)
	if err != nil {
		return err
	}
	return expectRow(res, s.ID)
}

func (r *sqliteRepo) DeleteSchedule(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM schedules WHERE id=?", id)
	if err != nil {
		return err
	}
	return expectRow(res, id)
}

func (r *sqliteRepo) UpdateScheduleLastRun(ctx context.Context, id string, lastRun, nextRun time.Time) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE schedules SET last_run=?,next_run=?,updated_at=CURRENT_TIMESTAMP WHERE id=?`, lastRun.UTC(), nextRun.UTC(), id)
	if err != nil {
		return err
	}
	return expectRow(res, id)
}

func expectRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: schedule %s", ErrNotFound, id)
	}
	return nil
}
