package queue

import "errors"

var (
	// ErrEmpty means no due task is present. It is an ordinary outcome.
	ErrEmpty = errors.New("no tasks ready")
	// ErrNotFound means the task file is already gone, usually because another
	// process completed it first.
	ErrNotFound = errors.New("task not found")
	// ErrExists means a task with the same name is already queued.
	ErrExists = errors.New("task already exists")
	// ErrStorage wraps filesystem failures.
	ErrStorage = errors.New("queue storage failure")
)
