// Package logfile appends each task payload to a text file, one line per task.
package logfile

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"workqueue/internal/domain"
)

const TimestampFormat = "2006-01-02T15:04:05"

// Logfile writes "<UTC timestamp>: <payload>" lines to Path.
type Logfile struct {
	Path string
	Now  func() time.Time

	mu sync.Mutex
}

func New(path string) *Logfile {
	return &Logfile{Path: path, Now: time.Now}
}

func (h *Logfile) Handle(ctx context.Context, t domain.Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now := time.Now
	if h.Now != nil {
		now = h.Now
	}
	line := fmt.Sprintf("%s: %s\n", now().UTC().Format(TimestampFormat), t.Payload)

	h.mu.Lock()
	defer h.mu.Unlock()
	f, err := os.OpenFile(h.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	if _, err := f.WriteString(line); err != nil {
		_ = f.Close()
		return fmt.Errorf("write log file: %w", err)
	}
	return f.Close()
}
