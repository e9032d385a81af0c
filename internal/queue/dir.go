package queue

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"workqueue/internal/codec"
	"workqueue/internal/domain"
)

const tempPrefix = ".tmp-"

// Store is a priority queue kept entirely as files in one directory. It holds
// no task state in memory: every call reads the directory again, so any number
// of processes may share the same directory.
type Store struct {
	dir string

	// beforeCommit runs after the temp file is written and before it is renamed
	// into place. Tests use it to hold a write half done.
	beforeCommit func(tmpPath, finalPath string)
	// beforeRead runs at the start of LoadPayload.
	beforeRead func(t domain.Task)
}

// NewStore opens the queue directory, creating it when missing.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("%w: empty queue directory", ErrStorage)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve %s: %v", ErrStorage, dir, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create %s: %v", ErrStorage, abs, err)
	}
	return &Store{dir: abs}, nil
}

// Dir returns the absolute queue directory.
func (s *Store) Dir() string { return s.dir }

// Add writes t as a new task file and returns it with ID and Name filled in.
// The body goes to a temp file first and is hard-linked to its final name, so
// readers see either nothing or the whole file. Linking fails when the name is
// taken, so an existing task is never replaced; that case yields ErrExists.
// Encoding errors are returned before anything touches the disk.
func (s *Store) Add(ctx context.Context, t domain.Task) (domain.Task, error) {
	if err := ctx.Err(); err != nil {
		return domain.Task{}, err
	}
	if t.ID == "" {
		t.ID = codec.NewID()
	}
	t.ScheduledAt = t.ScheduledAt.UTC().Round(0)
	name, err := codec.EncodeName(t.Priority, t.ScheduledAt, t.ID)
	if err != nil {
		return domain.Task{}, err
	}
	t.Name = name

	tmp, err := os.CreateTemp(s.dir, tempPrefix+"*")
	if err != nil {
		return domain.Task{}, fmt.Errorf("%w: create temp file: %v", ErrStorage, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(codec.SerializePayload(t.Payload)); err != nil {
		_ = tmp.Close()
		return domain.Task{}, fmt.Errorf("%w: write %s: %v", ErrStorage, tmpPath, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return domain.Task{}, fmt.Errorf("%w: sync %s: %v", ErrStorage, tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		return domain.Task{}, fmt.Errorf("%w: close %s: %v", ErrStorage, tmpPath, err)
	}

	finalPath := filepath.Join(s.dir, name)
	if s.beforeCommit != nil {
		s.beforeCommit(tmpPath, finalPath)
	}
	if err := os.Link(tmpPath, finalPath); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return domain.Task{}, fmt.Errorf("%w: %s", ErrExists, t.ID)
		}
		return domain.Task{}, fmt.Errorf("%w: link into %s: %v", ErrStorage, name, err)
	}
	return t, nil
}

// List returns every task file in queue order, including tasks that are not
// due yet. Payloads are not read.
func (s *Store) List(ctx context.Context) ([]domain.Task, error) {
	return s.scan(ctx, func(domain.Task) bool { return true })
}

// ListPending returns the tasks due at now, in queue order. Payloads are not read.
func (s *Store) ListPending(ctx context.Context, now time.Time) ([]domain.Task, error) {
	return s.scan(ctx, func(t domain.Task) bool { return t.Due(now) })
}

// PeekNext returns the first task due at now, or ErrEmpty.
func (s *Store) PeekNext(ctx context.Context, now time.Time) (domain.Task, error) {
	var next domain.Task
	found := false
	_, err := s.scan(ctx, func(t domain.Task) bool {
		if found || !t.Due(now) {
			return false
		}
		next, found = t, true
		return false
	})
	if err != nil {
		return domain.Task{}, err
	}
	if !found {
		return domain.Task{}, ErrEmpty
	}
	return next, nil
}

// Find looks a task up by id. The id alone does not give the file name, so
// this scans the whole directory.
func (s *Store) Find(ctx context.Context, id string) (domain.Task, error) {
	var match domain.Task
	found := false
	_, err := s.scan(ctx, func(t domain.Task) bool {
		if !found && t.ID == id {
			match, found = t, true
		}
		return false
	})
	if err != nil {
		return domain.Task{}, err
	}
	if !found {
		return domain.Task{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return match, nil
}

// LoadPayload reads the body of a task the caller already selected.
func (s *Store) LoadPayload(ctx context.Context, t domain.Task) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.beforeRead != nil {
		s.beforeRead(t)
	}
	path, err := s.path(t)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, t.ID)
		}
		return nil, fmt.Errorf("%w: read %s: %v", ErrStorage, t.Name, err)
	}
	return codec.DeserializePayload(data), nil
}

// Remove deletes the task file. A file that is already gone yields ErrNotFound.
func (s *Store) Remove(ctx context.Context, t domain.Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.path(t)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, t.ID)
		}
		return fmt.Errorf("%w: remove %s: %v", ErrStorage, t.Name, err)
	}
	return nil
}

// scan decodes every task name in the directory and keeps the ones accepted by
// keep. os.ReadDir sorts entries by name, which is queue order.
func (s *Store) scan(ctx context.Context, keep func(domain.Task) bool) ([]domain.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrStorage, s.dir, err)
	}

	var tasks []domain.Task
	for _, e := range entries {
		// symlinks and other special files are not tasks even with a task name
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), tempPrefix) {
			continue
		}
		t, err := decode(e.Name())
		if err != nil {
			log.Debug().Err(err).Str("entry", e.Name()).Msg("skipping foreign queue entry")
			continue
		}
		if keep(t) {
			tasks = append(tasks, t)
		}
	}
	return tasks, nil
}

func (s *Store) path(t domain.Task) (string, error) {
	name := t.Name
	if name == "" {
		var err error
		if name, err = codec.EncodeName(t.Priority, t.ScheduledAt, t.ID); err != nil {
			return "", err
		}
	}
	if filepath.Base(name) != name {
		return "", fmt.Errorf("%w: %q", codec.ErrMalformedName, name)
	}
	return filepath.Join(s.dir, name), nil
}

func decode(name string) (domain.Task, error) {
	priority, scheduled, id, err := codec.DecodeName(name)
	if err != nil {
		return domain.Task{}, err
	}
	return domain.Task{ID: id, Priority: priority, ScheduledAt: scheduled, Name: name}, nil
}
