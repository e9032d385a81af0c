package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"workqueue/internal/domain"
	"workqueue/internal/queue"
)

type memRecorder struct {
	mu      sync.Mutex
	entries []domain.HistoryEntry
}

func (m *memRecorder) RecordCompletion(_ context.Context, e domain.HistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func newQueue(t *testing.T) *queue.Service {
	t.Helper()
	s, err := queue.NewStore(t.TempDir())
	require.NoError(t, err)
	return queue.NewService(s, 100)
}

func TestProcessNext_HandlesInOrder(t *testing.T) {
	q := newQueue(t)
	ctx := context.Background()
	for _, p := range []int{5, 1, 3} {
		_, err := q.Enqueue(ctx, []byte{byte('0' + p)}, p, time.Time{})
		require.NoError(t, err)
	}

	var seen []string
	rec := &memRecorder{}
	w := New(q, HandlerFunc(func(_ context.Context, tk domain.Task) error {
		seen = append(seen, string(tk.Payload))
		return nil
	}), time.Second, WithRecorder(rec))

	for i := 0; i < 3; i++ {
		ok, err := w.ProcessNext(ctx)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := w.ProcessNext(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, []string{"1", "3", "5"}, seen)
	require.Len(t, rec.entries, 3)
	assert.Equal(t, domain.OutcomeSucceeded, rec.entries[0].Outcome)

	left, err := q.All(ctx)
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestProcessNext_FailedTaskIsRemovedAndRecorded(t *testing.T) {
	q := newQueue(t)
	ctx := context.Background()
	id, err := q.Enqueue(ctx, []byte("bad"), 1, time.Time{})
	require.NoError(t, err)

	rec := &memRecorder{}
	w := New(q, HandlerFunc(func(context.Context, domain.Task) error {
		return errors.New("boom")
	}), time.Second, WithRecorder(rec))

	ok, err := w.ProcessNext(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	require.Len(t, rec.entries, 1)
	assert.Equal(t, id, rec.entries[0].TaskID)
	assert.Equal(t, domain.OutcomeFailed, rec.entries[0].Outcome)
	assert.Equal(t, "boom", rec.entries[0].Error)

	_, err = q.Get(ctx, id)
	assert.ErrorIs(t, err, queue.ErrNotFound)
}

func TestProcessNext_RespectsClock(t *testing.T) {
	q := newQueue(t)
	ctx := context.Background()
	when := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := q.Enqueue(ctx, []byte("future"), 1, when)
	require.NoError(t, err)

	clock := when.Add(-time.Second)
	w := New(q, HandlerFunc(func(context.Context, domain.Task) error { return nil }), time.Second,
		WithClock(func() time.Time { return clock }))

	ok, err := w.ProcessNext(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	clock = when
	ok, err = w.ProcessNext(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestProcessNext_CompletedElsewhere(t *testing.T) {
	q := newQueue(t)
	ctx := context.Background()
	id, err := q.Enqueue(ctx, []byte("raced"), 1, time.Time{})
	require.NoError(t, err)

	rec := &memRecorder{}
	w := New(q, HandlerFunc(func(ctx context.Context, tk domain.Task) error {
		// another worker finishes first
		return q.CompleteByID(ctx, id)
	}), time.Second, WithRecorder(rec))

	ok, err := w.ProcessNext(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, rec.entries, "only the worker whose complete succeeded records it")
}

type failingSource struct{ err error }

func (f failingSource) ClaimNext(context.Context, time.Time) (domain.Task, error) {
	return domain.Task{}, f.err
}
func (f failingSource) Complete(context.Context, domain.Task) error { return nil }

func TestProcessNext_SourceError(t *testing.T) {
	boom := errors.New("disk gone")
	w := New(failingSource{err: boom}, HandlerFunc(func(context.Context, domain.Task) error { return nil }), time.Second)
	_, err := w.ProcessNext(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestRun_DrainsAndStops(t *testing.T) {
	q := newQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	handled := 0
	w := New(q, HandlerFunc(func(context.Context, domain.Task) error {
		mu.Lock()
		handled++
		mu.Unlock()
		return nil
	}), 10*time.Millisecond)

	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	for i := 0; i < 5; i++ {
		_, err := q.Enqueue(context.Background(), []byte("x"), i, time.Time{})
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return handled == 5
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}
