package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"workqueue/internal/domain"
	"workqueue/internal/queue"
	"workqueue/internal/store"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type env struct {
	q    *queue.Service
	repo store.Repository
	h    http.Handler
}

func newEnv(t *testing.T, apiKey string) env {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := sql.Open("sqlite", "file:"+name+"?mode=memory&cache=shared")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	require.NoError(t, store.EnsureSchema(db))
	t.Cleanup(func() { _ = db.Close() })

	qs, err := queue.NewStore(t.TempDir())
	require.NoError(t, err)
	q := queue.NewService(qs, 100)
	repo := store.NewSQLiteRepo(db)
	h := NewServer(q, repo, Options{APIKey: apiKey, Now: func() time.Time { return testNow }})
	return env{q: q, repo: repo, h: h}
}

func (e env) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	e := newEnv(t, "")
	rec := e.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestNext_EmptyQueue(t *testing.T) {
	e := newEnv(t, "")
	rec := e.do(t, http.MethodGet, "/api/next", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","task":null}`, rec.Body.String())
}

func TestNextAndComplete(t *testing.T) {
	e := newEnv(t, "")
	ctx := context.Background()
	_, err := e.q.Enqueue(ctx, []byte("low"), 5, time.Time{})
	require.NoError(t, err)
	urgent, err := e.q.Enqueue(ctx, []byte("urgent"), 1, time.Time{})
	require.NoError(t, err)

	rec := e.do(t, http.MethodGet, "/api/next", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var next NextResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &next))
	require.NotNil(t, next.Task)
	assert.Equal(t, urgent, next.Task.ID)
	assert.Equal(t, 1, next.Task.Priority)
	assert.Equal(t, int64(0), next.Task.Exectime)
	require.NotNil(t, next.Task.Payload)
	assert.Equal(t, "urgent", *next.Task.Payload)

	rec = e.do(t, http.MethodPost, "/api/complete", `{"id":"`+urgent+`"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = e.do(t, http.MethodPost, "/api/complete", `{"id":"`+urgent+`"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"not_found"`)
}

func TestNext_SkipsFutureTask(t *testing.T) {
	e := newEnv(t, "")
	_, err := e.q.Enqueue(context.Background(), []byte("later"), 1, testNow.Add(time.Hour))
	require.NoError(t, err)

	rec := e.do(t, http.MethodGet, "/api/next", "")
	assert.JSONEq(t, `{"status":"ok","task":null}`, rec.Body.String())
}

func TestComplete_RequiresID(t *testing.T) {
	e := newEnv(t, "")
	rec := e.do(t, http.MethodPost, "/api/complete", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEnqueueAndList(t *testing.T) {
	e := newEnv(t, "")
	rec := e.do(t, http.MethodPost, "/api/tasks", `{"payload":"a","priority":3}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created EnqueueResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.NotEmpty(t, created.ID)

	rec = e.do(t, http.MethodPost, "/api/tasks", `{"payload":"b","exectime":`+
		jsonInt(testNow.Add(time.Hour).Unix())+`}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/tasks", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var all []Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &all))
	require.Len(t, all, 2)
	assert.Equal(t, created.ID, all[0].ID)
	assert.Equal(t, 100, all[1].Priority, "default priority")
	assert.Nil(t, all[0].Payload, "listing omits payloads")

	rec = e.do(t, http.MethodGet, "/api/tasks?due=true", "")
	var due []Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &due))
	require.Len(t, due, 1)
	assert.Equal(t, created.ID, due[0].ID)

	rec = e.do(t, http.MethodGet, "/api/tasks/"+created.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.NotNil(t, got.Payload)
	assert.Equal(t, "a", *got.Payload)
}

func TestEnqueue_PriorityOverflow(t *testing.T) {
	e := newEnv(t, "")
	rec := e.do(t, http.MethodPost, "/api/tasks", `{"payload":"x","priority":100000000}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	tasks, err := e.q.All(context.Background())
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestGetTask_NotFound(t *testing.T) {
	e := newEnv(t, "")
	rec := e.do(t, http.MethodGet, "/api/tasks/00000000-0000-0000-0000-000000000000", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteTask_RecordsHistory(t *testing.T) {
	e := newEnv(t, "")
	ctx := context.Background()
	id, err := e.q.Enqueue(ctx, []byte("bye"), 7, time.Time{})
	require.NoError(t, err)

	rec := e.do(t, http.MethodDelete, "/api/tasks/"+id, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = e.do(t, http.MethodDelete, "/api/tasks/"+id, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	hist, err := e.repo.TaskHistory(ctx, id)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, domain.OutcomeDeleted, hist[0].Outcome)
	assert.Equal(t, "bye", string(hist[0].Payload))
}

func TestHistory_RecordAndList(t *testing.T) {
	e := newEnv(t, "")
	rec := e.do(t, http.MethodPost, "/api/history", `{"task_id":"t1","priority":2,"payload":"p","outcome":"failed","error":"boom"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/history", `{"task_id":"t1","outcome":"exploded"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/history?limit=10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []HistoryEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "t1", entries[0].TaskID)
	assert.Equal(t, "boom", entries[0].Error)
	assert.True(t, entries[0].FinishedAt.Equal(testNow))
}

func TestSchedulesCRUD(t *testing.T) {
	e := newEnv(t, "")

	rec := e.do(t, http.MethodPost, "/api/schedules", `{"name":"nightly","cron_expr":"0 3 * * *","payload":"backup"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created EnqueueResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = e.do(t, http.MethodPost, "/api/schedules", `{"name":"bad","cron_expr":"not a cron"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/schedules/"+created.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var sc scheduleResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sc))
	assert.Equal(t, "nightly", sc.Name)
	assert.Equal(t, 100, sc.Priority)
	assert.True(t, sc.Enabled)
	assert.True(t, sc.NextRun.Equal(time.Date(2024, 6, 2, 3, 0, 0, 0, time.UTC)))

	rec = e.do(t, http.MethodPut, "/api/schedules/"+created.ID, `{"enabled":false,"priority":4}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/schedules", "")
	var list []scheduleResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.False(t, list[0].Enabled)
	assert.Equal(t, 4, list[0].Priority)

	rec = e.do(t, http.MethodDelete, "/api/schedules/"+created.ID, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = e.do(t, http.MethodDelete, "/api/schedules/"+created.ID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPIKey(t *testing.T) {
	e := newEnv(t, "secret")

	rec := e.do(t, http.MethodGet, "/api/next", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/next", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	e.h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// pages and health stay open
	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/health", "").Code)
	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/", "").Code)
}

func TestPages(t *testing.T) {
	e := newEnv(t, "")
	ctx := context.Background()

	rec := e.do(t, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "No task is due.")

	id, err := e.q.Enqueue(ctx, []byte("hello <world>"), 2, time.Time{})
	require.NoError(t, err)

	rec = e.do(t, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), id)
	assert.Contains(t, rec.Body.String(), "hello &lt;world&gt;")
	assert.Contains(t, rec.Body.String(), "NOW")

	rec = e.do(t, http.MethodGet, "/list", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), id)

	// viewing the page does not consume the task
	tasks, err := e.q.All(ctx)
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
}

func postForm(e env, target string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	e.h.ServeHTTP(rec, req)
	return rec
}

func TestFormNewAndDelete(t *testing.T) {
	e := newEnv(t, "")
	ctx := context.Background()

	rec := postForm(e, "/new", url.Values{
		"priority": {"abc"},
		"exectime": {"2030-01-02 03:04:05"},
		"payload":  {"from form"},
	})
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))

	tasks, err := e.q.All(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, 100, tasks[0].Priority, "unparseable priority falls back to the default")
	assert.True(t, tasks[0].ScheduledAt.Equal(time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)))

	rec = postForm(e, "/delete", url.Values{"id": {tasks[0].ID}})
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/list", rec.Header().Get("Location"))

	tasks, err = e.q.All(ctx)
	require.NoError(t, err)
	assert.Empty(t, tasks)

	// deleting again is not an error for the form
	rec = postForm(e, "/delete", url.Values{"id": {"00000000-0000-0000-0000-000000000000"}})
	assert.Equal(t, http.StatusSeeOther, rec.Code)
}

func TestParseExectime(t *testing.T) {
	assert.True(t, parseExectime("").IsZero())
	assert.True(t, parseExectime("tomorrow").IsZero())
	assert.True(t, parseExectime("2024-05-06").Equal(time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC)))
	assert.True(t, parseExectime("2024-05-06T07:08:09").Equal(time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)))
}

func TestMetricsEndpoint(t *testing.T) {
	e := newEnv(t, "")
	rec := e.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "workqueue_")
}

func jsonInt(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}
