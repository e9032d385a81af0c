package api

import (
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"net/http/pprof"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"workqueue/internal/codec"
	"workqueue/internal/domain"
	"workqueue/internal/queue"
	"workqueue/internal/scheduler"
	"workqueue/internal/store"
)

//go:embed templates/*.html
var templateFS embed.FS

// exectime formats accepted by the HTML form, interpreted as UTC.
var exectimeFormats = []string{"2006-01-02", "2006-01-02T15:04:05", "2006-01-02 15:04:05"}

type Server struct {
	queue     *queue.Service
	repo      store.Repository
	templates *template.Template
	now       func() time.Time
}

type Options struct {
	APIKey      string
	EnableDebug bool
	Now         func() time.Time
}

func NewServer(q *queue.Service, repo store.Repository, opts Options) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, requestLogger, middleware.Recoverer)

	templates := template.Must(template.New("").Funcs(template.FuncMap{
		"when":    formatWhen,
		"payload": func(b []byte) string { return string(b) },
	}).ParseFS(templateFS, "templates/*.html"))

	now := opts.Now
	if now == nil {
		now = time.Now
	}
	s := &Server{queue: q, repo: repo, templates: templates, now: now}

	r.Get("/health", s.health)
	r.Handle("/metrics", promhttp.Handler())

	// HTML pages
	r.Get("/", s.index)
	r.Get("/list", s.list)
	r.Post("/new", s.newTask)
	r.Post("/delete", s.deleteTask)

	r.Route("/api", func(r chi.Router) {
		r.Use(apiKeyAuth(opts.APIKey))

		r.Get("/next", s.next)
		r.Post("/complete", s.complete)

		r.Post("/tasks", s.enqueue)
		r.Get("/tasks", s.listTasks)
		r.Get("/tasks/{id}", s.getTask)
		r.Delete("/tasks/{id}", s.apiDeleteTask)

		r.Get("/history", s.history)
		r.Post("/history", s.recordHistory)

		r.Post("/schedules", s.createSchedule)
		r.Get("/schedules", s.listSchedules)
		r.Get("/schedules/{id}", s.getSchedule)
		r.Put("/schedules/{id}", s.updateSchedule)
		r.Delete("/schedules/{id}", s.deleteSchedule)
	})

	if opts.EnableDebug {
		r.HandleFunc("/debug/pprof/", pprof.Index)
		r.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		r.HandleFunc("/debug/pprof/profile", pprof.Profile)
		r.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		r.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("took", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}

// apiKeyAuth requires X-API-Key to match key. An empty key disables the check.
func apiKeyAuth(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if key != "" && r.Header.Get("X-API-Key") != key {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// Queue API

func (s *Server) next(w http.ResponseWriter, r *http.Request) {
	t, err := s.queue.ClaimNext(r.Context(), s.now())
	if errors.Is(err, queue.ErrEmpty) {
		writeJSON(w, http.StatusOK, NextResponse{Status: "ok"})
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	out := TaskFromDomain(t, true)
	writeJSON(w, http.StatusOK, NextResponse{Status: "ok", Task: &out})
}

func (s *Server) complete(w http.ResponseWriter, r *http.Request) {
	var req CompleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" {
		http.Error(w, "id is required", http.StatusBadRequest)
		return
	}
	if err := s.queue.CompleteByID(r.Context(), req.ID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{Status: "ok"})
}

func (s *Server) enqueue(w http.ResponseWriter, r *http.Request) {
	var req EnqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	priority := s.queue.DefaultPriority()
	if req.Priority != nil {
		priority = *req.Priority
	}
	var when time.Time
	switch {
	case req.ScheduledAt != nil:
		when = *req.ScheduledAt
	case req.Exectime > 0:
		when = time.Unix(req.Exectime, 0)
	}

	id, err := s.queue.Enqueue(r.Context(), []byte(req.Payload), priority, when)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, EnqueueResponse{ID: id})
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	var (
		tasks []domain.Task
		err   error
	)
	if due, _ := strconv.ParseBool(r.URL.Query().Get("due")); due {
		tasks, err = s.queue.Pending(r.Context(), s.now())
	} else {
		tasks, err = s.queue.All(r.Context())
	}
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]Task, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, TaskFromDomain(t, false))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.queue.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, TaskFromDomain(t, true))
}

func (s *Server) apiDeleteTask(w http.ResponseWriter, r *http.Request) {
	if err := s.remove(r, chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// remove deletes a task on a user's request and records it in the history.
func (s *Server) remove(r *http.Request, id string) error {
	ctx := r.Context()
	t, err := s.queue.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.queue.Complete(ctx, t); err != nil {
		return err
	}
	entry := domain.HistoryEntry{
		TaskID:      t.ID,
		Priority:    t.Priority,
		ScheduledAt: t.ScheduledAt,
		Payload:     t.Payload,
		Outcome:     domain.OutcomeDeleted,
		FinishedAt:  s.now(),
	}
	if err := s.repo.RecordCompletion(ctx, entry); err != nil {
		log.Error().Err(err).Str("task_id", t.ID).Msg("record deletion")
	}
	return nil
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	var (
		entries []domain.HistoryEntry
		err     error
	)
	if taskID := r.URL.Query().Get("task_id"); taskID != "" {
		entries, err = s.repo.TaskHistory(r.Context(), taskID)
	} else {
		entries, err = s.repo.ListHistory(r.Context(), limit)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]HistoryEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, HistoryFromDomain(e))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) recordHistory(w http.ResponseWriter, r *http.Request) {
	var req HistoryEntry
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.TaskID == "" {
		http.Error(w, "task_id is required", http.StatusBadRequest)
		return
	}
	switch req.Outcome {
	case domain.OutcomeSucceeded, domain.OutcomeFailed, domain.OutcomeDeleted:
	default:
		http.Error(w, "unknown outcome", http.StatusBadRequest)
		return
	}
	if req.FinishedAt.IsZero() {
		req.FinishedAt = s.now()
	}
	if err := s.repo.RecordCompletion(r.Context(), req.Domain()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, StatusResponse{Status: "ok"})
}

// Schedules API

type scheduleReq struct {
	Name     string `json:"name"`
	CronExpr string `json:"cron_expr"`
	Payload  string `json:"payload"`
	Priority *int   `json:"priority"`
	Enabled  *bool  `json:"enabled"`
}

type scheduleResp struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	CronExpr string     `json:"cron_expr"`
	Payload  string     `json:"payload"`
	Priority int        `json:"priority"`
	Enabled  bool       `json:"enabled"`
	LastRun  *time.Time `json:"last_run,omitempty"`
	NextRun  time.Time  `json:"next_run"`
}

func scheduleFromDomain(sc domain.Schedule) scheduleResp {
	return scheduleResp{
		ID:       sc.ID,
		Name:     sc.Name,
		CronExpr: sc.CronExpr,
		Payload:  string(sc.Payload),
		Priority: sc.Priority,
		Enabled:  sc.Enabled,
		LastRun:  sc.LastRun,
		NextRun:  sc.NextRun,
	}
}

func (s *Server) createSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}
	if req.CronExpr == "" {
		http.Error(w, "cron_expr is required", http.StatusBadRequest)
		return
	}
	nextRun, err := scheduler.NextRunTime(req.CronExpr, s.now())
	if err != nil {
		http.Error(w, "invalid cron expression: "+err.Error(), http.StatusBadRequest)
		return
	}
	sc := domain.Schedule{
		Name:     req.Name,
		CronExpr: req.CronExpr,
		Payload:  []byte(req.Payload),
		Priority: s.queue.DefaultPriority(),
		Enabled:  true,
		NextRun:  nextRun,
	}
	if req.Priority != nil {
		sc.Priority = *req.Priority
	}
	if req.Enabled != nil {
		sc.Enabled = *req.Enabled
	}
	if _, err := codec.EncodeName(sc.Priority, nextRun, codec.NewID()); err != nil {
		writeError(w, err)
		return
	}

	id, err := s.repo.CreateSchedule(r.Context(), sc)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, EnqueueResponse{ID: id})
}

func (s *Server) listSchedules(w http.ResponseWriter, r *http.Request) {
	schedules, err := s.repo.ListSchedules(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]scheduleResp, 0, len(schedules))
	for _, sc := range schedules {
		out = append(out, scheduleFromDomain(sc))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getSchedule(w http.ResponseWriter, r *http.Request) {
	sc, err := s.repo.GetSchedule(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, scheduleFromDomain(sc))
}

func (s *Server) updateSchedule(w http.ResponseWriter, r *http.Request) {
	sc, err := s.repo.GetSchedule(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	var req scheduleReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if req.Name != "" {
		sc.Name = req.Name
	}
	if req.CronExpr != "" {
		nextRun, err := scheduler.NextRunTime(req.CronExpr, s.now())
		if err != nil {
			http.Error(w, "invalid cron expression: "+err.Error(), http.StatusBadRequest)
			return
		}
		sc.CronExpr = req.CronExpr
		sc.NextRun = nextRun
	}
	if req.Payload != "" {
		sc.Payload = []byte(req.Payload)
	}
	if req.Priority != nil {
		sc.Priority = *req.Priority
	}
	if req.Enabled != nil {
		sc.Enabled = *req.Enabled
	}
	if _, err := codec.EncodeName(sc.Priority, sc.NextRun, codec.NewID()); err != nil {
		writeError(w, err)
		return
	}

	if err := s.repo.UpdateSchedule(r.Context(), sc); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, scheduleFromDomain(sc))
}

func (s *Server) deleteSchedule(w http.ResponseWriter, r *http.Request) {
	if err := s.repo.DeleteSchedule(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HTML pages

type pageData struct {
	Next            *domain.Task
	Items           []domain.Task
	DefaultPriority int
}

func (s *Server) index(w http.ResponseWriter, r *http.Request) {
	data := pageData{DefaultPriority: s.queue.DefaultPriority()}
	t, err := s.queue.Next(r.Context(), s.now())
	if err == nil {
		t.Payload, err = s.queue.Store().LoadPayload(r.Context(), t)
	}
	switch {
	case err == nil:
		data.Next = &t
	case !errors.Is(err, queue.ErrEmpty) && !errors.Is(err, queue.ErrNotFound):
		writeError(w, err)
		return
	}
	s.render(w, "index.html", data)
}

func (s *Server) list(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.queue.All(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	items := make([]domain.Task, 0, len(tasks))
	for _, t := range tasks {
		payload, err := s.queue.Store().LoadPayload(r.Context(), t)
		if errors.Is(err, queue.ErrNotFound) {
			continue
		}
		if err != nil {
			writeError(w, err)
			return
		}
		t.Payload = payload
		items = append(items, t)
	}
	s.render(w, "list.html", pageData{Items: items, DefaultPriority: s.queue.DefaultPriority()})
}

func (s *Server) newTask(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	priority, err := strconv.Atoi(strings.TrimSpace(r.FormValue("priority")))
	if err != nil {
		priority = s.queue.DefaultPriority()
	}
	when := parseExectime(r.FormValue("exectime"))

	if _, err := s.queue.Enqueue(r.Context(), []byte(r.FormValue("payload")), priority, when); err != nil {
		writeError(w, err)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) deleteTask(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	// a task that is already gone was most likely just completed by the worker
	if err := s.remove(r, r.FormValue("id")); err != nil && !errors.Is(err, queue.ErrNotFound) {
		writeError(w, err)
		return
	}
	http.Redirect(w, r, "/list", http.StatusSeeOther)
}

func (s *Server) render(w http.ResponseWriter, name string, data pageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.templates.ExecuteTemplate(w, name, data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// parseExectime reads the form's exectime field. Unparseable or empty input
// means "as soon as possible".
func parseExectime(v string) time.Time {
	v = strings.TrimSpace(v)
	for _, layout := range exectimeFormats {
		if t, err := time.ParseInLocation(layout, v, time.UTC); err == nil {
			return t
		}
	}
	return time.Time{}
}

func formatWhen(t time.Time) string {
	if t.IsZero() {
		return "NOW"
	}
	return t.UTC().Format(time.RFC3339)
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, queue.ErrNotFound), errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, StatusResponse{Status: "not_found", Error: err.Error()})
	case errors.Is(err, queue.ErrExists):
		writeJSON(w, http.StatusConflict, StatusResponse{Status: "exists", Error: err.Error()})
	case errors.Is(err, codec.ErrEncodingOverflow), errors.Is(err, codec.ErrMalformedName):
		writeJSON(w, http.StatusBadRequest, StatusResponse{Status: "invalid", Error: err.Error()})
	default:
		log.Error().Err(err).Msg("request failed")
		writeJSON(w, http.StatusInternalServerError, StatusResponse{Status: "error", Error: err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
