// ABOUTME: HTTP server exposing the task runner behind a chi router: status views, run control, and live events.
// ABOUTME: Runs started over HTTP execute in the background; at most one is active per server.
package web

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"log"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/2389-research/taskrunner/render"
	"github.com/2389-research/taskrunner/runner"
)

// ServerConfig holds the configuration for the web server.
type ServerConfig struct {
	Addr    string // listen address (default: "127.0.0.1:2389")
	BaseDir string // project base directory
	Config  runner.Config
	Logger  *log.Logger
	Options []runner.Option // extra runner options
}

// Server serves one project base directory.
type Server struct {
	runner    *runner.Runner
	hub       *EventHub
	cache     *render.RenderCache
	templates *TemplateEngine
	router    chi.Router
	addr      string
	logger    *log.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	active bool
	last   *runner.RunSummary
}

// NewServer opens the base directory and sets up routing.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:2389"
	}
	if cfg.BaseDir == "" {
		return nil, errors.New("BaseDir must not be empty")
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}

	tmpl, err := NewTemplateEngine()
	if err != nil {
		return nil, fmt.Errorf("initializing templates: %w", err)
	}

	hub := NewEventHub(200)
	opts := append([]runner.Option{
		runner.WithLogger(cfg.Logger),
		runner.WithEventHandler(hub.Publish),
	}, cfg.Options...)
	r, err := runner.New(cfg.BaseDir, cfg.Config, opts...)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		runner:    r,
		hub:       hub,
		cache:     render.NewRenderCache(render.Render, 30*time.Second),
		templates: tmpl,
		addr:      cfg.Addr,
		logger:    cfg.Logger,
		ctx:       ctx,
		cancel:    cancel,
	}
	s.router = s.buildRouter()
	return s, nil
}

// Runner exposes the underlying runner.
func (s *Server) Runner() *runner.Runner { return s.runner }

// ServeHTTP delegates to the chi router, satisfying http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves until ctx is cancelled, then shuts down and stops
// any background run.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.logger.Printf("component=web action=listening addr=%s", s.addr)

	select {
	case err := <-errCh:
		s.Close()
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.Close()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Close interrupts any background run, waits for it, and releases the runner.
func (s *Server) Close() error {
	s.cancel()
	s.wg.Wait()
	return s.runner.Close()
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleHome)
	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Get("/status.txt", s.handleStatusText)
	r.Get("/events", s.handleEvents)
	r.Get("/runs/last", s.handleLastRun)

	r.Post("/run", s.handleRun)
	r.Post("/stop", s.handleStop)
	r.Post("/clean", s.handleClean)

	r.Route("/tasks", func(r chi.Router) {
		r.Get("/", s.handleTaskList)
		r.Route("/{taskID}", func(r chi.Router) {
			r.Get("/", s.handleTask)
			r.Get("/result", s.handleTaskResult)
			r.Get("/history", s.handleTaskHistory)
			r.Post("/run", s.handleTaskRun)
		})
	})
	return r
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	body, err := s.cache.Render(r.Context(), s.runner.Status(), render.FormatHTML)
	if err != nil {
		s.logger.Printf("component=web action=render_home err=%v", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	busy := s.busy()
	data := PageData{
		Title: "taskrunner",
		Body:  template.HTML(body),
		Busy:  busy,
	}
	if busy {
		data.Refresh = 2
	}
	if err := s.templates.Render(w, data); err != nil {
		s.logger.Printf("component=web action=render_home err=%v", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

var contentTypes = map[string]string{
	render.FormatJSON:     "application/json",
	render.FormatText:     "text/plain; charset=utf-8",
	render.FormatTable:    "text/plain; charset=utf-8",
	render.FormatMarkdown: "text/markdown; charset=utf-8",
	render.FormatHTML:     "text/html; charset=utf-8",
}

// handleStatus renders the status report; ?format= selects json (default),
// text, table, markdown, or html.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = render.FormatJSON
	}
	s.writeStatus(w, r, format)
}

// handleStatusText is the plain-text status for curl and watch.
func (s *Server) handleStatusText(w http.ResponseWriter, r *http.Request) {
	s.writeStatus(w, r, render.FormatText)
}

func (s *Server) writeStatus(w http.ResponseWriter, r *http.Request, format string) {
	ct, ok := contentTypes[format]
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Errorf("unsupported format %q", format))
		return
	}
	data, err := s.cache.Render(r.Context(), s.runner.Status(), format)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", ct)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// handleEvents streams runner events as server-sent events, replaying the
// recent history first.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	history, eventsCh, unsubscribe := s.hub.SubscribeWithHistory()
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	flusher, canFlush := w.(http.Flusher)
	for _, evt := range history {
		fmt.Fprint(w, evt.Format())
	}
	if canFlush {
		flusher.Flush()
	}

	for {
		select {
		case evt, ok := <-eventsCh:
			if !ok {
				return
			}
			fmt.Fprint(w, evt.Format())
			if canFlush {
				flusher.Flush()
			}
		case <-r.Context().Done():
			return
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Server) handleLastRun(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	last := s.last
	s.mu.Unlock()
	if last == nil {
		writeError(w, http.StatusNotFound, errors.New("no run has finished in this server"))
		return
	}
	writeJSON(w, http.StatusOK, last)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	started := s.startBackground(func(ctx context.Context) {
		sum := s.runner.RunAll(ctx)
		s.mu.Lock()
		s.last = &sum
		s.mu.Unlock()
	})
	if !started {
		s.respond(w, r, http.StatusConflict, map[string]string{"error": runner.ErrRunInProgress.Error()})
		return
	}
	s.respond(w, r, http.StatusAccepted, map[string]string{"status": "started"})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if !s.runner.Stop() {
		s.respond(w, r, http.StatusConflict, map[string]string{"error": "no run in progress"})
		return
	}
	s.respond(w, r, http.StatusAccepted, map[string]string{"status": "stopping"})
}

func (s *Server) handleClean(w http.ResponseWriter, r *http.Request) {
	if err := s.runner.Clean(); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.respond(w, r, http.StatusOK, s.runner.Status())
}

func (s *Server) handleTaskList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.runner.Status().Tasks)
}

func (s *Server) handleTask(w http.ResponseWriter, r *http.Request) {
	task, ok := s.lookupTask(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleTaskResult(w http.ResponseWriter, r *http.Request) {
	task, ok := s.lookupTask(w, r)
	if !ok {
		return
	}
	data, err := os.ReadFile(task.ResultPath)
	if errors.Is(err, os.ErrNotExist) {
		writeError(w, http.StatusNotFound, fmt.Errorf("task %d has no result yet", task.ID))
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (s *Server) handleTaskHistory(w http.ResponseWriter, r *http.Request) {
	task, ok := s.lookupTask(w, r)
	if !ok {
		return
	}
	entries, err := s.runner.History(task.ID)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	if entries == nil {
		entries = []runner.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleTaskRun(w http.ResponseWriter, r *http.Request) {
	task, ok := s.lookupTask(w, r)
	if !ok {
		return
	}
	if task.State == runner.StateRunning {
		s.respond(w, r, http.StatusConflict, map[string]string{"error": runner.ErrTaskRunning.Error()})
		return
	}
	started := s.startBackground(func(ctx context.Context) {
		if _, err := s.runner.RunOne(ctx, task.ID); err != nil {
			s.logger.Printf("component=web action=run_task task=%d err=%v", task.ID, err)
		}
	})
	if !started {
		s.respond(w, r, http.StatusConflict, map[string]string{"error": runner.ErrRunInProgress.Error()})
		return
	}
	s.respond(w, r, http.StatusAccepted, map[string]any{"status": "started", "task_id": task.ID})
}

// lookupTask resolves {taskID}, writing 400 or 404 itself on failure.
func (s *Server) lookupTask(w http.ResponseWriter, r *http.Request) (runner.Task, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "taskID"))
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid task id %q", chi.URLParam(r, "taskID")))
		return runner.Task{}, false
	}
	task, err := s.runner.Store().Get(id)
	if errors.Is(err, runner.ErrTaskNotFound) {
		writeError(w, http.StatusNotFound, err)
		return runner.Task{}, false
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return runner.Task{}, false
	}
	return task, true
}

// startBackground runs fn on the server context unless a run is active.
func (s *Server) startBackground(fn func(ctx context.Context)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active || s.runner.Busy() || s.ctx.Err() != nil {
		return false
	}
	s.active = true
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn(s.ctx)
		s.mu.Lock()
		s.active = false
		s.mu.Unlock()
	}()
	return true
}

func (s *Server) busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// respond answers dashboard form posts with a redirect home and API
// clients with JSON.
func (s *Server) respond(w http.ResponseWriter, r *http.Request, status int, v any) {
	if r.Header.Get("Content-Type") == "application/x-www-form-urlencoded" {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	writeJSON(w, status, v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := render.JSON(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
