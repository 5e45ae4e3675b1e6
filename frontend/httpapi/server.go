// Package httpapi exposes runs over HTTP: blocking runs, SSE streaming,
// status, and an HTML report. Everything except /health sits behind an
// optional bearer token.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	taskforce "github.com/nevindra/taskforce"
)

// runDoneSentinel terminates an SSE stream when the run ends without a
// run_complete event (abort, transport error).
const runDoneSentinel = "_run_done_"

// Server wires the engine into HTTP handlers.
type Server struct {
	engine *taskforce.Engine
	apiKey string
	logger *slog.Logger
	mux    *http.ServeMux
}

// Option configures a Server.
type Option func(*Server)

// WithAPIKey enables the bearer gate on everything except /health.
func WithAPIKey(key string) Option {
	return func(s *Server) { s.apiKey = key }
}

// WithLogger sets the logger. Nil discards.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates the HTTP server around an engine.
func New(engine *taskforce.Engine, opts ...Option) *Server {
	s := &Server{
		engine: engine,
		logger: nopLogger,
		mux:    http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /run", s.auth(s.handleRun))
	s.mux.HandleFunc("POST /run/stream", s.auth(s.handleRunStream))
	s.mux.HandleFunc("GET /runs/{id}/status", s.auth(s.handleStatus))
	s.mux.HandleFunc("GET /runs/{id}/report", s.auth(s.handleReport))
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.mux }

// ListenAndServe serves on addr until the context is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.mux}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.logger.Info("http server listening", "addr", addr)
	select {
	case <-ctx.Done():
		shutdownCtx := context.WithoutCancel(ctx)
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// auth wraps a handler with the bearer gate. Without a configured key the
// gate is open.
func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey != "" {
			token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if token != s.apiKey {
				writeError(w, http.StatusUnauthorized, "invalid or missing bearer token")
				return
			}
		}
		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// runRequest is the body of POST /run and POST /run/stream.
type runRequest struct {
	Prompt         string `json:"prompt"`
	Pack           string `json:"pack,omitempty"`
	ModelKey       string `json:"model_key,omitempty"`
	NetworkAllowed bool   `json:"network_allowed,omitempty"`
}

func decodeRunRequest(r *http.Request) (taskforce.Task, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return taskforce.Task{}, fmt.Errorf("read body: %w", err)
	}
	var req runRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return taskforce.Task{}, fmt.Errorf("invalid JSON: %w", err)
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return taskforce.Task{}, fmt.Errorf("prompt is required")
	}
	return taskforce.Task{
		Prompt:         req.Prompt,
		SpecialistID:   req.Pack,
		ModelKey:       req.ModelKey,
		NetworkAllowed: req.NetworkAllowed,
	}, nil
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	task, err := decodeRunRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	result, err := s.engine.Run(r.Context(), task)
	if err != nil {
		s.logger.Error("run failed", "error", err)
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleRunStream runs the task while relaying every run event as one SSE
// frame `data: {kind,data,step}`. The stream ends with run_complete, or
// with the _run_done_ sentinel when the run aborted first.
func (s *Server) handleRunStream(w http.ResponseWriter, r *http.Request) {
	task, err := decodeRunRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	events := make(chan taskforce.RunEvent, 64)
	done := make(chan error, 1)
	go func() {
		_, err := s.engine.RunStream(r.Context(), task, events)
		close(events)
		done <- err
	}()

	sawComplete := false
	for ev := range events {
		frame, err := json.Marshal(map[string]any{
			"kind": ev.Kind,
			"data": ev.Payload,
			"step": ev.Step,
		})
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", frame)
		flusher.Flush()
		if ev.Kind == taskforce.EventRunComplete {
			sawComplete = true
		}
	}
	if err := <-done; err != nil && !sawComplete {
		frame, _ := json.Marshal(map[string]any{
			"kind": runDoneSentinel,
			"data": map[string]any{"error": err.Error()},
		})
		fmt.Fprintf(w, "data: %s\n\n", frame)
		flusher.Flush()
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	repo := s.engine.Repository()
	if _, err := repo.OpenRun(runID); err != nil {
		writeError(w, http.StatusNotFound, "unknown run: "+runID)
		return
	}
	events, err := repo.ReadRunEvents(runID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	status := "running"
	resp := map[string]any{"run_id": runID}
	for _, ev := range events {
		switch ev.Kind {
		case taskforce.EventRunComplete:
			status = "completed"
			if ids, ok := ev.Payload["specialist_ids"]; ok {
				resp["specialist_ids"] = ids
			}
		case taskforce.EventOrchestrationPlan:
			if mode, ok := ev.Payload["mode"]; ok {
				resp["task_force_mode"] = mode
			}
			if ids, ok := ev.Payload["assignments"]; ok {
				resp["assignments"] = ids
			}
		}
	}
	resp["status"] = status
	writeJSON(w, http.StatusOK, resp)
}

func statusFor(err error) int {
	switch taskforce.KindOf(err) {
	case taskforce.KindRecruitError, taskforce.KindInvalidArgs:
		return http.StatusBadRequest
	case taskforce.KindLLMTransport:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}
