package core

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

// APIServer exposes run status and stop controls over HTTP.
type APIServer struct {
	controller *RunController
	runID      string
	router     *mux.Router
	handler    http.Handler
	server     *http.Server
	startTime  time.Time
	logger     *zap.Logger
}

// NewAPIServer creates a new API server for one run.
func NewAPIServer(controller *RunController, runID string, logger *zap.Logger) *APIServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	server := &APIServer{
		controller: controller,
		runID:      runID,
		router:     mux.NewRouter(),
		startTime:  time.Now(),
		logger:     logger.With(zap.String("component", "api")),
	}

	// Register routes
	server.setupRoutes()
	server.handler = cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler(server.router)
	return server
}

func (s *APIServer) setupRoutes() {
	s.router.HandleFunc("/api/v1/run", s.handleGetRun).Methods("GET")
	s.router.HandleFunc("/api/v1/run/stop", s.handleStop).Methods("POST")
	s.router.HandleFunc("/api/v1/tasks", s.handleGetTasks).Methods("GET")
	s.router.HandleFunc("/api/v1/tasks/{taskId:.+}", s.handleGetTask).Methods("GET")

	// Add middleware
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.recoveryMiddleware)
}

// ServeHTTP implements the http.Handler interface
func (s *APIServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Start listens on addr until Shutdown is called.
func (s *APIServer) Start(addr string) error {
	s.server = &http.Server{Addr: addr, Handler: s.handler, ReadHeaderTimeout: 10 * time.Second}
	s.logger.Info("api server listening", zap.String("addr", addr))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *APIServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *APIServer) handleGetRun(w http.ResponseWriter, r *http.Request) {
	snap := s.controller.Snapshot()
	s.sendJSON(w, http.StatusOK, RunStatusResponse{
		RunID:     s.runID,
		Level:     snap.Level,
		Reason:    snap.Reason,
		Counts:    snap.Counts,
		Abandoned: snap.Abandoned,
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
	})
}

func (s *APIServer) handleGetTasks(w http.ResponseWriter, r *http.Request) {
	state := TaskState(strings.ToLower(r.URL.Query().Get("state")))
	switch state {
	case "":
		s.sendJSON(w, http.StatusOK, s.controller.Snapshot().Tasks)
	case TaskPending, TaskRunning, TaskDone:
		tasks := s.controller.TasksByState(state)
		if tasks == nil {
			tasks = []Task{}
		}
		s.sendJSON(w, http.StatusOK, tasks)
	default:
		s.sendError(w, http.StatusBadRequest, "state must be pending, running or done")
	}
}

func (s *APIServer) handleGetTask(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	task, ok := s.controller.Task(vars["taskId"])
	if !ok {
		s.sendError(w, http.StatusNotFound, "Task not found")
		return
	}
	s.sendJSON(w, http.StatusOK, task)
}

func (s *APIServer) handleStop(w http.ResponseWriter, r *http.Request) {
	var req StopRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Reason == "" {
		req.Reason = "stop requested over api"
	}

	var changed bool
	switch strings.ToLower(req.Level) {
	case "soft", "":
		changed = s.controller.SoftStop(req.Reason)
	case "hard":
		changed = s.controller.HardStop(req.Reason)
	default:
		s.sendError(w, http.StatusBadRequest, "level must be soft or hard")
		return
	}

	s.sendJSON(w, http.StatusOK, StopResponse{
		Changed: changed,
		Level:   s.controller.Level().String(),
		Reason:  s.controller.Reason(),
	})
}

func (s *APIServer) sendJSON(w http.ResponseWriter, status int, data interface{}) {
	// Marshal JSON to bytes first to catch encoding errors
	jsonData, err := json.Marshal(data)
	if err != nil {
		s.logger.Error("marshal response", zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "Failed to encode response")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(jsonData); err != nil {
		s.logger.Warn("write response", zap.Error(err))
	}
}

func (s *APIServer) sendError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	jsonData, _ := json.Marshal(map[string]string{"error": message})
	if _, err := w.Write(jsonData); err != nil {
		s.logger.Warn("write error response", zap.Error(err))
	}
}

// Middleware functions
func (s *APIServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("elapsed", time.Since(start)))
	})
}

func (s *APIServer) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("panic recovered", zap.Any("panic", err))
				s.sendError(w, http.StatusInternalServerError, "Internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
