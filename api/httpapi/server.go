package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/avolokh/taskmind/internal/observability"
	"github.com/avolokh/taskmind/internal/queue"
	"github.com/avolokh/taskmind/internal/store"
)

type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
	store      *store.Store
	queue      *queue.Queue
}

type Config struct {
	Port string
}

func NewServer(cfg Config, logger *zap.Logger, st *store.Store, q *queue.Queue) *Server {
	r := mux.NewRouter()

	routeName := func(r *http.Request) string {
		if rt := mux.CurrentRoute(r); rt != nil {
			if tpl, err := rt.GetPathTemplate(); err == nil && tpl != "" {
				return tpl
			}
		}
		return r.URL.Path
	}

	// Middlewares (order matters)
	r.Use(observability.RequestIDMiddleware)
	r.Use(observability.TracingMiddleware(routeName))
	r.Use(observability.HTTPMetricsMiddleware(routeName))
	r.Use(observability.AccessLogMiddleware(logger, routeName))

	srv := &Server{
		logger: logger,
		store:  st,
		queue:  q,
	}

	// Metrics
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	// Health and operational surface
	r.HandleFunc("/api/v1/health", srv.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/stats", srv.handleStats).Methods(http.MethodGet)

	// Tasks
	r.HandleFunc("/api/v1/tasks", srv.handleCreateTask).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/tasks", srv.handleListTasks).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/tasks/{id}", srv.handleGetTask).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/tasks/{id}", srv.handleUpdateTask).Methods(http.MethodPatch)
	r.HandleFunc("/api/v1/tasks/{id}", srv.handleDeleteTask).Methods(http.MethodDelete)

	// Task executions
	r.HandleFunc("/api/v1/tasks/{id}/executions", srv.handleListExecutions).Methods(http.MethodGet)

	// Incoming calendar events
	r.HandleFunc("/api/v1/events", srv.handleIngestEvent).Methods(http.MethodPost)

	// Owner profiles
	r.HandleFunc("/api/v1/owners/{id}", srv.handleGetOwner).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/owners/{id}", srv.handleUpsertOwner).Methods(http.MethodPut)

	s := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	srv.httpServer = s
	return srv
}

func (s *Server) Start() error {
	s.logger.Info("HTTP server starting", zap.String("addr", s.httpServer.Addr))
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("HTTP server shutting down")
	return s.httpServer.Shutdown(ctx)
}
