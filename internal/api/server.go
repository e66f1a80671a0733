// Package api exposes the daemon's small ops surface: health, metrics and
// last-run status.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/quickdigest/collector/internal/metrics"
	"github.com/quickdigest/collector/internal/store"
)

// Server is the ops HTTP server run alongside the daemon loop.
type Server struct {
	srv *http.Server
	log *zap.Logger
}

// New builds the server on the given port.
func New(port int, st *store.Store, log *zap.Logger) *Server {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	r.Handle("/metrics", metrics.Handler())
	r.Get("/status", statusHandler(st, log))

	return &Server{
		srv: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
		},
		log: log,
	}
}

func statusHandler(st *store.Store, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lastRun, ok, err := st.LastSystemRun(r.Context())
		if err != nil {
			log.Error("status query failed", zap.Error(err))
			http.Error(w, "status query failed", http.StatusInternalServerError)
			return
		}

		status := struct {
			LastRun *time.Time `json:"lastRun"`
		}{}
		if ok {
			status.LastRun = &lastRun
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(status)
	}
}

// Start blocks serving requests until Shutdown.
func (s *Server) Start() error {
	s.log.Info("ops server listening", zap.String("addr", s.srv.Addr))
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
