// Package api serves the run's live status over HTTP: a JSON snapshot, an
// SSE stream, and a WebSocket push channel for dashboards.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/transitwise/graph-orchestrator/internal/progress"
	"github.com/transitwise/graph-orchestrator/internal/runstore"
)

// StatusSource provides the current run status snapshot
type StatusSource interface {
	Status() progress.Status
}

// Server is the HTTP status server
type Server struct {
	source StatusSource
	store  *runstore.Store
	log    *slog.Logger
	addr   string
	mux    *http.ServeMux
	hub    *Hub

	httpServer *http.Server
}

// NewServer creates a new status server. store may be nil when run history
// is disabled.
func NewServer(source StatusSource, store *runstore.Store, addr string, log *slog.Logger) *Server {
	s := &Server{
		source: source,
		store:  store,
		log:    log,
		addr:   addr,
		mux:    http.NewServeMux(),
		hub:    NewHub(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/status", s.statusHandler())
	s.mux.HandleFunc("/api/runs", s.listRunsHandler())
	s.mux.HandleFunc("/api/runs/", s.getRunHandler())
	s.mux.HandleFunc("/api/events", s.sseHandler())
	s.mux.HandleFunc("/ws", s.wsHandler())
}

// Start serves until the context is cancelled
func (s *Server) Start(ctx context.Context) error {
	go s.hub.Run(ctx)

	s.httpServer = &http.Server{Addr: s.addr, Handler: s.mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	s.log.Info("status server listening", "addr", s.addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// PublishStatus pushes a status snapshot to all connected clients. Wired as
// the orchestrator's status change hook.
func (s *Server) PublishStatus(st progress.Status) {
	s.hub.Broadcast(Event{Type: "status", Data: st})
}

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
