package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/transitwise/graph-orchestrator/internal/runstore"
)

// RunResponse is the API response for a historical run
type RunResponse struct {
	ID           string  `json:"id"`
	ManifestPath string  `json:"manifest_path,omitempty"`
	BuildGraph   bool    `json:"build_graph"`
	RunServer    bool    `json:"run_server"`
	EngineMajor  int     `json:"engine_major"`
	Status       string  `json:"status"`
	Message      string  `json:"message,omitempty"`
	PctProgress  float64 `json:"pct_progress"`
	StartedAt    string  `json:"started_at,omitempty"`
	FinishedAt   string  `json:"finished_at,omitempty"`
}

func runToResponse(r *runstore.Run) RunResponse {
	resp := RunResponse{
		ID:           r.ID,
		ManifestPath: r.ManifestPath,
		BuildGraph:   r.BuildGraph,
		RunServer:    r.RunServer,
		EngineMajor:  r.EngineMajor,
		Status:       r.Status,
		Message:      r.Message,
		PctProgress:  r.PctProgress,
	}
	if !r.StartedAt.IsZero() {
		resp.StartedAt = r.StartedAt.Format(time.RFC3339)
	}
	if !r.FinishedAt.IsZero() {
		resp.FinishedAt = r.FinishedAt.Format(time.RFC3339)
	}
	return resp
}

func (s *Server) statusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		writeJSON(w, s.source.Status())
	}
}

func (s *Server) listRunsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if s.store == nil {
			writeError(w, http.StatusNotFound, "run history disabled")
			return
		}

		opts := runstore.ListOptions{
			Status: r.URL.Query().Get("status"),
			Limit:  50,
		}
		if v := r.URL.Query().Get("limit"); v != "" {
			limit, err := strconv.Atoi(v)
			if err != nil || limit < 1 {
				writeError(w, http.StatusBadRequest, "invalid limit")
				return
			}
			opts.Limit = limit
		}

		runs, err := s.store.ListRuns(opts)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		resp := make([]RunResponse, 0, len(runs))
		for _, run := range runs {
			resp = append(resp, runToResponse(run))
		}
		writeJSON(w, resp)
	}
}

func (s *Server) getRunHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if s.store == nil {
			writeError(w, http.StatusNotFound, "run history disabled")
			return
		}

		id := strings.TrimPrefix(r.URL.Path, "/api/runs/")
		if id == "" {
			writeError(w, http.StatusBadRequest, "run id required")
			return
		}

		run, err := s.store.GetRun(id)
		if err != nil {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		writeJSON(w, runToResponse(run))
	}
}
