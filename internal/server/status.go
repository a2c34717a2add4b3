package server

import (
	"encoding/json"
	"net/http"

	"github.com/dreamware/taskrelay/internal/batch"
)

// StatusResponse is the body of GET /stats.
type StatusResponse struct {
	RunID string         `json:"run_id"`
	State State          `json:"state"`
	Stats batch.Snapshot `json:"stats"`
}

// Handler serves the status endpoints:
//
//	GET /health  200 while the process is up
//	GET /stats   run id, lifecycle state and counters as JSON
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/stats", s.handleStats)
	return mux
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(StatusResponse{
		RunID: s.runID.String(),
		State: s.State(),
		Stats: s.stats.Snapshot(),
	})
}
