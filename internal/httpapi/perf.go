package httpapi

import "net/http"

func (s *Server) handlePerfLatency(w http.ResponseWriter, _ *http.Request) {
	// A nil Metrics snapshots an empty window.
	respondJSON(w, http.StatusOK, s.deps.Metrics.SnapshotLatency())
}
