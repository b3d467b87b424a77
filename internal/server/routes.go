package server

import "net/http"

// handleHealth handles GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// registerRoutes sets up all REST API routes on the mux (spec.md §6).
func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.handleHealth)

	mux.HandleFunc("/execute", s.handleExecute)
	mux.HandleFunc("/executions/", s.handleGetExecution)
	mux.HandleFunc("/history", s.handleHistory)
	mux.HandleFunc("/jobs/", s.handleCancel)
	mux.HandleFunc("/pipelines", s.handlePipelines)
	mux.HandleFunc("/pipelines/", s.handlePipelineDetail)
	mux.HandleFunc("/stats", s.handleStats)
}
