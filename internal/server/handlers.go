package server

import (
	"net/http"

	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/common"
	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/dperrors"
	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/models"
)

// executeRequestBody is the POST /execute wire shape (spec.md §6).
type executeRequestBody struct {
	PipelineName string         `json:"pipelineName"`
	Inputs       map[string]any `json:"inputs"`
	OutputFormat string         `json:"outputFormat"`
	Priority     string         `json:"priority,omitempty"`
	UserID       string         `json:"userId,omitempty"`
}

// handleExecute handles POST /execute.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var body executeRequestBody
	if !DecodeJSON(w, r, &body) {
		return
	}

	userID := body.UserID
	if userID == "" {
		userID = common.ResolveUserID(r.Context())
	}

	sub, err := s.submitter.Submit(r.Context(), models.JobRequest{
		PipelineName: body.PipelineName,
		Inputs:       body.Inputs,
		OutputFormat: body.OutputFormat,
		Priority:     models.Priority(body.Priority),
		UserID:       userID,
	})
	if err != nil {
		WriteError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"executionId": sub.ExecutionID,
		"jobId":       sub.JobID,
	})
}

// executionStatusView is the GET /executions/{id} "status" payload.
type executionStatusView struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	Progress   int    `json:"progress"`
	OutputPath string `json:"outputPath,omitempty"`
	Error      string `json:"error,omitempty"`
	Metadata   any    `json:"metadata,omitempty"`
}

// handleGetExecution handles GET /executions/{id}.
func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	id := PathParam(r, "/executions/", "")
	if id == "" {
		WriteError(w, dperrors.NewNotFound(""))
		return
	}

	record, err := s.store.Get(r.Context(), id)
	if err != nil {
		WriteError(w, err)
		return
	}

	view := executionStatusView{
		ID:         record.ID,
		Status:     string(record.Status),
		Progress:   record.Status.Progress(),
		OutputPath: record.OutputPath,
		Error:      record.Error,
	}
	if record.ProcessorMetadata != nil {
		view.Metadata = record.ProcessorMetadata
	}
	WriteJSON(w, http.StatusOK, map[string]any{"status": view})
}

// handleHistory handles GET /history?pipeline=&status=&limit=.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	filter := models.ExecutionFilter{
		PipelineName: r.URL.Query().Get("pipeline"),
		Status:       models.Status(r.URL.Query().Get("status")),
	}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		filter.Limit = parseIntOrZero(limit)
	}

	records, err := s.store.List(r.Context(), filter)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"executions": records})
}

// handleCancel handles POST /jobs/{id}/cancel.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	id := PathParam(r, "/jobs/", "/cancel")
	if id == "" {
		WriteError(w, dperrors.NewNotFound(""))
		return
	}

	if err := s.submitter.Cancel(r.Context(), id); err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"success": true})
}

// handlePipelines handles GET /pipelines.
func (s *Server) handlePipelines(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	summaries, err := s.loader.ListPipelines()
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"pipelines": summaries})
}

// handlePipelineDetail handles GET /pipelines/{name}.
func (s *Server) handlePipelineDetail(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	name := PathParam(r, "/pipelines/", "")
	if name == "" {
		WriteError(w, dperrors.NewPipelineNotFound(""))
		return
	}

	spec, err := s.loader.LoadSpec(name)
	if err != nil {
		WriteError(w, err)
		return
	}
	cfg, err := s.loader.LoadConfig(name)
	if err != nil {
		WriteError(w, err)
		return
	}
	valid, violations := s.loader.ValidatePipeline(name)

	WriteJSON(w, http.StatusOK, map[string]any{
		"spec":   spec,
		"config": cfg,
		"validation": map[string]any{
			"valid":  valid,
			"errors": violations,
		},
	})
}

// handleStats handles GET /stats[?pipeline=].
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	if pipeline := r.URL.Query().Get("pipeline"); pipeline != "" {
		stats, err := s.store.Stats(r.Context(), pipeline)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"stats": stats})
		return
	}

	stats, err := s.store.ListStats(r.Context())
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"stats": stats})
}

// parseIntOrZero parses s as a non-negative int, returning 0 on any
// failure so callers fall back to ExecutionFilter's own default.
func parseIntOrZero(s string) int {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0
		}
		n = n*10 + int(c-'0')
	}
	return n
}
