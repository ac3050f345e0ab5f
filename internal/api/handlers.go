package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"

	"github.com/go-chi/chi/v5"

	"github.com/lei/actions-ledger/internal/collector"
	"github.com/lei/actions-ledger/internal/provider"
	"github.com/lei/actions-ledger/internal/service"
)

// Handlers contains HTTP handler functions
type Handlers struct {
	service *service.Service
}

// NewHandlers creates a new handlers instance
func NewHandlers(svc *service.Service) *Handlers {
	return &Handlers{service: svc}
}

// respondJSON writes v as a JSON body
func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// Health handles health check requests
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HealthDetailed handles GET /health/detailed
func (h *Handlers) HealthDetailed(w http.ResponseWriter, r *http.Request) {
	health := h.service.HealthCheck(r.Context())

	status := http.StatusOK
	if health["status"] != "healthy" {
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, health)
}

// ListWorkflows handles GET /v1/workflows
func (h *Handlers) ListWorkflows(w http.ResponseWriter, r *http.Request) {
	workflows, err := h.service.ListWorkflows(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"workflows": workflows,
	})
}

// ListRuns handles GET /v1/workflows/{workflow_id}/runs
func (h *Handlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	logger := GetLogger(r.Context())

	workflowID, err := idParam(r, "workflow_id")
	if err != nil {
		respondError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	filter, err := parseRunFilter(r)
	if err != nil {
		if logger != nil {
			logger.Warn("invalid run filter", "error", err)
		}
		respondError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	runs, err := h.service.ListRuns(r.Context(), workflowID, filter)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"runs":   runs,
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

// GetWorkflowSummary handles GET /v1/workflows/{workflow_id}/summary
func (h *Handlers) GetWorkflowSummary(w http.ResponseWriter, r *http.Request) {
	workflowID, err := idParam(r, "workflow_id")
	if err != nil {
		respondError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	h.writeSummary(w, r, workflowID)
}

// GetSummary handles GET /v1/summary
func (h *Handlers) GetSummary(w http.ResponseWriter, r *http.Request) {
	h.writeSummary(w, r, 0)
}

func (h *Handlers) writeSummary(w http.ResponseWriter, r *http.Request, workflowID int64) {
	sum, err := h.service.Summary(r.Context(), workflowID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"summary": sum,
	})
}

// GetRun handles GET /v1/runs/{run_id}
func (h *Handlers) GetRun(w http.ResponseWriter, r *http.Request) {
	logger := GetLogger(r.Context())

	runID, err := idParam(r, "run_id")
	if err != nil {
		respondError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	if logger != nil {
		logger.Debug("fetching run details", "run_id", runID)
	}

	details, err := h.service.GetRunDetails(r.Context(), runID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, details)
}

// ProcessRun handles POST /v1/runs/{run_id}/process
func (h *Handlers) ProcessRun(w http.ResponseWriter, r *http.Request) {
	logger := GetLogger(r.Context())

	runID, err := idParam(r, "run_id")
	if err != nil {
		respondError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	if logger != nil {
		logger.Info("processing run on request", "run_id", runID)
	}

	res, err := h.service.ProcessRun(r.Context(), runID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"result": res,
	})
}

// GetJobLog handles GET /v1/jobs/{job_id}/logs
func (h *Handlers) GetJobLog(w http.ResponseWriter, r *http.Request) {
	jobID, err := idParam(r, "job_id")
	if err != nil {
		respondError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	jl, err := h.service.GetJobLog(r.Context(), jobID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	if r.URL.Query().Get("format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		io.WriteString(w, jl.Logs)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"job_log": jl,
	})
}

// SearchFiles handles GET /v1/files/search
func (h *Handlers) SearchFiles(w http.ResponseWriter, r *http.Request) {
	q, err := parseFileSearch(r)
	if err != nil {
		respondError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	files, err := h.service.SearchFiles(r.Context(), q)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"files": files,
		"count": len(files),
	})
}

// GetFileInfo handles GET /v1/files/{file_id}/info
func (h *Handlers) GetFileInfo(w http.ResponseWriter, r *http.Request) {
	f, err := h.service.GetFile(r.Context(), chi.URLParam(r, "file_id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"file":            f,
		"has_content":     f.Content != nil,
		"has_stored_file": f.StoredURL != nil,
	})
}

// GetFileContent handles GET /v1/files/{file_id}
func (h *Handlers) GetFileContent(w http.ResponseWriter, r *http.Request) {
	fc, err := h.service.OpenFile(r.Context(), chi.URLParam(r, "file_id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeFileContent(w, r, fc)
}

// ServeStoredFile handles GET {url_prefix}{stored_filename}
func (h *Handlers) ServeStoredFile(w http.ResponseWriter, r *http.Request) {
	fc, err := h.service.OpenStoredFile(r.Context(), chi.URLParam(r, "stored_filename"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeFileContent(w, r, fc)
}

func writeFileContent(w http.ResponseWriter, r *http.Request, fc *service.FileContent) {
	defer fc.Body.Close()

	w.Header().Set("Content-Type", fc.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", path.Base(fc.File.OriginalPath)))
	if fc.File.FileSize > 0 {
		w.Header().Set("Content-Length", fmt.Sprintf("%d", fc.File.FileSize))
	}

	if _, err := io.Copy(w, fc.Body); err != nil {
		if logger := GetLogger(r.Context()); logger != nil {
			logger.Error("failed to stream file", "file_id", fc.File.ID, "error", err)
		}
	}
}

// TriggerCollection handles POST /v1/collector/trigger
func (h *Handlers) TriggerCollection(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.TriggerCollection(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"report": report,
	})
}

// CollectorStatus handles GET /v1/collector/status
func (h *Handlers) CollectorStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"collector": h.service.CollectorStatus(r.Context()),
	})
}

// respondError writes a JSON error response with logging
func respondError(w http.ResponseWriter, r *http.Request, status int, message string) {
	logger := GetLogger(r.Context())
	requestID := GetRequestID(r.Context())

	if logger != nil {
		logger.Error("returning error response",
			"status", status,
			"message", message,
			"request_id", requestID)
	}

	w.Header().Set("X-Request-ID", requestID)
	respondJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"message":    message,
			"code":       status,
			"request_id": requestID,
		},
	})
}

// handleServiceError maps service errors to HTTP responses with detailed logging
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	logger := GetLogger(r.Context())
	requestID := GetRequestID(r.Context())

	if logger != nil {
		logger.Error("service error occurred",
			"error", err.Error(),
			"error_type", fmt.Sprintf("%T", err),
			"request_id", requestID)
	}

	switch {
	case errors.Is(err, service.ErrWorkflowNotFound):
		respondError(w, r, http.StatusNotFound, "workflow not found")
	case errors.Is(err, service.ErrRunNotFound):
		respondError(w, r, http.StatusNotFound, "run not found")
	case errors.Is(err, service.ErrJobLogNotFound):
		respondError(w, r, http.StatusNotFound, "job log not found")
	case errors.Is(err, service.ErrFileNotFound):
		respondError(w, r, http.StatusNotFound, "file not found")
	case errors.Is(err, collector.ErrCollectionInProgress):
		respondError(w, r, http.StatusConflict, "collection already in progress")
	case errors.Is(err, provider.ErrRunNotFound):
		respondError(w, r, http.StatusNotFound, "run not found in provider")
	case errors.Is(err, provider.ErrArtifactNotFound):
		respondError(w, r, http.StatusNotFound, "artifact not found in provider")
	case errors.Is(err, provider.ErrUnauthorized):
		respondError(w, r, http.StatusUnauthorized, "provider authentication failed")
	case errors.Is(err, provider.ErrProviderUnavailable):
		respondError(w, r, http.StatusBadGateway, "provider temporarily unavailable")
	default:
		var providerErr *provider.ProviderError
		if errors.As(err, &providerErr) {
			if logger != nil {
				logger.Error("provider error details",
					"provider_code", providerErr.Code,
					"provider_message", providerErr.Message,
					"underlying_error", providerErr.Err)
			}

			if providerErr.Code >= 400 && providerErr.Code < 500 {
				respondError(w, r, providerErr.Code, providerErr.Message)
			} else {
				respondError(w, r, http.StatusBadGateway, "provider error")
			}
		} else {
			respondError(w, r, http.StatusInternalServerError, "internal server error")
		}
	}
}
