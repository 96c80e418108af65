package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/maltedev/offer-scraper/internal/database"
	"github.com/maltedev/offer-scraper/internal/jobs"
)

// ResultReader is satisfied by *storage.ResultWriter.
type ResultReader interface {
	Read(path string) ([]byte, error)
}

// OutboxStats is satisfied by *database.OutboxRepository.
type OutboxStats interface {
	Stats(ctx context.Context) (database.OutboxStats, error)
}

type Handlers struct {
	jobs    *jobs.Manager
	results ResultReader
	outbox  OutboxStats
	logger  *slog.Logger
}

// NewHandlers wires the HTTP surface. outbox may be nil when the archive
// is disabled.
func NewHandlers(manager *jobs.Manager, results ResultReader, outbox OutboxStats, logger *slog.Logger) *Handlers {
	return &Handlers{
		jobs:    manager,
		results: results,
		outbox:  outbox,
		logger:  logger.With("component", "api"),
	}
}

type CreateRunRequest struct {
	URL    string `json:"url"`
	Filter string `json:"filter"`
}

type CreateRunResponse struct {
	RunID   string      `json:"run_id"`
	Status  jobs.Status `json:"status"`
	Message string      `json:"message"`
}

func (h *Handlers) CreateRun(w http.ResponseWriter, r *http.Request) {
	var req CreateRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.URL == "" {
		h.respondError(w, http.StatusBadRequest, "url is required")
		return
	}

	run, err := h.jobs.Submit(req.URL, req.Filter)
	if err != nil {
		h.logger.Warn("run rejected", "url", req.URL, "error", err)
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.respondJSON(w, http.StatusAccepted, CreateRunResponse{
		RunID:   run.ID,
		Status:  run.Status,
		Message: "Run queued",
	})
}

func (h *Handlers) GetRun(w http.ResponseWriter, r *http.Request) {
	run, ok := h.lookup(w, r)
	if !ok {
		return
	}
	h.respondJSON(w, http.StatusOK, run)
}

func (h *Handlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.jobs.List())
}

func (h *Handlers) CancelRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	switch err := h.jobs.Cancel(runID); {
	case errors.Is(err, jobs.ErrRunNotFound):
		h.respondError(w, http.StatusNotFound, "run not found")
	case errors.Is(err, jobs.ErrRunFinished):
		h.respondError(w, http.StatusConflict, "run already finished")
	case err != nil:
		h.respondError(w, http.StatusInternalServerError, "failed to cancel run")
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

// GetRunRecords serves the JSON artifact written by a finished run.
func (h *Handlers) GetRunRecords(w http.ResponseWriter, r *http.Request) {
	run, ok := h.lookup(w, r)
	if !ok {
		return
	}

	if run.Result == nil || run.Result.FilePath == "" {
		h.respondError(w, http.StatusConflict, "run has no results")
		return
	}

	data, err := h.results.Read(run.Result.FilePath)
	if err != nil {
		h.logger.Error("failed to read results", "run_id", run.ID, "path", run.Result.FilePath, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to read results")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{"status": "ok"}
	status := http.StatusOK

	if h.outbox != nil {
		stats, err := h.outbox.Stats(r.Context())
		if err != nil {
			h.logger.Error("failed to read outbox stats", "error", err)
			health["status"] = "error"
			health["message"] = "Archive unavailable"
			status = http.StatusServiceUnavailable
		} else {
			health["outbox"] = stats
			if stats.Pending > 1000 {
				health["status"] = "warning"
				health["message"] = "High number of pending outbox events"
			}
			if stats.DeadLetter > 100 {
				health["status"] = "error"
				health["message"] = "High number of dead letter events"
				status = http.StatusServiceUnavailable
			}
		}
	}

	h.respondJSON(w, status, health)
}

func (h *Handlers) lookup(w http.ResponseWriter, r *http.Request) (jobs.Run, bool) {
	runID := chi.URLParam(r, "runID")
	if runID == "" {
		h.respondError(w, http.StatusBadRequest, "run ID is required")
		return jobs.Run{}, false
	}

	run, err := h.jobs.Get(runID)
	if err != nil {
		h.respondError(w, http.StatusNotFound, "run not found")
		return jobs.Run{}, false
	}
	return run, true
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
