// Package api exposes the run surface over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/mfdoom84/automatevnc/internal/app/orchestrator"
	"github.com/mfdoom84/automatevnc/internal/domain/run"
)

// Handler serves the run endpoints.
type Handler struct {
	service *orchestrator.Service
	logger  *slog.Logger
}

// NewHandler wraps the orchestrator service.
func NewHandler(service *orchestrator.Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, logger: logger}
}

// Mux returns the route table.
func (h *Handler) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /runs", h.createRun)
	mux.HandleFunc("GET /runs", h.listRuns)
	mux.HandleFunc("GET /runs/{id}", h.getRun)
	mux.HandleFunc("GET /runs/{id}/status", h.getStatus)
	mux.HandleFunc("GET /runs/{id}/logs", h.getLogs)
	mux.HandleFunc("GET /runs/{id}/artifacts/log", h.downloadLog)
	mux.HandleFunc("GET /runs/{id}/artifacts/screenshot", h.downloadScreenshot)
	mux.HandleFunc("POST /runs/{id}/cancel", h.cancelRun)
	mux.HandleFunc("DELETE /runs/{id}", h.deleteRun)
	return mux
}

type createRunRequest struct {
	Script    string         `json:"script"`
	Host      string         `json:"host"`
	Port      int            `json:"port"`
	Password  string         `json:"password,omitempty"`
	Chain     []string       `json:"chain,omitempty"`
	Variables map[string]any `json:"variables,omitempty"`
}

func (h *Handler) createRun(w http.ResponseWriter, r *http.Request) {
	var req createRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	if req.Script == "" || req.Host == "" || req.Port <= 0 {
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("script, host and port are required"))
		return
	}

	creds := run.Credentials{Host: req.Host, Port: req.Port, Password: req.Password}
	created, err := h.service.CreateRun(r.Context(), req.Script, creds, req.Chain, req.Variables)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) listRuns(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", raw))
			return
		}
		limit = parsed
	}
	runs, err := h.service.ListRuns(r.Context(), limit)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (h *Handler) getRun(w http.ResponseWriter, r *http.Request) {
	found, err := h.service.GetRun(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, found)
}

func (h *Handler) getStatus(w http.ResponseWriter, r *http.Request) {
	found, err := h.service.GetRun(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"id": found.ID, "status": found.Status})
}

func (h *Handler) getLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := h.service.GetLogs(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"logs": logs.Text, "complete": logs.Complete})
}

func (h *Handler) downloadLog(w http.ResponseWriter, r *http.Request) {
	artifacts, err := h.service.GetArtifacts(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if artifacts.Log == "" {
		h.writeError(w, http.StatusNotFound, fmt.Errorf("no log recorded"))
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	http.ServeFile(w, r, artifacts.Log)
}

func (h *Handler) downloadScreenshot(w http.ResponseWriter, r *http.Request) {
	artifacts, err := h.service.GetArtifacts(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if artifacts.Screenshot == "" {
		h.writeError(w, http.StatusNotFound, fmt.Errorf("no screenshot captured"))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	http.ServeFile(w, r, artifacts.Screenshot)
}

func (h *Handler) cancelRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.service.CancelRun(r.Context(), id); err != nil {
		h.writeServiceError(w, err)
		return
	}
	found, err := h.service.GetRun(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, found)
}

func (h *Handler) deleteRun(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteRun(r.Context(), r.PathValue("id")); err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, run.ErrNotFound):
		h.writeError(w, http.StatusNotFound, err)
	case errors.Is(err, run.ErrConflict):
		h.writeError(w, http.StatusConflict, err)
	default:
		h.logger.Error("request failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}
