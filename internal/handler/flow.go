package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"attendance/internal/logger"
	"attendance/internal/scan"
	"attendance/internal/service"
)

// FlowController is the part of service.Manager the flow endpoints use.
type FlowController interface {
	Categories() []string
	StartFlow(ctx context.Context, category string) (scan.Snapshot, error)
	Rescan(ctx context.Context) (scan.Snapshot, error)
	Next(ctx context.Context) (scan.Snapshot, error)
	StopFlow(ctx context.Context) error
	Status() service.FlowStatus
	ReloadModel() error
}

type FlowHandler struct {
	flows  FlowController
	logger *logger.Logger
}

func NewFlowHandler(flows FlowController, logger *logger.Logger) *FlowHandler {
	return &FlowHandler{flows: flows, logger: logger}
}

type startFlowRequest struct {
	Category string `json:"category"`
}

// Categories handles GET /api/categories.
func (h *FlowHandler) Categories(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string][]string{"categories": h.flows.Categories()})
}

// Start handles POST /api/flow/start.
func (h *FlowHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req startFlowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Category = strings.TrimSpace(req.Category)
	if req.Category == "" {
		respondError(w, http.StatusBadRequest, "category is required")
		return
	}

	snap, err := h.flows.StartFlow(r.Context(), req.Category)
	if err != nil {
		h.logger.Warning("Failed to start flow for %s: %v", req.Category, err)
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, snap)
}

// Rescan handles POST /api/flow/rescan.
func (h *FlowHandler) Rescan(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, h.flows.Rescan)
}

// Next handles POST /api/flow/next.
func (h *FlowHandler) Next(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, h.flows.Next)
}

func (h *FlowHandler) command(w http.ResponseWriter, r *http.Request, fn func(context.Context) (scan.Snapshot, error)) {
	snap, err := fn(r.Context())
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

// Stop handles POST /api/flow/stop.
func (h *FlowHandler) Stop(w http.ResponseWriter, r *http.Request) {
	if err := h.flows.StopFlow(r.Context()); err != nil {
		respondDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Status handles GET /api/flow/status.
func (h *FlowHandler) Status(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.flows.Status())
}

// ReloadModel handles POST /api/model/reload.
func (h *FlowHandler) ReloadModel(w http.ResponseWriter, r *http.Request) {
	if err := h.flows.ReloadModel(); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"reloaded": true})
}
