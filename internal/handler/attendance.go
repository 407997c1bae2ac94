package handler

import (
	"context"
	"net/http"
	"time"

	"attendance/internal/attendance"
	"attendance/internal/logger"
	"attendance/internal/model"
)

type AttendanceLister interface {
	List(ctx context.Context, filter model.AttendanceFilter) ([]model.AttendanceEntry, error)
}

type AttendanceHandler struct {
	repo       AttendanceLister
	categories map[string]bool
	logger     *logger.Logger
}

func NewAttendanceHandler(repo AttendanceLister, categories []string, logger *logger.Logger) *AttendanceHandler {
	known := make(map[string]bool, len(categories))
	for _, c := range categories {
		known[c] = true
	}
	return &AttendanceHandler{repo: repo, categories: known, logger: logger}
}

// List handles GET /api/attendance?date=YYYY-MM-DD&category=...
func (h *AttendanceHandler) List(w http.ResponseWriter, r *http.Request) {
	filter := model.AttendanceFilter{
		Date:     r.URL.Query().Get("date"),
		Category: r.URL.Query().Get("category"),
	}

	if filter.Date != "" {
		if _, err := time.Parse(attendance.DateLayout, filter.Date); err != nil {
			respondError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
	}
	if filter.Category != "" && !h.categories[filter.Category] {
		respondError(w, http.StatusBadRequest, "unknown category")
		return
	}

	entries, err := h.repo.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list attendance: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to list attendance")
		return
	}
	if entries == nil {
		entries = []model.AttendanceEntry{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"count":   len(entries),
		"records": entries,
	})
}
