// Package handler implements the HTTP API of the attendance service.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"attendance/internal/capture"
	"attendance/internal/scan"
	"attendance/internal/service"
)

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrUnknownCategory):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrNoFlow):
		return http.StatusNotFound
	case errors.Is(err, service.ErrFlowActive),
		errors.Is(err, service.ErrNoModel),
		errors.Is(err, scan.ErrSessionClosed):
		return http.StatusConflict
	case errors.Is(err, capture.ErrDeviceUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respondDomainError(w http.ResponseWriter, err error) {
	respondError(w, statusFor(err), err.Error())
}
