// Package api provides HTTP handlers for the Nomadeum API.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/nomadeum/nomadeum/internal/council"
	"github.com/nomadeum/nomadeum/internal/domain"
	"github.com/nomadeum/nomadeum/internal/store"
)

// Handler serves the chat API.
type Handler struct {
	svc         *council.Service
	repo        store.Repository
	limiter     *RateLimiter
	maxBodySize int64
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(svc *council.Service, repo store.Repository, limiter *RateLimiter, maxBodySize int64) *Handler {
	return &Handler{
		svc:         svc,
		repo:        repo,
		limiter:     limiter,
		maxBodySize: maxBodySize,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// StatusFor maps a service error to its HTTP status.
func StatusFor(err error) int {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case council.IsClientError(err):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNoDebate), errors.Is(err, domain.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, domain.ErrProviderFailure):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// serviceError writes err with its mapped status. Internal errors are not echoed.
func serviceError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error("Request failed", "error", err, "path", r.URL.Path)
		Error(w, status, "internal error")
		return
	}
	if status == http.StatusBadGateway {
		Error(w, status, council.ErrorNotice)
		return
	}
	Error(w, status, err.Error())
}
