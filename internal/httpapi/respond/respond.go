// Package respond centralizes JSON response writing and error mapping so
// every handler returns a consistent error shape without leaking internals.
package respond

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"mynewslens/internal/domain"
)

// JSON writes v as a JSON body with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response body", slog.Any("error", err))
	}
}

type errorBody struct {
	Error string `json:"error"`
}

// Error maps a domain sentinel error to an HTTP status and writes a safe,
// generic message — never the raw error text, which may carry internal
// details (file paths, SQL, upstream bodies).
func Error(w http.ResponseWriter, err error) {
	status, msg := classify(err)
	JSON(w, status, errorBody{Error: msg})
}

func classify(err error) (int, string) {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, verr.Error()
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, domain.ErrValidationFailed), errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrBadRequest):
		return http.StatusBadRequest, "invalid request"
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests, "rate limited"
	default:
		slog.Error("unhandled internal error", slog.Any("error", err))
		return http.StatusInternalServerError, "internal error"
	}
}
