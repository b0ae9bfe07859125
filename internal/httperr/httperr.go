// Package httperr writes the JSON error envelope returned by the API.
package httperr

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/iurnickita/laundry/internal/model"
)

type Error struct {
	Code    string
	Message string
	Status  int
	Details map[string]any
}

func NewError(code, message string, status int) Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Error{
		Code:    sanitize(code, 80),
		Message: sanitize(message, 512),
		Status:  status,
	}
}

// WithDetails attaches extra top-level fields to the payload.
func (e Error) WithDetails(details map[string]any) Error {
	if len(details) == 0 {
		return e
	}
	copyDetails := make(map[string]any, len(details))
	for k, v := range details {
		copyDetails[k] = v
	}
	e.Details = copyDetails
	return e
}

// FromError classifies err by the model error taxonomy.
func FromError(err error) Error {
	var statusErr *model.StatusError
	switch {
	case errors.As(err, &statusErr):
		return NewError("invalid_state", err.Error(), http.StatusConflict).
			WithDetails(map[string]any{"current_status": statusErr.Current})
	case errors.Is(err, model.ErrValidation):
		return NewError("validation_error", err.Error(), http.StatusBadRequest)
	case errors.Is(err, model.ErrNotFound):
		return NewError("not_found", err.Error(), http.StatusNotFound)
	case errors.Is(err, model.ErrAuthentication):
		return NewError("unauthorized", err.Error(), http.StatusUnauthorized)
	case errors.Is(err, model.ErrForbidden):
		return NewError("forbidden", err.Error(), http.StatusForbidden)
	case errors.Is(err, model.ErrConflict):
		return NewError("conflict", err.Error(), http.StatusConflict)
	case errors.Is(err, model.ErrUpstream):
		return NewError("upstream_unavailable", err.Error(), http.StatusBadGateway)
	}
	return NewError("internal_error", "internal error", http.StatusInternalServerError)
}

func Write(ctx context.Context, w http.ResponseWriter, e Error) {
	status := e.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}

	payload := map[string]any{
		"error":   e.Code,
		"message": e.Message,
		"status":  status,
	}
	if requestID := sanitize(middleware.GetReqID(ctx), 80); requestID != "" {
		payload["request_id"] = requestID
	}
	for k, v := range e.Details {
		payload[k] = v
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// WriteErr classifies and writes err.
func WriteErr(ctx context.Context, w http.ResponseWriter, err error) {
	Write(ctx, w, FromError(err))
}

func sanitize(value string, limit int) string {
	value = strings.ReplaceAll(value, "\n", " ")
	value = strings.ReplaceAll(value, "\r", " ")
	value = strings.TrimSpace(value)
	if len(value) > limit {
		value = value[:limit]
	}
	return value
}
