// Package handler is the HTTP layer: it decodes requests, calls one service
// method and turns the result into JSON.
//
// CONSISTENT ERROR FORMAT:
// Every error response has the same shape:
//
//	{"error": "validation_error", "message": "startedAt is required", "field": "startedAt"}
//
// "field" is only present on validation errors that concern one input.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/sakif/trainsync/internal/apperror"
	"github.com/sakif/trainsync/internal/auth"
	"github.com/sakif/trainsync/internal/model"
)

// Request body limits. Runs carry GPS tracks and get a larger allowance.
const (
	maxBodyBytes    = 1 << 20
	maxRunBodyBytes = 32 << 20
)

// ErrorResponse is the standard error format returned by all API endpoints.
type ErrorResponse struct {
	Error   string `json:"error"`           // machine-readable type, e.g. "not_found"
	Message string `json:"message"`         // human-readable description
	Field   string `json:"field,omitempty"` // offending input, validation errors only
}

// writeJSON sends a JSON response with the given status code. Headers must
// be set before WriteHeader; anything set after is dropped.
func writeJSON(w http.ResponseWriter, logger *slog.Logger, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// Headers are already sent; all we can do is log.
			logger.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// writeUpsert answers an idempotent upload: 201 when a record was created,
// 200 when it was updated or already existed.
func writeUpsert(w http.ResponseWriter, logger *slog.Logger, outcome model.UpsertOutcome, data any) {
	status := http.StatusOK
	if outcome == model.Created {
		status = http.StatusCreated
	}
	writeJSON(w, logger, status, data)
}

// writeError maps a domain error to an HTTP status and sends it.
//
// errors.Is walks the whole chain, so a service error wrapped with
// fmt.Errorf("...: %w", apperror.NotFound(...)) still maps to 404.
// Anything that isn't an *apperror.AppError is a 500 with a generic
// message; the raw error may contain SQL or file paths.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		logger.ErrorContext(r.Context(), "request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		writeJSON(w, logger, http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "An internal error occurred",
		})
		return
	}

	status := http.StatusInternalServerError
	errorType := "internal_error"
	switch {
	case errors.Is(err, apperror.ErrValidation):
		status, errorType = http.StatusBadRequest, "validation_error"
	case errors.Is(err, apperror.ErrUnauthorized):
		status, errorType = http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, apperror.ErrForbidden):
		status, errorType = http.StatusForbidden, "forbidden"
	case errors.Is(err, apperror.ErrNotFound):
		status, errorType = http.StatusNotFound, "not_found"
	case errors.Is(err, apperror.ErrConflict):
		status, errorType = http.StatusConflict, "conflict"
	}

	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="trainsync"`)
	}
	writeJSON(w, logger, status, ErrorResponse{
		Error:   errorType,
		Message: appErr.Message,
		Field:   appErr.Field,
	})
}

// decodeJSON reads a single JSON object into dst. Unknown fields are
// rejected so a misspelt key fails loudly instead of being dropped.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any, limit int64) error {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		var (
			syntaxErr *json.SyntaxError
			typeErr   *json.UnmarshalTypeError
			maxErr    *http.MaxBytesError
		)
		switch {
		case errors.Is(err, io.EOF):
			return apperror.ValidationFailed("", "request body is required")
		case errors.As(err, &maxErr):
			return apperror.ValidationFailed("", fmt.Sprintf("request body must be %d bytes or less", maxErr.Limit))
		case errors.As(err, &typeErr):
			return apperror.ValidationFailed(typeErr.Field, fmt.Sprintf("%s has the wrong type", typeErr.Field))
		case errors.As(err, &syntaxErr), errors.Is(err, io.ErrUnexpectedEOF):
			return apperror.ValidationFailed("", "request body is not valid JSON")
		default:
			return apperror.ValidationFailed("", err.Error())
		}
	}
	if dec.More() {
		return apperror.ValidationFailed("", "request body must contain a single JSON object")
	}
	return nil
}

// userID returns the caller's id. Routes that call it sit behind
// auth.RequireAuth, so a missing identity is a wiring bug.
func userID(r *http.Request) (string, error) {
	id, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		return "", apperror.Unauthorized("valid authentication required")
	}
	return id, nil
}

// queryInt reads an optional non-negative integer query parameter.
func queryInt(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, apperror.ValidationFailed(name, name+" must be a non-negative integer")
	}
	return n, nil
}

func validationRequired(field string) error {
	return apperror.ValidationFailed(field, field+" is required")
}
