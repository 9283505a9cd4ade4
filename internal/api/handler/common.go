package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/youtoss/ledger/internal/domain"
	"github.com/youtoss/ledger/internal/validation"
)

// respondJSON writes a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondStandardError writes a JSON error response in the standard format.
func respondStandardError(w http.ResponseWriter, status int, code, message string, reason domain.Reason, details map[string]any) {
	respondJSON(w, status, &domain.StandardErrorResponse{
		Error: domain.StandardError{
			Code:    code,
			Message: message,
			Reason:  reason,
			Details: details,
		},
	})
}

// respondError writes a JSON error response for a malformed request.
func respondError(w http.ResponseWriter, status int, message string) {
	respondStandardError(w, status, domain.ErrCodeInvalidInput, message, "", nil)
}

// handleError converts service errors to HTTP errors.
func handleError(w http.ResponseWriter, err error) {
	var derr *domain.Error
	if !errors.As(err, &derr) {
		slog.Error("unhandled error", "error", err)
		respondStandardError(w, http.StatusInternalServerError, domain.ErrCodeInternalError, "internal server error", "", nil)
		return
	}

	details := make(map[string]any, len(derr.Keys)+1)
	for k, v := range derr.Keys {
		details[k] = v
	}

	var status int
	var code string
	switch {
	case errors.Is(err, domain.ErrNotAuthenticated):
		status, code = http.StatusUnauthorized, domain.ErrCodeNotAuthenticated
	case errors.Is(err, domain.ErrNotFound):
		status, code = http.StatusNotFound, domain.ErrCodeResourceNotFound
	case errors.Is(err, domain.ErrConflict):
		status, code = http.StatusConflict, domain.ErrCodeConflict
	case errors.Is(err, domain.ErrValidation):
		status, code = http.StatusBadRequest, domain.ErrCodeValidationError
		var fields validation.ValidationErrors
		if errors.As(err, &fields) {
			details["fields"] = fields
		}
	case errors.Is(err, domain.ErrRemoteFailure):
		status, code = http.StatusInternalServerError, domain.ErrCodeRemoteFailure
		if derr.Transient {
			status = http.StatusServiceUnavailable
		}
		slog.Error("remote failure", "op", derr.Op, "transient", derr.Transient, "error", err)
	default:
		status, code = http.StatusInternalServerError, domain.ErrCodeInternalError
	}
	if len(details) == 0 {
		details = nil
	}

	respondJSON(w, status, &domain.StandardErrorResponse{
		Error: domain.StandardError{
			Code:      code,
			Message:   message(derr),
			Reason:    derr.Reason,
			Transient: derr.Transient,
			Details:   details,
		},
	})
}

// message is the client-facing text of err. Causes of remote failures stay
// in the logs.
func message(err *domain.Error) string {
	if errors.Is(err, domain.ErrRemoteFailure) {
		return err.Kind.Error()
	}
	if err.Reason != "" {
		return err.Kind.Error() + ": " + string(err.Reason)
	}
	return err.Kind.Error()
}

// decodeJSON decodes JSON from request body.
func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return domain.ErrInvalidInput
	}
	return nil
}
