package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/equipwatch-core/internal/auth"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest     = "bad_request"
	ErrCodeNotFound       = "not_found"
	ErrCodeUnauthorized   = "unauthorised"
	ErrCodeSessionExpired = "session_expired"
	ErrCodeForbidden      = "forbidden"
	ErrCodeConflict       = "conflict"
	ErrCodeRateLimited    = "rate_limited"
	ErrCodeInternal       = "internal_error"
	ErrCodeUnavailable    = "service_unavailable"
	ErrCodeValidation     = "validation_error"
)

// Client-facing messages that must not vary with the cause.
const (
	msgInvalidCredentials      = "invalid credentials"
	msgInsufficientPermissions = "insufficient permissions"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeValidationError writes a 400 error response for rejected input.
func writeValidationError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeValidation, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeUnauthorized writes a 401 error response.
func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// writeForbidden writes a 403 error response.
func writeForbidden(w http.ResponseWriter, message string) {
	writeError(w, http.StatusForbidden, ErrCodeForbidden, message)
}

// writeConflict writes a 409 error response.
func writeConflict(w http.ResponseWriter, message string) {
	writeError(w, http.StatusConflict, ErrCodeConflict, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeSessionError maps a session validation failure to a 401, or a 500
// when the session store itself failed.
func writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrSessionExpired):
		writeError(w, http.StatusUnauthorized, ErrCodeSessionExpired, "session has expired")
	case errors.Is(err, auth.ErrSessionNotFound):
		writeUnauthorized(w, "authentication required")
	default:
		writeInternalError(w, "internal server error")
	}
}

// writeUserError maps user administration errors to responses.
func writeUserError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrUserNotFound):
		writeNotFound(w, "user not found")
	case errors.Is(err, auth.ErrDuplicateUser):
		writeConflict(w, "username already exists")
	case errors.Is(err, auth.ErrInvalidUsername):
		writeValidationError(w, "username must be 1-64 characters of letters, digits, '.', '-' or '_'")
	case errors.Is(err, auth.ErrInvalidRole):
		writeValidationError(w, "invalid role: must be viewer, technician, supervisor or admin")
	case errors.Is(err, auth.ErrPasswordTooShort):
		writeValidationError(w, "password is too short")
	default:
		writeInternalError(w, "internal server error")
	}
}

// isSessionRejection reports whether err is an ordinary session rejection
// rather than a storage fault.
func isSessionRejection(err error) bool {
	return errors.Is(err, auth.ErrSessionExpired) || errors.Is(err, auth.ErrSessionNotFound)
}

// isClientUserError reports whether err is a user administration error
// caused by the request rather than by storage.
func isClientUserError(err error) bool {
	for _, target := range []error{
		auth.ErrUserNotFound,
		auth.ErrDuplicateUser,
		auth.ErrInvalidUsername,
		auth.ErrInvalidRole,
		auth.ErrPasswordTooShort,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
