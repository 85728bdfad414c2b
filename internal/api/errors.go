package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/nerrad567/keygate/internal/auth"
	"github.com/nerrad567/keygate/internal/vault"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeNotFound     = "not_found"
	ErrCodeUnauthorized = "unauthorised"
	ErrCodeForbidden    = "forbidden"
	ErrCodeConflict     = "conflict"
	ErrCodeInternal     = "internal_error"
	ErrCodeValidation   = "validation_error"
)

// Domain error codes.
const (
	ErrCodeInvalidCredentials = "invalid_credentials"
	ErrCodeBanned             = "banned"
	ErrCodeSuspended          = "suspended"
	ErrCodeKillSwitchActive   = "kill_switch_active"
	ErrCodeNoContent          = "no_content"
	ErrCodeDuplicateUser      = "duplicate_user"
	ErrCodeMissingFields      = "missing_fields"
	ErrCodeMissingPayload     = "missing_payload"
	ErrCodePayloadTooLarge    = "payload_too_large"
	ErrCodeGrantExpired       = "grant_expired"
	ErrCodeGrantStale         = "grant_stale"
)

// domainError maps a sentinel error to its HTTP status and code.
type domainError struct {
	err    error
	status int
	code   string
}

var domainErrors = []domainError{
	{auth.ErrInvalidCredentials, http.StatusUnauthorized, ErrCodeInvalidCredentials},
	{auth.ErrTokenExpired, http.StatusUnauthorized, ErrCodeUnauthorized},
	{auth.ErrTokenRevoked, http.StatusUnauthorized, ErrCodeUnauthorized},
	{auth.ErrTokenInvalid, http.StatusUnauthorized, ErrCodeUnauthorized},

	{auth.ErrBanned, http.StatusForbidden, ErrCodeBanned},
	{auth.ErrSuspended, http.StatusForbidden, ErrCodeSuspended},
	{auth.ErrKillSwitchActive, http.StatusForbidden, ErrCodeKillSwitchActive},
	{auth.ErrForbidden, http.StatusForbidden, ErrCodeForbidden},

	{auth.ErrUsernameExists, http.StatusConflict, ErrCodeDuplicateUser},
	{auth.ErrMissingFields, http.StatusBadRequest, ErrCodeMissingFields},
	{auth.ErrInvalidUsername, http.StatusBadRequest, ErrCodeValidation},
	{auth.ErrInvalidRole, http.StatusBadRequest, ErrCodeValidation},
	{auth.ErrWeakPassword, http.StatusBadRequest, ErrCodeValidation},
	{auth.ErrUserNotFound, http.StatusNotFound, ErrCodeNotFound},

	{vault.ErrNoContent, http.StatusNotFound, ErrCodeNoContent},
	{vault.ErrMissingPayload, http.StatusBadRequest, ErrCodeMissingPayload},
	{vault.ErrPayloadTooLarge, http.StatusRequestEntityTooLarge, ErrCodePayloadTooLarge},
	{vault.ErrGrantNotFound, http.StatusNotFound, ErrCodeNotFound},
	{vault.ErrGrantExpired, http.StatusNotFound, ErrCodeGrantExpired},
	{vault.ErrGrantStale, http.StatusNotFound, ErrCodeGrantStale},
}

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

// writeDomainError maps err to its status and code. Unknown errors are
// logged and reported as a generic 500.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	for _, d := range domainErrors {
		if errors.Is(err, d.err) {
			writeError(w, d.status, d.code, d.err.Error())
			return
		}
	}
	s.logger.Error("unhandled error", "error", err)
	writeInternalError(w, "internal server error")
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeUnauthorized writes a 401 error response.
func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// writeForbidden writes a 403 error response.
func writeForbidden(w http.ResponseWriter, message string) {
	writeError(w, http.StatusForbidden, ErrCodeForbidden, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// readJSON decodes the request body into v, writing a 400 or 413 on
// failure. An empty body leaves v untouched.
func readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, ErrCodePayloadTooLarge, "request body too large")
		return false
	}
	writeBadRequest(w, "invalid JSON body")
	return false
}
