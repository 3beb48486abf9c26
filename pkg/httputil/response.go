// Package httputil provides HTTP handler utilities for consistent error handling,
// JSON encoding/decoding, and request parsing.
package httputil

import (
	"encoding/json"
	"net/http"

	"github.com/platinummonkey/backoffice/pkg/domainerr"
)

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Code    domainerr.Code         `json:"code"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// StatusFor maps a domain error code to an HTTP status
func StatusFor(code domainerr.Code) int {
	switch code {
	case domainerr.CodeInvalidInput, domainerr.CodeScopeMismatch:
		return http.StatusBadRequest
	case domainerr.CodeReauthRequired:
		return http.StatusUnauthorized
	case domainerr.CodeForbidden,
		domainerr.CodeSelfChangeForbidden,
		domainerr.CodeCrossTenantForbidden,
		domainerr.CodePlatformAdminShielded:
		return http.StatusForbidden
	case domainerr.CodeNotFound:
		return http.StatusNotFound
	case domainerr.CodeInvalidOrExpired:
		return http.StatusGone
	case domainerr.CodeLastOwnerViolation,
		domainerr.CodeSeatLimitReached,
		domainerr.CodeTenantInactive,
		domainerr.CodeAlreadyAccepted,
		domainerr.CodeEmailAlreadyInUse,
		domainerr.CodeDuplicatePending,
		domainerr.CodeNoOp:
		return http.StatusConflict
	case domainerr.CodeCooldownActive:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// WriteError writes err as a JSON error response. The status comes from the
// error's domain code; internal errors never leak their message.
func WriteError(w http.ResponseWriter, err error, details map[string]interface{}) {
	code := domainerr.CodeOf(err)
	status := StatusFor(code)

	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal error"
		code = domainerr.CodeInternal
		details = nil
	}
	WriteJSON(w, status, ErrorResponse{
		Error:   message,
		Code:    code,
		Details: details,
	})
}

// WriteErrorMessage writes a JSON error response with a custom message
func WriteErrorMessage(w http.ResponseWriter, status int, code domainerr.Code, message string) {
	WriteJSON(w, status, ErrorResponse{Error: message, Code: code})
}

// WriteBadRequest writes a bad request error (400)
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusBadRequest, domainerr.CodeInvalidInput, message)
}

// WriteUnauthorized writes an unauthorized error (401)
func WriteUnauthorized(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusUnauthorized, domainerr.CodeForbidden, message)
}

// WriteCreated writes a successful creation response (201 Created) with JSON data
func WriteCreated(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusCreated, data)
}

// WriteSuccess writes a successful response (200 OK) with JSON data
func WriteSuccess(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, data)
}

// WriteNoContent writes a successful response with no content (204 No Content)
func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}
