package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"medihan/internal/account"
	"medihan/internal/constants"
)

type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

func setCookies(w http.ResponseWriter, cookies []*http.Cookie) {
	for _, c := range cookies {
		http.SetCookie(w, c)
	}
}

func badRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, constants.ErrCodeInvalidRequest, message)
}

func unauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, constants.ErrCodeAuthFailed, message)
}

func forbidden(w http.ResponseWriter, message string) {
	writeError(w, http.StatusForbidden, constants.ErrCodeForbidden, message)
}

func notFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, constants.ErrCodeNotFound, message)
}

func internalError(w http.ResponseWriter) {
	writeError(w, http.StatusInternalServerError, constants.ErrCodeInternal, "An internal error occurred")
}

// writeAccountError maps account package errors onto HTTP responses.
// Anything unrecognised is an infrastructure fault.
func writeAccountError(w http.ResponseWriter, err error) {
	var verr *account.ValidationError
	switch {
	case errors.As(err, &verr):
		badRequest(w, verr.Error())
	case errors.Is(err, account.ErrInvalidInput):
		badRequest(w, "Invalid request")
	case errors.Is(err, account.ErrConsentRequired):
		writeError(w, http.StatusBadRequest, constants.ErrCodeConsentRequired, "Privacy policy consent is required")
	case errors.Is(err, account.ErrSessionExpired):
		writeError(w, http.StatusUnauthorized, constants.ErrCodeSessionExpired, "Registration session expired, please sign in again")
	case errors.Is(err, account.ErrTokenRevoked):
		writeError(w, http.StatusUnauthorized, constants.ErrCodeSessionExpired, "Session expired, please sign in again")
	case errors.Is(err, account.ErrUnauthenticated):
		unauthorized(w, "Authentication required")
	case errors.Is(err, account.ErrAccountInactive):
		writeError(w, http.StatusForbidden, constants.ErrCodeAccountInactive, "Account is inactive")
	case errors.Is(err, account.ErrAlreadyRegistered):
		writeError(w, http.StatusConflict, constants.ErrCodeAlreadyRegistered, "An account already exists for this identity, please log in")
	case errors.Is(err, account.ErrNotPending):
		writeError(w, http.StatusConflict, constants.ErrCodeNotPending, "Account not found or already activated")
	default:
		slog.Error("unhandled account error", "component", "api", "error", err)
		internalError(w)
	}
}
