package models

import (
	"encoding/json"
	"errors"
	"net/http"

	"wiretide/internal/fleet"
)

// Problem: тело ошибки в формате application/problem+json (RFC 7807).
type Problem struct {
	Type   string            `json:"type"`
	Title  string            `json:"title"`
	Status int               `json:"status"`
	Detail string            `json:"detail,omitempty"`
	Extra  map[string]string `json:"extra,omitempty"`
}

// WriteProblem пишет problem+json с указанным статусом.
func WriteProblem(w http.ResponseWriter, status int, title, detail string, extra map[string]string) {
	w.Header().Set("Content-Type", "application/problem+json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Problem{
		Type:   "about:blank",
		Title:  title,
		Status: status,
		Detail: detail,
		Extra:  extra,
	})
}

// StatusFor maps a domain error to an HTTP status and problem title.
func StatusFor(err error) (int, string) {
	switch {
	case errors.Is(err, fleet.ErrMissingCredential):
		return http.StatusUnauthorized, "Unauthorized"
	case errors.Is(err, fleet.ErrInvalidCredential):
		return http.StatusForbidden, "Forbidden"
	case errors.Is(err, fleet.ErrNoPendingConfig):
		return http.StatusNotFound, "No pending config"
	case errors.Is(err, fleet.ErrNotFound):
		return http.StatusNotFound, "Not found"
	case errors.Is(err, fleet.ErrInvalidTransition):
		return http.StatusBadRequest, "Invalid transition"
	case errors.Is(err, fleet.ErrPreconditionNotMet):
		return http.StatusBadRequest, "Precondition not met"
	case errors.Is(err, fleet.ErrInvalidDeviceType):
		return http.StatusBadRequest, "Invalid device type"
	case errors.Is(err, fleet.ErrDeviceNotApproved):
		return http.StatusForbidden, "Device not approved"
	case errors.Is(err, fleet.ErrInvalidArgument):
		return http.StatusBadRequest, "Bad request"
	case errors.Is(err, fleet.ErrPersistence):
		return http.StatusInternalServerError, "Persistence failure"
	default:
		return http.StatusInternalServerError, "Internal error"
	}
}

// WriteError пишет доменную ошибку. Детали внутренних ошибок наружу не отдаём.
func WriteError(w http.ResponseWriter, err error) {
	status, title := StatusFor(err)
	detail := err.Error()
	if title == "Internal error" {
		detail = "internal error"
	}
	WriteProblem(w, status, title, detail, nil)
}

// WriteJSON пишет v как application/json.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
