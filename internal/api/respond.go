// Package api provides the JSON response envelope and error code taxonomy
// shared by every storefront route handler.
package api

import (
	"encoding/json"
	"net/http"
)

const (
	CodeValidation       = "VALIDATION_ERROR"
	CodeAuthentication   = "AUTHENTICATION_ERROR"
	CodeAuthorization    = "AUTHORIZATION_ERROR"
	CodeNotFound         = "NOT_FOUND"
	CodeConflict         = "CONFLICT"
	CodeRateLimited      = "RATE_LIMIT_EXCEEDED"
	CodeInternal         = "INTERNAL_ERROR"
	CodeWebhookSignature = "WEBHOOK_SIGNATURE_INVALID"
	CodeInsufficient     = "INSUFFICIENT_POINTS"
)

type ErrorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

type Meta struct {
	Page    int `json:"page"`
	PerPage int `json:"per_page"`
	Total   int `json:"total"`
}

type Envelope struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *ErrorBody `json:"error,omitempty"`
	Meta    *Meta      `json:"meta,omitempty"`
}

func JSON(w http.ResponseWriter, status int, data any) {
	write(w, status, Envelope{Success: true, Data: data})
}

func Paginated(w http.ResponseWriter, status int, data any, meta Meta) {
	write(w, status, Envelope{Success: true, Data: data, Meta: &meta})
}

func Error(w http.ResponseWriter, status int, code, message string) {
	write(w, status, Envelope{Success: false, Error: &ErrorBody{Code: code, Message: message}})
}

func ErrorDetails(w http.ResponseWriter, status int, code, message string, details map[string]any) {
	write(w, status, Envelope{Success: false, Error: &ErrorBody{Code: code, Message: message, Details: details}})
}

func Internal(w http.ResponseWriter) {
	Error(w, http.StatusInternalServerError, CodeInternal, "internal server error")
}

func write(w http.ResponseWriter, status int, env Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}
