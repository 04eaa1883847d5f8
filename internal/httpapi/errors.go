package httpapi

import (
	"encoding/json"
	"net/http"

	"tevent/internal/tevent"
	"tevent/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// statusFor maps well-known registry errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case tevent.IsCapacity(err):
		return http.StatusTooManyRequests
	case tevent.IsDestroyed(err), tevent.IsUninitialized(err):
		return http.StatusServiceUnavailable
	}
	if he, ok := err.(HTTPError); ok {
		return he.StatusCode()
	}
	return http.StatusInternalServerError
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status})
}
