// Package httpjson writes small JSON response bodies with a fixed
// Content-Type. Every JSON error surface in the service goes through here so
// the header and body shape stay consistent.
package httpjson

import (
	"encoding/json"
	"net/http"
)

// ContentType is set on every body written by this package.
const ContentType = "application/json; charset=UTF-8"

// MessageBody is the {"message": ...} shape.
type MessageBody struct {
	Message string `json:"message"`
}

// ErrorBody is the {"error": ..., "details": [...]} shape. Details is omitted when empty.
type ErrorBody struct {
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
}

// Write sets the content type and status and encodes v. The returned error is
// the encode/write error, the status has already been sent by then.
func Write(w http.ResponseWriter, status int, v any) error {
	h := w.Header()
	h.Set("Content-Type", ContentType)
	h.Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if v == nil {
		return nil
	}
	return json.NewEncoder(w).Encode(v)
}

// Message writes {"message": msg}.
func Message(w http.ResponseWriter, status int, msg string) error {
	return Write(w, status, MessageBody{Message: msg})
}

// Error writes {"error": msg} with optional details.
func Error(w http.ResponseWriter, status int, msg string, details ...string) error {
	return Write(w, status, ErrorBody{Error: msg, Details: details})
}
