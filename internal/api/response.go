package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// envelope is the JSON error wrapper for non-workflow responses.
type envelope struct {
	Error string `json:"error,omitempty"`
}

// writeWorkflow writes an already-serialized workflow (or echoed content)
// with the given status code.
func writeWorkflow(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		slog.Error("failed to write workflow response", "error", err)
	}
}

// writeError writes a JSON error response with the given status code and
// message.
func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{Error: msg}); err != nil {
		slog.Error("failed to encode json error response", "error", err)
	}
}
