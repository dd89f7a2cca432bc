package shared

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/imagevault/imagevault/internal/redact"
)

// ErrorResponse is the standard error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}

// RespondWithJSON writes a JSON response with the given status code.
func RespondWithJSON(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

// RespondWithError writes a JSON error response carrying the trace ID from
// the request context.
func RespondWithError(w http.ResponseWriter, r *http.Request, status int, message string) {
	RespondWithJSON(w, r, status, ErrorResponse{
		Error:   message,
		TraceID: GetTraceID(r.Context()),
	})
}

// RespondWithErrorAndLog writes a sanitized error response and logs the
// underlying error. The raw error never reaches the client; its redacted
// form goes to the logs only. 5xx errors log at ERROR, everything else at
// DEBUG.
func RespondWithErrorAndLog(w http.ResponseWriter, r *http.Request, status int, userMessage string, err error) {
	traceID := GetTraceID(r.Context())

	attrs := []any{
		"trace_id", traceID,
		"path", r.URL.Path,
		"method", r.Method,
		"status_code", status,
		"user_message", userMessage,
	}
	if err != nil {
		attrs = append(attrs,
			"error", redact.Error(err),
			"error_type", fmt.Sprintf("%T", err))
	}

	if status >= 500 {
		slog.Error("request failed", attrs...)
	} else {
		slog.Debug("request rejected", attrs...)
	}

	RespondWithJSON(w, r, status, ErrorResponse{
		Error:   userMessage,
		TraceID: traceID,
	})
}
