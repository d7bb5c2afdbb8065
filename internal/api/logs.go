package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
)

// LogEntry is one client-side log record re-emitted through the server's
// structured logger.
type LogEntry struct {
	Level     string          `json:"level"`
	Message   string          `json:"message"`
	Context   json.RawMessage `json:"context,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
	Source    string          `json:"source,omitempty"`
	Service   string          `json:"service,omitempty"`
}

// handleLogs ingests either a single log entry or a batch under "logs".
func handleLogs(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var raw json.RawMessage
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		var batch struct {
			Logs []LogEntry `json:"logs"`
		}
		var entries []LogEntry
		if err := json.Unmarshal(raw, &batch); err == nil && batch.Logs != nil {
			entries = batch.Logs
		} else {
			var single LogEntry
			if err := json.Unmarshal(raw, &single); err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid log payload: %v", err)
				return
			}
			entries = []LogEntry{single}
		}

		processed := 0
		for _, e := range entries {
			if strings.TrimSpace(e.Message) == "" {
				continue
			}
			emitLog(deps.Logger, e)
			processed++
		}
		if processed == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "no log entries with a message")
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{"success": true, "processed": processed})
	}
}

func emitLog(logger *slog.Logger, e LogEntry) {
	attrs := []any{"source", e.Source, "service", e.Service}
	if e.Timestamp != "" {
		attrs = append(attrs, "client_time", e.Timestamp)
	}
	if len(e.Context) > 0 {
		attrs = append(attrs, "context", json.RawMessage(e.Context))
	}

	switch strings.ToLower(e.Level) {
	case "debug":
		logger.Debug(e.Message, attrs...)
	case "warn", "warning":
		logger.Warn(e.Message, attrs...)
	case "error", "fatal":
		logger.Error(e.Message, attrs...)
	default:
		logger.Info(e.Message, attrs...)
	}
}
