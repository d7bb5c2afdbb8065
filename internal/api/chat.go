package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/stridelabs/stride/internal/chat"
)

// handleChat runs one chat turn and streams its events back as
// server-sent events. Failures before the first event return a JSON error;
// failures mid-stream become an error event on the stream itself.
func handleChat(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req chat.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.ConversationID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "conversationId is required")
			return
		}
		if len(req.Messages) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "messages is required and must not be empty")
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			httpError(w, http.StatusInternalServerError, "api_error", "streaming not supported")
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		sink := func(e chat.Event) error {
			payload, err := json.Marshal(e)
			if err != nil {
				return fmt.Errorf("marshaling event: %w", err)
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
				return err
			}
			flusher.Flush()
			return nil
		}

		if err := deps.Orchestrator.Run(r.Context(), ownerID(r), req, sink); err != nil {
			deps.Logger.Error("chat turn failed",
				"conversation_id", req.ConversationID, "error", err)
		}
	}
}
