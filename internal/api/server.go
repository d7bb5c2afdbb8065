// Package api exposes the REST surface: the streaming chat endpoint,
// conversation and memory management, and log ingestion.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/stridelabs/stride/internal/chat"
	"github.com/stridelabs/stride/internal/conversation"
	"github.com/stridelabs/stride/internal/memory"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Deps holds everything the handlers need. Logger must be non-nil.
type Deps struct {
	Orchestrator  *chat.Orchestrator
	Conversations *conversation.Store
	Memory        *memory.Store
	Logger        *slog.Logger
}

// NewHandler returns the REST API handler. When authToken is non-empty,
// every route except /health requires it as a bearer token.
func NewHandler(deps Deps, authToken string) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		if authToken != "" {
			r.Use(BearerAuth(authToken))
		}
		r.Use(ResolveOwner)

		r.Post("/v1/chat", handleChat(deps))

		r.Get("/v1/conversations", handleListConversations(deps))
		r.Get("/v1/conversations/{id}", handleGetConversation(deps))
		r.Patch("/v1/conversations/{id}", handleUpdateTitle(deps))
		r.Delete("/v1/conversations/{id}", handleDeleteConversation(deps))

		r.Post("/v1/memory", handleMemoryUpsert(deps))
		r.Post("/v1/memory/batch", handleMemoryBatch(deps))
		r.Get("/v1/memory/search", handleMemorySearch(deps))
		r.Post("/v1/memory/import", handleMemoryImport(deps))
		r.Delete("/v1/memory/{key}", handleMemoryDelete(deps))

		r.Post("/v1/logs", handleLogs(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
