package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/stridelabs/stride/internal/storage"
)

func handleListConversations(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		convs, err := deps.Conversations.List(r.Context(), ownerID(r))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing conversations: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"conversations": convs})
	}
}

func handleGetConversation(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		conv, msgs, err := deps.Conversations.Load(r.Context(), ownerID(r), id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found_error", "conversation %s not found", id)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading conversation: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"conversation": conv,
			"messages":     msgs,
		})
	}
}

func handleUpdateTitle(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		var req struct {
			Title string `json:"title"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		err := deps.Conversations.UpdateTitle(r.Context(), ownerID(r), id, req.Title)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			httpError(w, http.StatusNotFound, "not_found_error", "conversation %s not found", id)
		case err != nil:
			httpError(w, http.StatusBadRequest, "invalid_request_error", "updating title: %v", err)
		default:
			writeJSON(w, http.StatusOK, map[string]any{"success": true})
		}
	}
}

func handleDeleteConversation(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		err := deps.Conversations.Delete(r.Context(), ownerID(r), id)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			httpError(w, http.StatusNotFound, "not_found_error", "conversation %s not found", id)
		case err != nil:
			httpError(w, http.StatusInternalServerError, "api_error", "deleting conversation: %v", err)
		default:
			writeJSON(w, http.StatusOK, map[string]any{"success": true})
		}
	}
}
