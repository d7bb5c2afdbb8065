package api

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/ledongthuc/pdf"

	"github.com/stridelabs/stride/internal/memory"
	"github.com/stridelabs/stride/internal/storage"
)

const (
	maxImportBodySize = 20 << 20 // 20MB, base64-encoded PDFs are bulky
	importChunkSize   = 1200     // characters per imported memory entry
)

func handleMemoryUpsert(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var e memory.Entry
		if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		if err := deps.Memory.Upsert(r.Context(), ownerID(r), e); err != nil {
			if errors.Is(err, memory.ErrInvalidEntry) {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "storing memory: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	}
}

func handleMemoryBatch(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Entries []memory.Entry `json:"entries"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if len(req.Entries) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "entries is required and must not be empty")
			return
		}

		n, err := deps.Memory.UpsertBatch(r.Context(), ownerID(r), req.Entries)
		if err != nil {
			if errors.Is(err, memory.ErrInvalidEntry) {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "storing memories: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "count": n})
	}
}

// handleMemorySearch serves all three retrieval modes behind one endpoint,
// selected by the mode query parameter: similar (default), tags, key.
func handleMemorySearch(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		limit, _ := strconv.Atoi(q.Get("limit"))

		var (
			results []memory.Record
			err     error
		)
		switch mode := q.Get("mode"); mode {
		case "", "similar":
			query := q.Get("q")
			if strings.TrimSpace(query) == "" {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "q is required for similarity search")
				return
			}
			results, err = deps.Memory.Similar(r.Context(), ownerID(r), query, limit)
		case "tags":
			tags := splitNonEmpty(q.Get("tags"))
			if len(tags) == 0 {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "tags is required for tag search")
				return
			}
			results, err = deps.Memory.ByTags(r.Context(), ownerID(r), tags, limit)
		case "key":
			pattern := q.Get("pattern")
			if strings.TrimSpace(pattern) == "" {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "pattern is required for key search")
				return
			}
			exact := q.Get("exact") == "true"
			results, err = deps.Memory.ByKey(r.Context(), ownerID(r), pattern, exact, limit)
		default:
			httpError(w, http.StatusBadRequest, "invalid_request_error", "unknown search mode %q", mode)
			return
		}

		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "searching memories: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"count":   len(results),
			"results": results,
		})
	}
}

// handleMemoryImport extracts text from a base64-encoded PDF and stores it
// as a batch of memory entries keyed <name>#<n>.
func handleMemoryImport(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxImportBodySize)
		defer r.Body.Close()

		var req struct {
			Name string   `json:"name"`
			Data string   `json:"data"` // base64-encoded PDF bytes
			Tags []string `json:"tags"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if strings.TrimSpace(req.Name) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "name is required")
			return
		}
		if req.Data == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "data is required")
			return
		}

		raw, err := base64.StdEncoding.DecodeString(req.Data)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "data is not valid base64: %v", err)
			return
		}

		text, err := extractPDFText(raw)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "extracting pdf text: %v", err)
			return
		}

		chunks := splitChunks(text, importChunkSize)
		if len(chunks) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "document contains no extractable text")
			return
		}

		entries := make([]memory.Entry, len(chunks))
		for i, chunk := range chunks {
			entries[i] = memory.Entry{
				Key:   fmt.Sprintf("%s#%04d", req.Name, i),
				Value: chunk,
				Tags:  append([]string{"import"}, req.Tags...),
			}
		}

		n, err := deps.Memory.UpsertBatch(r.Context(), ownerID(r), entries)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "storing imported memories: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "count": n})
	}
}

func handleMemoryDelete(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := chi.URLParam(r, "key")

		err := deps.Memory.Delete(r.Context(), ownerID(r), key)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			httpError(w, http.StatusNotFound, "not_found_error", "memory %s not found", key)
		case err != nil:
			httpError(w, http.StatusInternalServerError, "api_error", "deleting memory: %v", err)
		default:
			writeJSON(w, http.StatusOK, map[string]any{"success": true})
		}
	}
}

func extractPDFText(raw []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return "", fmt.Errorf("reading pdf: %w", err)
	}
	plain, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extracting text: %w", err)
	}
	var b strings.Builder
	if _, err := io.Copy(&b, plain); err != nil {
		return "", fmt.Errorf("reading text: %w", err)
	}
	return b.String(), nil
}

// splitChunks breaks text into pieces of at most maxLen characters,
// preferring paragraph then word boundaries. Blank-only chunks are dropped.
func splitChunks(text string, maxLen int) []string {
	var chunks []string
	var current strings.Builder

	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			chunks = append(chunks, s)
		}
		current.Reset()
	}

	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if current.Len() > 0 && current.Len()+len(para)+2 > maxLen {
			flush()
		}
		if len(para) <= maxLen {
			if current.Len() > 0 {
				current.WriteString("\n\n")
			}
			current.WriteString(para)
			continue
		}
		flush()
		for _, word := range strings.Fields(para) {
			if current.Len()+len(word)+1 > maxLen {
				flush()
			}
			if current.Len() > 0 {
				current.WriteString(" ")
			}
			current.WriteString(word)
		}
		flush()
	}
	flush()
	return chunks
}

func splitNonEmpty(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
