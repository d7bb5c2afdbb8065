// Package memory implements the per-user long-term memory store: keyed
// free-text entries with tags and an embedding vector, persisted in the
// shared SQLite database and searchable by cosine similarity, tag
// membership, or key.
package memory

import (
	"container/heap"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stridelabs/stride/internal/storage"
)

const (
	// DefaultSimilarLimit caps nearest-neighbor results when the caller
	// does not specify a limit.
	DefaultSimilarLimit = 5

	// DefaultSearchLimit caps tag and key search results.
	DefaultSearchLimit = 10
)

// Entry is the caller-supplied form of a memory record.
type Entry struct {
	Key   string   `json:"key"`
	Value string   `json:"value"`
	Tags  []string `json:"tags,omitempty"`
}

// Record is a stored memory entry as returned by searches. Score is the
// cosine similarity to the query and is only set by Similar.
type Record struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	Tags      []string  `json:"tags"`
	Score     float32   `json:"score,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Store owns the memory table. Every operation is scoped to a user and
// regenerates the embedding from the value on each write, so vectors are
// never stale relative to their text.
type Store struct {
	db       *sql.DB
	embedder Embedder
}

// NewStore wraps an existing database handle (the memory table must exist
// via migrations) and an embedder.
func NewStore(db *sql.DB, embedder Embedder) *Store {
	return &Store{db: db, embedder: embedder}
}

// ErrInvalidEntry marks entries rejected before any embedding or storage
// I/O happens.
var ErrInvalidEntry = errors.New("invalid entry")

func validateEntry(e Entry) error {
	if strings.TrimSpace(e.Key) == "" {
		return fmt.Errorf("%w: key must not be empty", ErrInvalidEntry)
	}
	if strings.TrimSpace(e.Value) == "" {
		return fmt.Errorf("%w: value must not be empty", ErrInvalidEntry)
	}
	for i, tag := range e.Tags {
		if strings.TrimSpace(tag) == "" {
			return fmt.Errorf("%w: tag %d must not be empty", ErrInvalidEntry, i)
		}
	}
	return nil
}

func tagsJSON(tags []string) (string, error) {
	if len(tags) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("encoding tags: %w", err)
	}
	return string(b), nil
}

// Upsert stores or replaces the entry keyed by (userID, key). On conflict
// value, tags, and embedding are overwritten together; created_at keeps the
// original insertion time.
func (s *Store) Upsert(ctx context.Context, userID string, e Entry) error {
	if err := validateEntry(e); err != nil {
		return err
	}
	tags, err := tagsJSON(e.Tags)
	if err != nil {
		return err
	}

	vec, err := s.embedder.Embed(ctx, e.Value)
	if err != nil {
		return fmt.Errorf("embedding value: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO memory (user_id, key, value, tags, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(key, user_id) DO UPDATE SET
			value = excluded.value,
			tags = excluded.tags,
			embedding = excluded.embedding`,
		userID, e.Key, e.Value, tags, encodeFloat32s(vec), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("upserting memory %q: %w", e.Key, err)
	}
	return nil
}

// UpsertBatch stores multiple entries atomically: the whole batch is
// validated before any embedding call, embeddings are generated
// concurrently, and all rows are written in a single transaction. Any
// failure leaves the table untouched. Returns the number of entries written.
func (s *Store) UpsertBatch(ctx context.Context, userID string, entries []Entry) (int, error) {
	if len(entries) == 0 {
		return 0, fmt.Errorf("entries must not be empty")
	}
	for i, e := range entries {
		if err := validateEntry(e); err != nil {
			return 0, fmt.Errorf("entry %d: %w", i, err)
		}
	}

	texts := make([]string, len(entries))
	for i, e := range entries {
		texts[i] = e.Value
	}
	vectors, err := embedAll(ctx, s.embedder, texts)
	if err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning batch transaction: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO memory (user_id, key, value, tags, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(key, user_id) DO UPDATE SET
			value = excluded.value,
			tags = excluded.tags,
			embedding = excluded.embedding`)
	if err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("preparing batch upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	for i, e := range entries {
		tags, err := tagsJSON(e.Tags)
		if err != nil {
			tx.Rollback()
			return 0, err
		}
		if _, err := stmt.ExecContext(ctx, userID, e.Key, e.Value, tags, encodeFloat32s(vectors[i]), now); err != nil {
			tx.Rollback()
			return 0, fmt.Errorf("upserting entry %q: %w", e.Key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing batch: %w", err)
	}
	return len(entries), nil
}

// Similar embeds the query and returns the user's limit nearest entries by
// cosine distance, nearest first. An empty slice (not an error) is returned
// when the user has no rows.
func (s *Store) Similar(ctx context.Context, userID, query string, limit int) ([]Record, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query must not be empty")
	}
	if limit <= 0 {
		limit = DefaultSimilarLimit
	}

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	queryNorm := norm(vec)
	if queryNorm == 0 {
		return []Record{}, nil
	}

	// Phase 1: scan only id + embedding to find top-K candidates.
	rows, err := s.db.QueryContext(ctx, "SELECT id, embedding FROM memory WHERE user_id = ?", userID)
	if err != nil {
		return nil, fmt.Errorf("scanning vectors: %w", err)
	}
	defer rows.Close()

	h := &idScoreHeap{}
	heap.Init(h)

	// Reusable buffer for decoding embeddings to avoid per-row allocations.
	var buf []float32

	for rows.Next() {
		var id int64
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}

		buf, err = decodeFloat32sInto(buf, blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for row %d: %w", id, err)
		}

		score := cosineSimilarity(vec, buf, queryNorm)
		if h.Len() < limit {
			heap.Push(h, idScore{ID: id, Score: score})
		} else if score > (*h)[0].Score {
			(*h)[0] = idScore{ID: id, Score: score}
			heap.Fix(h, 0)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}

	if h.Len() == 0 {
		return []Record{}, nil
	}

	// Phase 2: fetch full records only for the top-K IDs.
	topIDs := make([]int64, h.Len())
	scores := make(map[int64]float32, h.Len())
	for i := len(topIDs) - 1; i >= 0; i-- {
		item := heap.Pop(h).(idScore)
		topIDs[i] = item.ID
		scores[item.ID] = item.Score
	}

	queryArgs := make([]any, len(topIDs))
	for i, id := range topIDs {
		queryArgs[i] = id
	}
	fullQuery := `SELECT id, key, value, tags, created_at FROM memory
		WHERE id IN (?` + strings.Repeat(",?", len(topIDs)-1) + `)`

	fullRows, err := s.db.QueryContext(ctx, fullQuery, queryArgs...)
	if err != nil {
		return nil, fmt.Errorf("fetching top-K records: %w", err)
	}
	defer fullRows.Close()

	byID := make(map[int64]Record, len(topIDs))
	for fullRows.Next() {
		var id int64
		var r Record
		var tags, createdAt string
		if err := fullRows.Scan(&id, &r.Key, &r.Value, &tags, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning full record: %w", err)
		}
		if err := json.Unmarshal([]byte(tags), &r.Tags); err != nil {
			return nil, fmt.Errorf("decoding tags for %q: %w", r.Key, err)
		}
		if r.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		r.Score = scores[id]
		byID[id] = r
	}
	if err := fullRows.Err(); err != nil {
		return nil, fmt.Errorf("iterating full records: %w", err)
	}

	// topIDs is already ordered nearest first; the IN query is not.
	results := make([]Record, 0, len(topIDs))
	for _, id := range topIDs {
		if r, ok := byID[id]; ok {
			results = append(results, r)
		}
	}
	return results, nil
}

// ByTags returns the user's entries whose tag set intersects the given tags
// (any match qualifies), most recent first, capped at limit.
func (s *Store) ByTags(ctx context.Context, userID string, tags []string, limit int) ([]Record, error) {
	if len(tags) == 0 {
		return nil, fmt.Errorf("tags must not be empty")
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	wanted := make(map[string]bool, len(tags))
	for _, t := range tags {
		wanted[t] = true
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT key, value, tags, created_at FROM memory
		WHERE user_id = ? ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying memory: %w", err)
	}
	defer rows.Close()

	results := []Record{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		for _, t := range r.Tags {
			if wanted[t] {
				results = append(results, r)
				break
			}
		}
		if len(results) >= limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}
	return results, nil
}

// ByKey returns the user's entries whose key equals pattern (exact) or
// contains it (substring), most recent first, capped at limit.
func (s *Store) ByKey(ctx context.Context, userID, pattern string, exact bool, limit int) ([]Record, error) {
	if strings.TrimSpace(pattern) == "" {
		return nil, fmt.Errorf("pattern must not be empty")
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	where := "instr(key, ?) > 0"
	if exact {
		where = "key = ?"
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, value, tags, created_at FROM memory
		WHERE user_id = ? AND `+where+`
		ORDER BY created_at DESC, id DESC LIMIT ?`, userID, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("querying memory: %w", err)
	}
	defer rows.Close()

	results := []Record{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}
	return results, nil
}

// Delete removes the entry keyed by (userID, key). Missing rows are reported
// as storage.ErrNotFound so callers can distinguish not-found from failure.
func (s *Store) Delete(ctx context.Context, userID, key string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM memory WHERE user_id = ? AND key = ?", userID, key)
	if err != nil {
		return fmt.Errorf("deleting memory %q: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Count returns the number of entries owned by userID.
func (s *Store) Count(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM memory WHERE user_id = ?", userID).Scan(&n)
	return n, err
}

func scanRecord(rows *sql.Rows) (Record, error) {
	var r Record
	var tags, createdAt string
	if err := rows.Scan(&r.Key, &r.Value, &tags, &createdAt); err != nil {
		return Record{}, fmt.Errorf("scanning record: %w", err)
	}
	if err := json.Unmarshal([]byte(tags), &r.Tags); err != nil {
		return Record{}, fmt.Errorf("decoding tags for %q: %w", r.Key, err)
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return Record{}, fmt.Errorf("parsing created_at: %w", err)
	}
	r.CreatedAt = t
	return r, nil
}
