package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/stridelabs/stride/internal/memory"
)

// Memory tool names.
const (
	ToolMemoryStore      = "memory_store"
	ToolMemoryStoreBatch = "memory_store_batch"
	ToolMemoryRecall     = "memory_recall"
	ToolMemorySearchTags = "memory_search_tags"
	ToolMemorySearchKey  = "memory_search_key"
)

// MemoryToolNames lists every memory tool, in the order they are registered.
var MemoryToolNames = []string{
	ToolMemoryStore,
	ToolMemoryStoreBatch,
	ToolMemoryRecall,
	ToolMemorySearchTags,
	ToolMemorySearchKey,
}

// RegisterMemoryTools adds the memory store's operations to the registry.
func RegisterMemoryTools(r *Registry, store *memory.Store) {
	r.Register(Tool{
		Name: ToolMemoryStore,
		Description: "Store a fact about the user for later recall. Upserts by key: " +
			"storing the same key again overwrites the previous value and tags.",
		Parameters: objectSchema(map[string]any{
			"key":   stringProperty("Short semantic label for the memory, e.g. \"goal\" or \"dietary-restrictions\""),
			"value": stringProperty("The free-text content to remember"),
			"tags":  stringArrayProperty("Optional tags for categorization"),
		}, "key", "value"),
		Handler: func(ctx context.Context, userID string, args json.RawMessage) Result {
			var in memory.Entry
			if err := json.Unmarshal(args, &in); err != nil {
				return Errorf("invalid arguments: %v", err)
			}
			if err := validateEntryInput(in); err != nil {
				return Errorf("%v", err)
			}
			if err := store.Upsert(ctx, userID, in); err != nil {
				return Errorf("storing memory failed: %v", err)
			}
			return Result{Success: true, Message: fmt.Sprintf("Stored memory %q", in.Key)}
		},
	})

	r.Register(Tool{
		Name: ToolMemoryStoreBatch,
		Description: "Store several memories at once. The whole batch is validated first " +
			"and written atomically: either every entry is stored or none is.",
		Parameters: objectSchema(map[string]any{
			"entries": arrayProperty("Memories to store", objectSchema(map[string]any{
				"key":   stringProperty("Short semantic label"),
				"value": stringProperty("Free-text content"),
				"tags":  stringArrayProperty("Optional tags"),
			}, "key", "value")),
		}, "entries"),
		Handler: func(ctx context.Context, userID string, args json.RawMessage) Result {
			var in struct {
				Entries []memory.Entry `json:"entries"`
			}
			if err := json.Unmarshal(args, &in); err != nil {
				return Errorf("invalid arguments: %v", err)
			}
			if len(in.Entries) == 0 {
				return Errorf("entries is required and must not be empty")
			}
			for i, e := range in.Entries {
				if err := validateEntryInput(e); err != nil {
					return Errorf("entry %d: %v", i, err)
				}
			}
			n, err := store.UpsertBatch(ctx, userID, in.Entries)
			if err != nil {
				return Errorf("storing memories failed: %v", err)
			}
			return Result{Success: true, Count: n, Message: fmt.Sprintf("Stored %d memories", n)}
		},
	})

	r.Register(Tool{
		Name: ToolMemoryRecall,
		Description: "Semantically search stored memories and return the entries most " +
			"similar to the query, nearest first.",
		Parameters: objectSchema(map[string]any{
			"query": stringProperty("What to look for"),
			"limit": integerProperty("Maximum number of results (default 5)"),
		}, "query"),
		Handler: func(ctx context.Context, userID string, args json.RawMessage) Result {
			var in struct {
				Query string `json:"query"`
				Limit int    `json:"limit"`
			}
			if err := json.Unmarshal(args, &in); err != nil {
				return Errorf("invalid arguments: %v", err)
			}
			if strings.TrimSpace(in.Query) == "" {
				return Errorf("query is required")
			}
			results, err := store.Similar(ctx, userID, in.Query, in.Limit)
			if err != nil {
				return Errorf("recall failed: %v", err)
			}
			return Result{Success: true, Count: len(results), Results: results}
		},
	})

	r.Register(Tool{
		Name: ToolMemorySearchTags,
		Description: "Return memories carrying any of the given tags, most recent first.",
		Parameters: objectSchema(map[string]any{
			"tags":  stringArrayProperty("Tags to match; any single match qualifies"),
			"limit": integerProperty("Maximum number of results (default 10)"),
		}, "tags"),
		Handler: func(ctx context.Context, userID string, args json.RawMessage) Result {
			var in struct {
				Tags  []string `json:"tags"`
				Limit int      `json:"limit"`
			}
			if err := json.Unmarshal(args, &in); err != nil {
				return Errorf("invalid arguments: %v", err)
			}
			if len(in.Tags) == 0 {
				return Errorf("tags is required and must not be empty")
			}
			results, err := store.ByTags(ctx, userID, in.Tags, in.Limit)
			if err != nil {
				return Errorf("tag search failed: %v", err)
			}
			return Result{Success: true, Count: len(results), Results: results}
		},
	})

	r.Register(Tool{
		Name: ToolMemorySearchKey,
		Description: "Find memories by key, either exact or substring match, most recent first.",
		Parameters: objectSchema(map[string]any{
			"pattern":     stringProperty("Key or key fragment to search for"),
			"exact_match": booleanProperty("When true, only keys equal to pattern match"),
			"limit":       integerProperty("Maximum number of results (default 10)"),
		}, "pattern"),
		Handler: func(ctx context.Context, userID string, args json.RawMessage) Result {
			var in struct {
				Pattern    string `json:"pattern"`
				ExactMatch bool   `json:"exact_match"`
				Limit      int    `json:"limit"`
			}
			if err := json.Unmarshal(args, &in); err != nil {
				return Errorf("invalid arguments: %v", err)
			}
			if strings.TrimSpace(in.Pattern) == "" {
				return Errorf("pattern is required")
			}
			results, err := store.ByKey(ctx, userID, in.Pattern, in.ExactMatch, in.Limit)
			if err != nil {
				return Errorf("key search failed: %v", err)
			}
			return Result{Success: true, Count: len(results), Results: results}
		},
	})
}

// validateEntryInput rejects malformed entries before any storage or
// embedding I/O happens.
func validateEntryInput(e memory.Entry) error {
	if strings.TrimSpace(e.Key) == "" {
		return fmt.Errorf("key is required")
	}
	if strings.TrimSpace(e.Value) == "" {
		return fmt.Errorf("value is required")
	}
	for i, tag := range e.Tags {
		if strings.TrimSpace(tag) == "" {
			return fmt.Errorf("tag %d must not be empty", i)
		}
	}
	return nil
}
