package memory

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Embedder generates a fixed-dimension embedding vector for a text. The llm
// package provides the production implementation; tests use fakes.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// embedAll returns embedding vectors for multiple texts concurrently.
// A single failure fails the whole batch.
func embedAll(ctx context.Context, e Embedder, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	results := make([][]float32, len(texts))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(4) // Bound concurrency to avoid overwhelming the provider.

	for i, text := range texts {
		g.Go(func() error {
			vec, err := e.Embed(gCtx, text)
			if err != nil {
				return fmt.Errorf("embedding entry %d: %w", i, err)
			}
			results[i] = vec
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
