// Package embedding turns text into fixed-dimension vectors for similarity search.
package embedding

import (
	"context"
	"fmt"
)

// Embedder produces vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}

// Func adapts a plain function to the Embedder interface.
type Func struct {
	Dim int
	Fn  func(ctx context.Context, text string) ([]float32, error)
}

// Embed calls f.Fn.
func (f Func) Embed(ctx context.Context, text string) ([]float32, error) {
	return f.Fn(ctx, text)
}

// EmbedBatch calls Embed for each text.
func (f Func) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return embedEach(ctx, f, texts)
}

// Dimensions returns f.Dim.
func (f Func) Dimensions() int { return f.Dim }

// Close is a no-op.
func (f Func) Close() error { return nil }

func embedEach(ctx context.Context, e Embedder, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := e.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("failed to embed text %d: %w", i, err)
		}
		embeddings[i] = emb
	}
	return embeddings, nil
}
