// Package vectorstore persists chunk embeddings and serves nearest-neighbor
// similarity search over them.
package vectorstore

import (
	"context"

	"hmo-buddy/internal/models"
)

// EmbedFunc produces the embedding vector for a text. The store uses it
// when a chunk arrives without a precomputed embedding; it must be the
// same model that embeds queries, or similarity scores are meaningless.
type EmbedFunc func(ctx context.Context, text string) ([]float32, error)

// Store is the persistence contract the RAG pipeline depends on. Mutating
// operations are mutually exclusive per collection; reads see a consistent
// snapshot.
type Store interface {
	// Add stores the chunks, computing embeddings for entries whose slot in
	// embeddings is nil (embeddings may itself be nil to compute all).
	// Returns the assigned chunk ids in input order.
	Add(ctx context.Context, chunks []models.Chunk, embeddings [][]float32) ([]string, error)

	// Search returns up to k chunks ranked by descending similarity to the
	// query embedding, excluding results below minSimilarity. Ties keep
	// insertion order.
	Search(ctx context.Context, queryEmbedding []float32, k int, minSimilarity float32) ([]models.SearchResult, error)

	// List aggregates stored chunks grouped by source document.
	List(ctx context.Context) ([]models.DocumentInfo, error)

	// Delete removes every chunk of the given source and reports how many
	// were removed. Returns models.ErrNotFound when the source is unknown.
	Delete(ctx context.Context, source string) (int, error)

	// Reset clears the whole collection. Irreversible.
	Reset(ctx context.Context) error

	// Count returns the number of stored chunks.
	Count(ctx context.Context) (int, error)

	Close() error
}
