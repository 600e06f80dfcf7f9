// Package embedding provides text embedding via the Gemini API and caching.
package embedding

import "context"

// Provider produces vector embeddings for text. Document-mode and
// query-mode embeddings use different task types and are not interchangeable.
type Provider interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Close() error
}
