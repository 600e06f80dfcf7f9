package embedding

import (
	"context"
	"hash/fnv"
	"math"
)

// MockProvider is a deterministic provider for tests and keyless development.
// It returns a fixed-dimension unit vector derived from the text hash so that
// the same text always gets the same embedding.
type MockProvider struct {
	dimensions int
}

// NewMockProvider returns a provider that produces deterministic embeddings
// of the given dimensions.
func NewMockProvider(dimensions int) *MockProvider {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &MockProvider{dimensions: dimensions}
}

// EmbedDocuments embeds each text deterministically.
func (p *MockProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = p.embed(text)
	}
	return out, nil
}

// EmbedQuery embeds a single text deterministically.
func (p *MockProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return p.embed(text), nil
}

func (p *MockProvider) embed(text string) []float32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(text))
	seed := int(h.Sum32() % 10000)
	emb := make([]float32, p.dimensions)
	for i := 0; i < p.dimensions; i++ {
		emb[i] = float32(math.Sin(float64(seed*(i+1)))*0.1 + 0.01)
	}
	// Normalize to unit length for cosine similarity
	var sum float64
	for _, v := range emb {
		sum += float64(v * v)
	}
	if sum > 0 {
		norm := 1.0 / math.Sqrt(sum)
		for i := range emb {
			emb[i] *= float32(norm)
		}
	}
	return emb
}

// Close is a no-op for MockProvider.
func (p *MockProvider) Close() error {
	return nil
}
