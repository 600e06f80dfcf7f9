package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// Task types understood by the Gemini embedding endpoint.
const (
	taskRetrievalDocument = "RETRIEVAL_DOCUMENT"
	taskRetrievalQuery    = "RETRIEVAL_QUERY"
)

// GeminiProvider embeds text with the Google Generative Language API.
// No timeout is enforced here; callers bound latency through ctx.
type GeminiProvider struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

// GeminiOption configures a GeminiProvider.
type GeminiOption func(*GeminiProvider)

// WithBaseURL overrides the API base URL (used in tests).
func WithBaseURL(u string) GeminiOption {
	return func(p *GeminiProvider) { p.baseURL = u }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) GeminiOption {
	return func(p *GeminiProvider) { p.client = c }
}

// NewGeminiProvider creates a provider for the given model (e.g. "text-embedding-004").
func NewGeminiProvider(apiKey, model string, opts ...GeminiOption) *GeminiProvider {
	p := &GeminiProvider{
		apiKey:  apiKey,
		model:   model,
		baseURL: defaultBaseURL,
		client:  http.DefaultClient,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type embedContentRequest struct {
	Model    string        `json:"model,omitempty"`
	Content  geminiContent `json:"content"`
	TaskType string        `json:"taskType"`
}

type batchEmbedRequest struct {
	Requests []embedContentRequest `json:"requests"`
}

type embeddingValues struct {
	Values []float32 `json:"values"`
}

type embedContentResponse struct {
	Embedding embeddingValues `json:"embedding"`
}

type batchEmbedResponse struct {
	Embeddings []embeddingValues `json:"embeddings"`
}

// EmbedDocuments embeds texts in document-indexing mode. The returned slice
// is ordered to match texts.
func (p *GeminiProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	reqs := make([]embedContentRequest, len(texts))
	for i, text := range texts {
		reqs[i] = embedContentRequest{
			Model:    "models/" + p.model,
			Content:  geminiContent{Parts: []geminiPart{{Text: text}}},
			TaskType: taskRetrievalDocument,
		}
	}
	url := fmt.Sprintf("%s/models/%s:batchEmbedContents?key=%s", p.baseURL, p.model, p.apiKey)
	var resp batchEmbedResponse
	if err := p.post(ctx, url, batchEmbedRequest{Requests: reqs}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: got %d for %d texts", len(resp.Embeddings), len(texts))
	}
	out := make([][]float32, len(texts))
	for i, e := range resp.Embeddings {
		out[i] = e.Values
	}
	return out, nil
}

// EmbedQuery embeds a single text in query mode.
func (p *GeminiProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	url := fmt.Sprintf("%s/models/%s:embedContent?key=%s", p.baseURL, p.model, p.apiKey)
	req := embedContentRequest{
		Content:  geminiContent{Parts: []geminiPart{{Text: text}}},
		TaskType: taskRetrievalQuery,
	}
	var resp embedContentResponse
	if err := p.post(ctx, url, req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Embedding.Values) == 0 {
		return nil, fmt.Errorf("empty embedding in response")
	}
	return resp.Embedding.Values, nil
}

func (p *GeminiProvider) post(ctx context.Context, url string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("embedding request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("embedding API returned %d: %s", resp.StatusCode, string(b))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Close is a no-op for GeminiProvider.
func (p *GeminiProvider) Close() error {
	return nil
}
