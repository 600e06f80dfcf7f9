// Package llm generates grounded answers from retrieved context with the
// Gemini API, with a deterministic fallback when no API key is configured.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/pergamon/askdoc/internal/models"
	"github.com/pergamon/askdoc/pkg/utils"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// highQualityThreshold is the fused score above which a retrieved chunk
// counts toward answer confidence.
const highQualityThreshold = 0.7

// Service generates answers from retrieved chunks. With an empty API key it
// serves mock answers, which keeps development and tests offline.
type Service struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithBaseURL overrides the API base URL (used in tests).
func WithBaseURL(u string) Option {
	return func(s *Service) { s.baseURL = u }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Service) { s.client = c }
}

// WithLogger sets the service logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService creates an answering service for the given model
// (e.g. "gemini-flash-latest"). An empty apiKey enables mock answers.
func NewService(apiKey, model string, opts ...Option) *Service {
	s := &Service{
		apiKey:  apiKey,
		model:   model,
		baseURL: defaultBaseURL,
		client:  http.DefaultClient,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.apiKey == "" {
		s.logger.Warn("no LLM API key configured, serving mock answers")
	}
	return s
}

// Live reports whether a real LLM backend is configured.
func (s *Service) Live() bool {
	return s.apiKey != ""
}

// GenerateAnswer produces an answer to question grounded in the retrieved
// chunks, plus a confidence score in [0,1] derived from retrieval quality.
// A generation failure is folded into the answer text rather than returned,
// so a flaky LLM backend never fails the request.
func (s *Service) GenerateAnswer(ctx context.Context, question string, chunks []models.ScoredChunk) (string, float64) {
	prompt := buildPrompt(question, chunks)
	var answer string
	if s.apiKey != "" {
		text, err := s.generate(ctx, prompt)
		if err != nil {
			s.logger.Error("answer generation failed", zap.Error(err))
			answer = fmt.Sprintf("Error generating answer: %v", err)
		} else {
			answer = text
		}
	} else {
		answer = mockAnswer(question, chunks)
	}
	return answer, confidence(chunks)
}

// buildPrompt renders the retrieved chunks as numbered sources and wraps
// them with grounding instructions.
func buildPrompt(question string, chunks []models.ScoredChunk) string {
	var ctxb strings.Builder
	for i, ch := range chunks {
		fmt.Fprintf(&ctxb, "[Source %d] (from %s, similarity: %.3f)\n%s\n\n", i+1, ch.Filename, ch.Score, ch.Text)
	}
	return fmt.Sprintf(`You are a helpful AI assistant answering questions based on provided documents.

Context from documents:
%s
Question: %s

Instructions:
1. Answer the question using ONLY information from the provided context
2. If the context doesn't contain enough information to answer, say so clearly
3. Cite which source(s) you used (e.g., "According to Source 1...")
4. Be concise but complete
5. If information is contradictory across sources, mention this

Answer:`, ctxb.String(), question)
}

// mockAnswer is served when no API key is set. Deterministic, references
// the real retrieval results.
func mockAnswer(question string, chunks []models.ScoredChunk) string {
	if len(chunks) == 0 {
		return "No relevant passages were found for this question."
	}
	n := len(chunks)
	if n > 3 {
		n = 3
	}
	sources := make([]string, n)
	for i := range sources {
		sources[i] = fmt.Sprintf("Source %d", i+1)
	}
	return fmt.Sprintf(
		"Based on the provided documents (%s), here is the answer to your question about '%s'.\n\n"+
			"[Note: This is a mock response. Set GEMINI_API_KEY to use the Gemini LLM for answer generation.]\n\n"+
			"The retrieved context contains %d relevant passages that discuss this topic. "+
			"The most relevant passage (similarity score: %.3f) comes from %s.",
		strings.Join(sources, ", "), utils.Truncate(question, 50), len(chunks), chunks[0].Score, chunks[0].Filename)
}

// confidence combines the average fused score with the share of
// high-quality chunks, weighted 0.7/0.3 and clamped to 1.
func confidence(chunks []models.ScoredChunk) float64 {
	if len(chunks) == 0 {
		return 0
	}
	var sum float64
	highQuality := 0
	for _, ch := range chunks {
		sum += ch.Score
		if ch.Score > highQualityThreshold {
			highQuality++
		}
	}
	avg := sum / float64(len(chunks))
	ratio := float64(highQuality) / float64(len(chunks))
	c := avg*0.7 + ratio*0.3
	if c > 1 {
		c = 1
	}
	return c
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

func (s *Service) generate(ctx context.Context, prompt string) (string, error) {
	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", s.baseURL, s.model, s.apiKey)
	payload, err := json.Marshal(generateRequest{
		Contents: []content{{Parts: []part{{Text: prompt}}}},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("generation request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("generation API returned %d: %s", resp.StatusCode, string(b))
	}
	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(out.Candidates) == 0 || len(out.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("empty completion in response")
	}
	return out.Candidates[0].Content.Parts[0].Text, nil
}
