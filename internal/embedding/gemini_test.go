package embedding

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestGeminiEmbedDocuments(t *testing.T) {
	var gotPath string
	var gotReq batchEmbedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		resp := batchEmbedResponse{Embeddings: make([]embeddingValues, len(gotReq.Requests))}
		for i := range resp.Embeddings {
			resp.Embeddings[i] = embeddingValues{Values: []float32{float32(i), 1}}
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	p := NewGeminiProvider("key", "text-embedding-004", WithBaseURL(srv.URL))
	out, err := p.EmbedDocuments(context.Background(), []string{"first", "second"})
	if err != nil {
		t.Fatalf("EmbedDocuments: %v", err)
	}
	if len(out) != 2 || out[1][0] != 1 {
		t.Errorf("out = %v", out)
	}
	if !strings.Contains(gotPath, "text-embedding-004:batchEmbedContents") {
		t.Errorf("path = %q", gotPath)
	}
	if len(gotReq.Requests) != 2 {
		t.Fatalf("sent %d requests", len(gotReq.Requests))
	}
	if gotReq.Requests[0].TaskType != taskRetrievalDocument {
		t.Errorf("TaskType = %q", gotReq.Requests[0].TaskType)
	}
	if gotReq.Requests[0].Content.Parts[0].Text != "first" {
		t.Errorf("text = %q", gotReq.Requests[0].Content.Parts[0].Text)
	}
}

func TestGeminiEmbedDocumentsEmpty(t *testing.T) {
	p := NewGeminiProvider("key", "text-embedding-004")
	out, err := p.EmbedDocuments(context.Background(), nil)
	if err != nil || out != nil {
		t.Errorf("got %v, %v", out, err)
	}
}

func TestGeminiEmbedQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req embedContentRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.TaskType != taskRetrievalQuery {
			t.Errorf("TaskType = %q", req.TaskType)
		}
		_ = json.NewEncoder(w).Encode(embedContentResponse{
			Embedding: embeddingValues{Values: []float32{0.1, 0.2, 0.3}},
		})
	}))
	defer srv.Close()

	p := NewGeminiProvider("key", "text-embedding-004", WithBaseURL(srv.URL))
	v, err := p.EmbedQuery(context.Background(), "what is this")
	if err != nil {
		t.Fatalf("EmbedQuery: %v", err)
	}
	if len(v) != 3 {
		t.Errorf("len = %d", len(v))
	}
}

func TestGeminiAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"quota exceeded"}}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := NewGeminiProvider("key", "text-embedding-004", WithBaseURL(srv.URL))
	if _, err := p.EmbedQuery(context.Background(), "q"); err == nil {
		t.Fatal("expected error from 429")
	} else if !strings.Contains(err.Error(), "429") {
		t.Errorf("error = %v, want status in message", err)
	}
}

func TestGeminiCountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"embeddings":[{"values":[1]}]}`)
	}))
	defer srv.Close()

	p := NewGeminiProvider("key", "text-embedding-004", WithBaseURL(srv.URL))
	if _, err := p.EmbedDocuments(context.Background(), []string{"a", "b"}); err == nil {
		t.Fatal("expected count mismatch error")
	}
}
