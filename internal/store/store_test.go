package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/pergamon/askdoc/internal/models"
)

// stubProvider returns canned vectors per text so tests control geometry
// exactly. Unknown texts get the zero vector.
type stubProvider struct {
	dim      int
	vectors  map[string][]float32
	docErr   error
	queryErr error
	docCalls int
}

func (p *stubProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	p.docCalls++
	if p.docErr != nil {
		return nil, p.docErr
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = p.lookup(text)
	}
	return out, nil
}

func (p *stubProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if p.queryErr != nil {
		return nil, p.queryErr
	}
	return p.lookup(text), nil
}

func (p *stubProvider) lookup(text string) []float32 {
	if v, ok := p.vectors[text]; ok {
		return v
	}
	return make([]float32, p.dim)
}

func (p *stubProvider) Close() error { return nil }

func newTestStore(t *testing.T, provider *stubProvider) *Store {
	t.Helper()
	s, err := New(t.TempDir(), provider, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func inputs(texts ...string) []models.ChunkInput {
	out := make([]models.ChunkInput, len(texts))
	for i, text := range texts {
		out[i] = models.ChunkInput{
			Text:         text,
			ChunkIndex:   i,
			Filename:     "test.txt",
			CharCount:    len(text),
			ApproxTokens: len(text) / 4,
		}
	}
	return out
}

func TestSearchEmptyStore(t *testing.T) {
	s := newTestStore(t, &stubProvider{dim: 3})
	results, err := s.Search(context.Background(), "anything", 5, "", 0.7)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected no results from empty store, got %d", len(results))
	}
}

func TestSearchRejectsBadArguments(t *testing.T) {
	s := newTestStore(t, &stubProvider{dim: 3})
	if _, err := s.Search(context.Background(), "", 5, "", 0.7); err == nil {
		t.Error("expected error for empty query")
	}
	if _, err := s.Search(context.Background(), "q", 0, "", 0.7); err == nil {
		t.Error("expected error for topK 0")
	}
}

func TestAddChunksAssignsIDsAndAligns(t *testing.T) {
	p := &stubProvider{dim: 3, vectors: map[string][]float32{
		"alpha": {1, 0, 0},
		"beta":  {0, 1, 0},
	}}
	s := newTestStore(t, p)
	if err := s.AddChunks(context.Background(), "doc1", inputs("alpha", "beta")); err != nil {
		t.Fatalf("AddChunks: %v", err)
	}
	if got := s.ChunkCount(); got != 2 {
		t.Fatalf("ChunkCount = %d, want 2", got)
	}
	if got := s.Dimension(); got != 3 {
		t.Fatalf("Dimension = %d, want 3", got)
	}

	results, err := s.Search(context.Background(), "alpha", 2, "", 0.7)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].ChunkID != "doc1_chunk_0" {
		t.Errorf("top chunk ID = %q, want doc1_chunk_0", results[0].ChunkID)
	}
	if results[0].Score <= results[1].Score {
		t.Errorf("results not ordered: %f <= %f", results[0].Score, results[1].Score)
	}
}

func TestSearchHybridRanking(t *testing.T) {
	// "cats" overlaps the query both semantically (vector near the query)
	// and lexically; "weather" matches neither.
	p := &stubProvider{dim: 3, vectors: map[string][]float32{
		"cats are small mammals":  {0.9, 0.1, 0},
		"the weather is cloudy":   {0, 0, 1},
		"what are cats":           {1, 0, 0},
	}}
	s := newTestStore(t, p)
	err := s.AddChunks(context.Background(), "doc1",
		inputs("cats are small mammals", "the weather is cloudy"))
	if err != nil {
		t.Fatalf("AddChunks: %v", err)
	}

	results, err := s.Search(context.Background(), "what are cats", 2, "", 0.7)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if results[0].Text != "cats are small mammals" {
		t.Fatalf("top result = %q, want the mammal chunk", results[0].Text)
	}
	if results[0].DenseScore <= results[1].DenseScore {
		t.Errorf("dense component did not separate results")
	}
	if results[0].SparseScore != 1 {
		t.Errorf("best sparse score = %f, want 1 after max normalization", results[0].SparseScore)
	}
	if results[1].SparseScore != 0 {
		t.Errorf("non-matching sparse score = %f, want 0", results[1].SparseScore)
	}
	for _, r := range results {
		if r.SparseScore < 0 || r.SparseScore > 1 {
			t.Errorf("sparse score %f out of [0,1]", r.SparseScore)
		}
		if r.DenseScore < -1 || r.DenseScore > 1 {
			t.Errorf("dense score %f out of [-1,1]", r.DenseScore)
		}
	}
}

func TestSearchDocumentFilter(t *testing.T) {
	p := &stubProvider{dim: 2, vectors: map[string][]float32{
		"first doc text":  {1, 0},
		"second doc text": {0, 1},
	}}
	s := newTestStore(t, p)
	if err := s.AddChunks(context.Background(), "a", inputs("first doc text")); err != nil {
		t.Fatal(err)
	}
	if err := s.AddChunks(context.Background(), "b", inputs("second doc text")); err != nil {
		t.Fatal(err)
	}

	results, err := s.Search(context.Background(), "text", 10, "b", 0.7)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if results[0].DocumentID != "b" {
		t.Errorf("result from document %q, want b", results[0].DocumentID)
	}

	results, err = s.Search(context.Background(), "text", 10, "missing", 0.7)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("filter on unknown document returned %d results, want 0", len(results))
	}
}

func TestSearchSparseOnlyOnQueryEmbedFailure(t *testing.T) {
	p := &stubProvider{dim: 2, vectors: map[string][]float32{
		"apples grow on trees": {1, 0},
		"rivers flow downhill": {0, 1},
	}}
	s := newTestStore(t, p)
	if err := s.AddChunks(context.Background(), "doc1",
		inputs("apples grow on trees", "rivers flow downhill")); err != nil {
		t.Fatal(err)
	}

	p.queryErr = errors.New("provider down")
	results, err := s.Search(context.Background(), "apples", 2, "", 0.7)
	if err != nil {
		t.Fatalf("Search should degrade, got error: %v", err)
	}
	if results[0].Text != "apples grow on trees" {
		t.Fatalf("sparse-only top result = %q", results[0].Text)
	}
	for _, r := range results {
		if r.DenseScore != 0 {
			t.Errorf("dense score = %f with failed query embedding, want 0", r.DenseScore)
		}
	}
}

func TestSearchSparseOnlyOnDimensionMismatch(t *testing.T) {
	p := &stubProvider{dim: 3, vectors: map[string][]float32{
		"green tea leaves": {1, 0, 0},
	}}
	s := newTestStore(t, p)
	if err := s.AddChunks(context.Background(), "doc1", inputs("green tea leaves")); err != nil {
		t.Fatal(err)
	}

	// Queries now embed at a different width than the stored matrix.
	p.vectors["tea"] = []float32{1, 0}
	p.dim = 2
	results, err := s.Search(context.Background(), "tea", 1, "", 0.7)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if results[0].DenseScore != 0 {
		t.Errorf("dense score = %f on dimension mismatch, want 0", results[0].DenseScore)
	}
	if results[0].SparseScore != 1 {
		t.Errorf("sparse score = %f, want 1", results[0].SparseScore)
	}
}

func TestAddChunksNoPartialCommit(t *testing.T) {
	p := &stubProvider{dim: 2, docErr: errors.New("quota exceeded")}
	s := newTestStore(t, p)
	err := s.AddChunks(context.Background(), "doc1", inputs("one", "two"))
	if err == nil {
		t.Fatal("expected error from failing provider")
	}
	if !errors.Is(err, ErrEmbedding) {
		t.Errorf("error %v does not wrap ErrEmbedding", err)
	}
	if got := s.ChunkCount(); got != 0 {
		t.Errorf("ChunkCount = %d after failed add, want 0", got)
	}
}

func TestAddChunksBatches(t *testing.T) {
	p := &stubProvider{dim: 2, vectors: map[string][]float32{}}
	s := newTestStore(t, p)
	texts := make([]string, embedBatchSize+5)
	for i := range texts {
		texts[i] = "chunk text"
	}
	if err := s.AddChunks(context.Background(), "doc1", inputs(texts...)); err != nil {
		t.Fatalf("AddChunks: %v", err)
	}
	if p.docCalls != 2 {
		t.Errorf("provider called %d times, want 2 batches", p.docCalls)
	}
	if got := s.ChunkCount(); got != len(texts) {
		t.Errorf("ChunkCount = %d, want %d", got, len(texts))
	}
}

func TestDeleteDocument(t *testing.T) {
	p := &stubProvider{dim: 2, vectors: map[string][]float32{
		"keep me":   {1, 0},
		"remove me": {0, 1},
	}}
	s := newTestStore(t, p)
	if err := s.AddChunks(context.Background(), "keep", inputs("keep me")); err != nil {
		t.Fatal(err)
	}
	if err := s.AddChunks(context.Background(), "gone", inputs("remove me")); err != nil {
		t.Fatal(err)
	}
	now := time.Now()
	for _, id := range []string{"keep", "gone"} {
		if err := s.UpdateDocumentStatus(id, models.StatusCompleted, 1, &now, ""); err != nil {
			t.Fatal(err)
		}
	}

	deleted, err := s.DeleteDocument("gone")
	if err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}
	if !deleted {
		t.Fatal("DeleteDocument = false for known document")
	}
	if got := s.ChunkCount(); got != 1 {
		t.Errorf("ChunkCount = %d after delete, want 1", got)
	}
	if _, ok := s.GetDocumentStatus("gone"); ok {
		t.Error("status record survived deletion")
	}

	// The survivor still ranks normally.
	results, err := s.Search(context.Background(), "keep me", 5, "", 0.7)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].DocumentID != "keep" {
		t.Errorf("unexpected results after delete: %+v", results)
	}

	deleted, err = s.DeleteDocument("never-existed")
	if err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}
	if deleted {
		t.Error("DeleteDocument = true for unknown document")
	}
}

func TestDeleteLastDocumentResetsStore(t *testing.T) {
	p := &stubProvider{dim: 2, vectors: map[string][]float32{"only": {1, 0}}}
	s := newTestStore(t, p)
	if err := s.AddChunks(context.Background(), "solo", inputs("only")); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateDocumentStatus("solo", models.StatusCompleted, 1, nil, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := s.DeleteDocument("solo"); err != nil {
		t.Fatal(err)
	}
	if s.Dimension() != 0 {
		t.Errorf("Dimension = %d after emptying store, want 0", s.Dimension())
	}
	if s.HasDocuments() {
		t.Error("HasDocuments = true after emptying store")
	}
}

func TestUpdateDocumentStatusBackfillsFilename(t *testing.T) {
	p := &stubProvider{dim: 2, vectors: map[string][]float32{}}
	s := newTestStore(t, p)
	if err := s.AddChunks(context.Background(), "doc1", inputs("some text")); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateDocumentStatus("doc1", models.StatusProcessing, 0, nil, ""); err != nil {
		t.Fatal(err)
	}
	doc, ok := s.GetDocumentStatus("doc1")
	if !ok {
		t.Fatal("status record missing")
	}
	if doc.Filename != "test.txt" {
		t.Errorf("Filename = %q, want backfilled test.txt", doc.Filename)
	}

	if err := s.UpdateDocumentStatus("orphan", models.StatusFailed, 0, nil, ""); err != nil {
		t.Fatal(err)
	}
	doc, _ = s.GetDocumentStatus("orphan")
	if doc.Filename != "unknown" {
		t.Errorf("Filename = %q for chunk-less document, want unknown", doc.Filename)
	}

	// Explicit filename wins over backfill on update.
	if err := s.UpdateDocumentStatus("doc1", models.StatusCompleted, 1, nil, "real.pdf"); err != nil {
		t.Fatal(err)
	}
	doc, _ = s.GetDocumentStatus("doc1")
	if doc.Filename != "real.pdf" {
		t.Errorf("Filename = %q after explicit update, want real.pdf", doc.Filename)
	}
}

func TestListDocumentsSorted(t *testing.T) {
	s := newTestStore(t, &stubProvider{dim: 2})
	for _, id := range []string{"charlie", "alpha", "bravo"} {
		if err := s.UpdateDocumentStatus(id, models.StatusCompleted, 0, nil, id+".txt"); err != nil {
			t.Fatal(err)
		}
	}
	docs := s.ListDocuments()
	if len(docs) != 3 {
		t.Fatalf("got %d documents, want 3", len(docs))
	}
	for i, want := range []string{"alpha", "bravo", "charlie"} {
		if docs[i].DocumentID != want {
			t.Errorf("docs[%d] = %q, want %q", i, docs[i].DocumentID, want)
		}
	}
}

func TestSearchTopKTruncation(t *testing.T) {
	p := &stubProvider{dim: 2, vectors: map[string][]float32{}}
	s := newTestStore(t, p)
	if err := s.AddChunks(context.Background(), "doc1",
		inputs("one shared", "two shared", "three shared", "four shared")); err != nil {
		t.Fatal(err)
	}
	results, err := s.Search(context.Background(), "shared", 2, "", 0.5)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Errorf("got %d results, want topK=2", len(results))
	}
}
