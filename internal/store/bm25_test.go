package store

import "testing"

func TestBM25EmptyCorpus(t *testing.T) {
	if idx := newBM25Index(nil); idx != nil {
		t.Error("expected nil index for empty corpus")
	}
}

func TestBM25ScoresPerPosition(t *testing.T) {
	corpus := [][]string{
		tokenize("the quick brown fox"),
		tokenize("the lazy dog"),
		tokenize("quick quick quick"),
	}
	idx := newBM25Index(corpus)
	scores := idx.Scores(tokenize("quick fox"))
	if len(scores) != len(corpus) {
		t.Fatalf("got %d scores for %d documents", len(scores), len(corpus))
	}
	if scores[1] != 0 {
		t.Errorf("document with no query terms scored %f, want 0", scores[1])
	}
	if scores[0] <= 0 || scores[2] <= 0 {
		t.Errorf("matching documents scored %f and %f, want > 0", scores[0], scores[2])
	}
	// Both query terms beat a repeated single term.
	if scores[0] <= scores[2] {
		t.Errorf("two distinct matches (%f) should outrank repeated term (%f)", scores[0], scores[2])
	}
}

func TestBM25UnknownTermsIgnored(t *testing.T) {
	idx := newBM25Index([][]string{tokenize("hello world")})
	scores := idx.Scores(tokenize("zebra quantum"))
	if scores[0] != 0 {
		t.Errorf("unknown terms scored %f, want 0", scores[0])
	}
}

func TestTokenize(t *testing.T) {
	got := tokenize("  The Quick   BROWN fox ")
	want := []string{"the", "quick", "brown", "fox"}
	if len(got) != len(want) {
		t.Fatalf("tokenize returned %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("token %d = %q, want %q", i, got[i], want[i])
		}
	}
}
