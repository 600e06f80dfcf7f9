package metrics

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestTracker(t *testing.T) *Tracker {
	t.Helper()
	tr, err := NewTracker(filepath.Join(t.TempDir(), "metrics.db"))
	if err != nil {
		t.Fatalf("NewTracker: %v", err)
	}
	t.Cleanup(func() { tr.Close() })
	return tr
}

func TestSummaryEmpty(t *testing.T) {
	tr := newTestTracker(t)
	s, err := tr.GetSummary(context.Background())
	if err != nil {
		t.Fatalf("GetSummary: %v", err)
	}
	if s.TotalQueries != 0 {
		t.Errorf("TotalQueries = %d, want 0", s.TotalQueries)
	}
	if len(s.RecentQueries) != 0 {
		t.Errorf("RecentQueries = %v", s.RecentQueries)
	}
}

func TestLogAndSummarize(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()
	records := []QueryRecord{
		{Question: "fast one", LatencyMs: 100, RetrievalTimeMs: 20, LLMTimeMs: 70, ChunksRetrieved: 5, Confidence: 0.9, AvgSimilarity: 0.8},
		{Question: "slow one", LatencyMs: 1500, RetrievalTimeMs: 200, LLMTimeMs: 1200, ChunksRetrieved: 5, Confidence: 0.4, AvgSimilarity: 0.3},
		{Question: "middle one", LatencyMs: 400, RetrievalTimeMs: 50, LLMTimeMs: 300, ChunksRetrieved: 3, Confidence: 0.8, AvgSimilarity: 0.6},
	}
	for _, rec := range records {
		if err := tr.LogQuery(ctx, rec); err != nil {
			t.Fatalf("LogQuery: %v", err)
		}
	}

	s, err := tr.GetSummary(ctx)
	if err != nil {
		t.Fatalf("GetSummary: %v", err)
	}
	if s.TotalQueries != 3 {
		t.Fatalf("TotalQueries = %d, want 3", s.TotalQueries)
	}
	if s.Latency.MinMs != 100 || s.Latency.MaxMs != 1500 {
		t.Errorf("latency min/max = %f/%f", s.Latency.MinMs, s.Latency.MaxMs)
	}
	wantAvg := (100.0 + 1500.0 + 400.0) / 3
	if diff := s.Latency.AvgMs - wantAvg; diff > 0.01 || diff < -0.01 {
		t.Errorf("AvgMs = %f, want %f", s.Latency.AvgMs, wantAvg)
	}
	if s.Quality.HighConfidenceQueries != 2 {
		t.Errorf("HighConfidenceQueries = %d, want 2", s.Quality.HighConfidenceQueries)
	}
	if s.Quality.LowSimilarityQueries != 1 {
		t.Errorf("LowSimilarityQueries = %d, want 1", s.Quality.LowSimilarityQueries)
	}
	if s.Quality.SlowQueriesOver1s != 1 {
		t.Errorf("SlowQueriesOver1s = %d, want 1", s.Quality.SlowQueriesOver1s)
	}
	if len(s.RecentQueries) != 3 {
		t.Errorf("RecentQueries = %d entries, want 3", len(s.RecentQueries))
	}
}

func TestRecentQueriesCappedAtFive(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()
	for i := 0; i < 8; i++ {
		rec := QueryRecord{Question: "q", LatencyMs: float64(i), Timestamp: time.Now().UTC()}
		if err := tr.LogQuery(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}
	s, err := tr.GetSummary(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(s.RecentQueries) != 5 {
		t.Fatalf("RecentQueries = %d entries, want 5", len(s.RecentQueries))
	}
	// Most recent entries, in insertion order.
	if s.RecentQueries[0].LatencyMs != 3 || s.RecentQueries[4].LatencyMs != 7 {
		t.Errorf("recent window wrong: first %f last %f",
			s.RecentQueries[0].LatencyMs, s.RecentQueries[4].LatencyMs)
	}
}

func TestQuestionTruncated(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()
	long := strings.Repeat("z", 300)
	if err := tr.LogQuery(ctx, QueryRecord{Question: long, LatencyMs: 1}); err != nil {
		t.Fatal(err)
	}
	s, err := tr.GetSummary(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got := len(s.RecentQueries[0].Question); got > 103 {
		t.Errorf("stored question length = %d, want truncated", got)
	}
}

func TestTrackerReopens(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "metrics.db")
	tr, err := NewTracker(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := tr.LogQuery(context.Background(), QueryRecord{Question: "persisted", LatencyMs: 10}); err != nil {
		t.Fatal(err)
	}
	if err := tr.Close(); err != nil {
		t.Fatal(err)
	}

	tr2, err := NewTracker(path)
	if err != nil {
		t.Fatal(err)
	}
	defer tr2.Close()
	s, err := tr2.GetSummary(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if s.TotalQueries != 1 {
		t.Errorf("TotalQueries = %d after reopen, want 1", s.TotalQueries)
	}
}
