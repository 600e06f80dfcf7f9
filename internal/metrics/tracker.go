// Package metrics records per-query performance measurements in SQLite and
// aggregates them for the metrics endpoint.
package metrics

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pergamon/askdoc/pkg/utils"
)

// Quality thresholds used by the summary counters.
const (
	highConfidence = 0.7
	lowSimilarity  = 0.5
	slowQueryMs    = 1000
)

// QueryRecord is one logged query. Question text is truncated before it is
// written so full questions never land in the database.
type QueryRecord struct {
	Timestamp       time.Time `json:"timestamp"`
	Question        string    `json:"question"`
	LatencyMs       float64   `json:"latency_ms"`
	RetrievalTimeMs float64   `json:"retrieval_time_ms"`
	LLMTimeMs       float64   `json:"llm_time_ms"`
	ChunksRetrieved int       `json:"chunks_retrieved"`
	Confidence      float64   `json:"confidence"`
	AvgSimilarity   float64   `json:"avg_similarity"`
}

// Summary aggregates all logged queries.
type Summary struct {
	TotalQueries int `json:"total_queries"`
	Latency      struct {
		AvgMs float64 `json:"avg_ms"`
		MinMs float64 `json:"min_ms"`
		MaxMs float64 `json:"max_ms"`
		P95Ms float64 `json:"p95_ms"`
		P99Ms float64 `json:"p99_ms"`
	} `json:"latency"`
	Retrieval struct {
		AvgTimeMs     float64 `json:"avg_time_ms"`
		AvgSimilarity float64 `json:"avg_similarity"`
	} `json:"retrieval"`
	LLM struct {
		AvgTimeMs float64 `json:"avg_time_ms"`
	} `json:"llm"`
	Confidence struct {
		Avg float64 `json:"avg"`
		Min float64 `json:"min"`
		Max float64 `json:"max"`
	} `json:"confidence"`
	Quality struct {
		HighConfidenceQueries int `json:"high_confidence_queries"`
		LowSimilarityQueries  int `json:"low_similarity_queries"`
		SlowQueriesOver1s     int `json:"slow_queries_over_1s"`
	} `json:"quality_metrics"`
	RecentQueries []QueryRecord `json:"recent_queries"`
}

// Tracker persists query metrics in a SQLite database.
type Tracker struct {
	db *sql.DB
}

// NewTracker opens or creates the metrics database at dbPath and initializes
// the schema. Parent directories are created if they do not exist.
func NewTracker(dbPath string) (*Tracker, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create metrics directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open metrics database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize metrics schema: %w", err)
	}
	return &Tracker{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS query_metrics (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp TIMESTAMP NOT NULL,
		question TEXT NOT NULL,
		latency_ms REAL NOT NULL,
		retrieval_time_ms REAL NOT NULL,
		llm_time_ms REAL NOT NULL,
		chunks_retrieved INTEGER NOT NULL,
		confidence REAL NOT NULL,
		avg_similarity REAL NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_query_metrics_timestamp ON query_metrics(timestamp);
	`
	_, err := db.Exec(schema)
	return err
}

// LogQuery records one query measurement.
func (t *Tracker) LogQuery(ctx context.Context, rec QueryRecord) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	_, err := t.db.ExecContext(ctx,
		`INSERT INTO query_metrics
		 (timestamp, question, latency_ms, retrieval_time_ms, llm_time_ms, chunks_retrieved, confidence, avg_similarity)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Timestamp, utils.Truncate(rec.Question, 100), rec.LatencyMs, rec.RetrievalTimeMs,
		rec.LLMTimeMs, rec.ChunksRetrieved, rec.Confidence, rec.AvgSimilarity,
	)
	if err != nil {
		return fmt.Errorf("log query: %w", err)
	}
	return nil
}

// GetSummary aggregates every logged query. An empty database yields a
// zero-valued summary with TotalQueries 0.
func (t *Tracker) GetSummary(ctx context.Context) (*Summary, error) {
	rows, err := t.db.QueryContext(ctx,
		`SELECT timestamp, question, latency_ms, retrieval_time_ms, llm_time_ms, chunks_retrieved, confidence, avg_similarity
		 FROM query_metrics ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query metrics: %w", err)
	}
	defer rows.Close()

	var records []QueryRecord
	for rows.Next() {
		var rec QueryRecord
		if err := rows.Scan(&rec.Timestamp, &rec.Question, &rec.LatencyMs, &rec.RetrievalTimeMs,
			&rec.LLMTimeMs, &rec.ChunksRetrieved, &rec.Confidence, &rec.AvgSimilarity); err != nil {
			return nil, fmt.Errorf("scan metrics row: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	summary := &Summary{TotalQueries: len(records), RecentQueries: []QueryRecord{}}
	if len(records) == 0 {
		return summary, nil
	}

	latencies := make([]float64, len(records))
	var retrievalSum, llmSum, confSum, simSum float64
	confMin, confMax := records[0].Confidence, records[0].Confidence
	latMin, latMax := records[0].LatencyMs, records[0].LatencyMs
	for i, rec := range records {
		latencies[i] = rec.LatencyMs
		retrievalSum += rec.RetrievalTimeMs
		llmSum += rec.LLMTimeMs
		confSum += rec.Confidence
		simSum += rec.AvgSimilarity
		if rec.Confidence < confMin {
			confMin = rec.Confidence
		}
		if rec.Confidence > confMax {
			confMax = rec.Confidence
		}
		if rec.LatencyMs < latMin {
			latMin = rec.LatencyMs
		}
		if rec.LatencyMs > latMax {
			latMax = rec.LatencyMs
		}
		if rec.Confidence > highConfidence {
			summary.Quality.HighConfidenceQueries++
		}
		if rec.AvgSimilarity < lowSimilarity {
			summary.Quality.LowSimilarityQueries++
		}
		if rec.LatencyMs > slowQueryMs {
			summary.Quality.SlowQueriesOver1s++
		}
	}
	n := float64(len(records))
	summary.Latency.AvgMs = round2(sumOf(latencies) / n)
	summary.Latency.MinMs = round2(latMin)
	summary.Latency.MaxMs = round2(latMax)
	summary.Latency.P95Ms = round2(utils.Percentile(latencies, 95))
	summary.Latency.P99Ms = round2(utils.Percentile(latencies, 99))
	summary.Retrieval.AvgTimeMs = round2(retrievalSum / n)
	summary.Retrieval.AvgSimilarity = round3(simSum / n)
	summary.LLM.AvgTimeMs = round2(llmSum / n)
	summary.Confidence.Avg = round3(confSum / n)
	summary.Confidence.Min = round3(confMin)
	summary.Confidence.Max = round3(confMax)

	recent := records
	if len(recent) > 5 {
		recent = recent[len(recent)-5:]
	}
	summary.RecentQueries = recent
	return summary, nil
}

// Close closes the database.
func (t *Tracker) Close() error {
	return t.db.Close()
}

func sumOf(xs []float64) float64 {
	var s float64
	for _, x := range xs {
		s += x
	}
	return s
}

func round2(x float64) float64 { return roundTo(x, 100) }
func round3(x float64) float64 { return roundTo(x, 1000) }

func roundTo(x float64, factor float64) float64 {
	if x >= 0 {
		return float64(int64(x*factor+0.5)) / factor
	}
	return float64(int64(x*factor-0.5)) / factor
}
