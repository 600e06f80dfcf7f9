// Package store implements the hybrid retrieval engine: an in-memory index
// fusing dense cosine similarity with sparse BM25 scoring over the same
// chunk set, with disk persistence.
//
// The engine's central invariant is positional alignment: the chunk record
// slice, the dense vector matrix, and the tokenized sparse corpus always
// have the same length, and position i in each refers to the same chunk.
// Every mutation preserves it under the store's write lock. The one allowed
// exception: a persisted matrix that cannot be trusted is dropped whole at
// load, leaving the matrix empty while chunk records remain; dense scoring
// stays off until the store is emptied or reingested.
package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pergamon/askdoc/internal/embedding"
	"github.com/pergamon/askdoc/internal/models"
	"github.com/pergamon/askdoc/pkg/utils"
)

// embedBatchSize bounds one document-embedding request to respect provider
// payload limits.
const embedBatchSize = 20

// ErrEmbedding marks embedding-provider failures. Callers use it to mark
// the owning document failed; the store never retries.
var ErrEmbedding = errors.New("embedding provider failure")

// Store owns the chunk records, document records, dense matrix, and sparse
// corpus. All access goes through its operations; a single RWMutex guards
// the alignment invariant since searches overlap background ingestion.
type Store struct {
	mu       sync.RWMutex
	root     string
	provider embedding.Provider
	logger   *zap.Logger

	vectors   [][]float32 // one row per chunk, fixed width
	dim       int         // 0 until the first vector is added or loaded
	chunks    []models.Chunk
	corpus    [][]string // tokenized chunk texts, index-aligned with chunks
	bm25      *bm25Index // nil while the corpus is empty
	documents map[string]models.DocumentStatus
}

// New creates a store rooted at dir and restores any persisted state.
// Corrupt or missing files degrade to empty state with a logged warning;
// construction only fails when the root cannot be created.
func New(dir string, provider embedding.Provider, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create store root: %w", err)
	}
	s := &Store{
		root:      dir,
		provider:  provider,
		logger:    logger,
		documents: make(map[string]models.DocumentStatus),
	}
	s.loadFromDisk()
	return s, nil
}

// AddChunks embeds the chunk texts in document mode and appends them to the
// dense matrix, sparse corpus, and chunk records, then persists. The call is
// all-or-nothing: any embedding failure aborts before anything is committed,
// and the error wraps ErrEmbedding so the caller can mark the document failed.
func (s *Store) AddChunks(ctx context.Context, documentID string, chunks []models.ChunkInput) error {
	if len(chunks) == 0 {
		return nil
	}
	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}

	// Embed every batch before taking the write lock; a partial result is
	// never committed.
	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := s.provider.EmbedDocuments(ctx, texts[start:end])
		if err != nil {
			return fmt.Errorf("%w: batch at %d: %v", ErrEmbedding, start, err)
		}
		if len(batch) != end-start {
			return fmt.Errorf("%w: batch at %d returned %d vectors for %d texts", ErrEmbedding, start, len(batch), end-start)
		}
		vectors = append(vectors, batch...)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.vectors) == len(s.chunks) {
		if s.dim == 0 && len(vectors) > 0 {
			s.dim = len(vectors[0])
		}
		s.vectors = append(s.vectors, vectors...)
	} else {
		// The matrix was dropped at load; rows for only the new chunks would
		// pair with the wrong positions. Dense stays off until reingest.
		s.logger.Warn("dense matrix out of sync with chunk records, new vectors dropped",
			zap.Int("vectors", len(s.vectors)),
			zap.Int("chunks", len(s.chunks)))
	}
	for i, ch := range chunks {
		s.corpus = append(s.corpus, tokenize(ch.Text))
		s.chunks = append(s.chunks, models.Chunk{
			DocumentID:   documentID,
			ChunkID:      fmt.Sprintf("%s_chunk_%d", documentID, i),
			Text:         ch.Text,
			ChunkIndex:   ch.ChunkIndex,
			Filename:     ch.Filename,
			CharCount:    ch.CharCount,
			ApproxTokens: ch.ApproxTokens,
		})
	}
	// Sparse index rebuild is full, not incremental: O(total chunks),
	// accepted for the target corpus size.
	s.bm25 = newBM25Index(s.corpus)

	if err := s.saveLocked(); err != nil {
		return fmt.Errorf("persist after add: %w", err)
	}
	s.logger.Debug("chunks added",
		zap.String("document_id", documentID),
		zap.Int("chunks", len(chunks)),
		zap.Int("total_chunks", len(s.chunks)))
	return nil
}

// Search ranks all chunks against the query by fused dense+sparse score and
// returns the top topK. alpha weights the dense component; 1-alpha the
// sparse one. documentID, when non-empty, keeps only that document's chunks.
//
// Query-path failures degrade instead of erroring: an embedding failure or a
// dimension mismatch drops the dense component (logged), and the sparse path
// still ranks. With both paths gone, results come back in original chunk
// order with zero scores.
func (s *Store) Search(ctx context.Context, query string, topK int, documentID string, alpha float64) ([]models.ScoredChunk, error) {
	if query == "" {
		return nil, fmt.Errorf("query cannot be empty")
	}
	if topK < 1 {
		return nil, fmt.Errorf("topK must be >= 1, got %d", topK)
	}
	if alpha < 0 {
		alpha = 0
	} else if alpha > 1 {
		alpha = 1
	}

	s.mu.RLock()
	empty := len(s.chunks) == 0
	s.mu.RUnlock()
	if empty {
		return []models.ScoredChunk{}, nil
	}

	// Embed outside the lock; network I/O must not block writers.
	qvec, embedErr := s.provider.EmbedQuery(ctx, query)
	if embedErr != nil {
		s.logger.Warn("query embedding failed, dense scoring skipped", zap.Error(embedErr))
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.chunks) == 0 {
		return []models.ScoredChunk{}, nil
	}

	dense := s.denseScoresLocked(qvec, embedErr == nil)
	sparse := s.sparseScoresLocked(query)

	results := make([]models.ScoredChunk, 0, len(s.chunks))
	for i, ch := range s.chunks {
		if documentID != "" && ch.DocumentID != documentID {
			continue
		}
		var d, sp float64
		if dense != nil {
			d = dense[i]
		}
		if sparse != nil {
			sp = sparse[i]
		}
		results = append(results, models.ScoredChunk{
			Chunk:       ch,
			Score:       alpha*d + (1-alpha)*sp,
			DenseScore:  d,
			SparseScore: sp,
		})
	}
	// Stable sort: ties keep original index order.
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// denseScoresLocked returns the cosine similarity of every stored row
// against qvec, or nil when no dense signal is available. A zero-norm query
// is left unnormalized; zero-norm rows substitute norm 1, so they score 0
// by construction.
func (s *Store) denseScoresLocked(qvec []float32, embedded bool) []float64 {
	if !embedded || len(s.vectors) == 0 || len(s.vectors) != len(s.chunks) {
		return nil
	}
	if len(qvec) != s.dim {
		s.logger.Warn("dense scoring skipped: dimension mismatch",
			zap.Int("stored_dim", s.dim),
			zap.Int("query_dim", len(qvec)))
		return nil
	}
	q := qvec
	if norm := utils.L2Norm(qvec); norm > 0 {
		q = make([]float32, len(qvec))
		for i, v := range qvec {
			q[i] = v / float32(norm)
		}
	}
	scores := make([]float64, len(s.vectors))
	for i, row := range s.vectors {
		rowNorm := utils.L2Norm(row)
		if rowNorm == 0 {
			rowNorm = 1
		}
		scores[i] = utils.Dot(row, q) / rowNorm
	}
	return scores
}

// sparseScoresLocked returns BM25 scores for every chunk, divided by the
// maximum score of this query (max 0 keeps everything at 0), or nil when
// the sparse index is absent.
func (s *Store) sparseScoresLocked(query string) []float64 {
	if s.bm25 == nil {
		return nil
	}
	scores := s.bm25.Scores(tokenize(query))
	maxScore := 0.0
	for _, v := range scores {
		if v > maxScore {
			maxScore = v
		}
	}
	if maxScore == 0 {
		maxScore = 1
	}
	for i := range scores {
		scores[i] /= maxScore
	}
	return scores
}

// DeleteDocument removes the document's status record and all of its chunks,
// filters the dense matrix and sparse corpus to the surviving positions, and
// rebuilds the sparse index. Returns false when the document is unknown.
func (s *Store) DeleteDocument(documentID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.documents[documentID]; !ok {
		return false, nil
	}
	delete(s.documents, documentID)

	denseAligned := len(s.vectors) == len(s.chunks)
	keptChunks := s.chunks[:0:0]
	keptVectors := s.vectors[:0:0]
	keptCorpus := s.corpus[:0:0]
	for i, ch := range s.chunks {
		if ch.DocumentID == documentID {
			continue
		}
		keptChunks = append(keptChunks, ch)
		if denseAligned {
			keptVectors = append(keptVectors, s.vectors[i])
		}
		keptCorpus = append(keptCorpus, s.corpus[i])
	}
	s.chunks = keptChunks
	if denseAligned {
		s.vectors = keptVectors
	}
	s.corpus = keptCorpus
	if len(s.chunks) == 0 {
		// Nothing left anywhere: reset to the uninitialized state.
		s.vectors = nil
		s.corpus = nil
		s.bm25 = nil
		s.dim = 0
	} else {
		s.bm25 = newBM25Index(s.corpus)
	}

	if err := s.saveLocked(); err != nil {
		return true, fmt.Errorf("persist after delete: %w", err)
	}
	s.logger.Debug("document deleted",
		zap.String("document_id", documentID),
		zap.Int("remaining_chunks", len(s.chunks)))
	return true, nil
}

// UpdateDocumentStatus upserts the status record for documentID. On first
// creation with no filename, the filename is backfilled from an existing
// chunk record of the same document, or "unknown".
func (s *Store) UpdateDocumentStatus(documentID, status string, chunksCount int, processedAt *time.Time, filename string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.documents[documentID]
	if !ok {
		if filename == "" {
			filename = "unknown"
			for _, ch := range s.chunks {
				if ch.DocumentID == documentID {
					filename = ch.Filename
					break
				}
			}
		}
		doc = models.DocumentStatus{DocumentID: documentID, Filename: filename}
	} else if filename != "" {
		doc.Filename = filename
	}
	doc.Status = status
	doc.ChunksCount = chunksCount
	doc.ProcessedAt = processedAt
	s.documents[documentID] = doc

	if err := s.saveLocked(); err != nil {
		return fmt.Errorf("persist after status update: %w", err)
	}
	return nil
}

// GetDocumentStatus returns the status record for documentID, if known.
func (s *Store) GetDocumentStatus(documentID string) (models.DocumentStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.documents[documentID]
	return doc, ok
}

// ListDocuments returns all document status records.
func (s *Store) ListDocuments() []models.DocumentStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.DocumentStatus, 0, len(s.documents))
	for _, doc := range s.documents {
		out = append(out, doc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DocumentID < out[j].DocumentID })
	return out
}

// HasDocuments reports whether any chunks are indexed.
func (s *Store) HasDocuments() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks) > 0
}

// ChunkCount returns the number of indexed chunks.
func (s *Store) ChunkCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks)
}

// DocumentCount returns the number of document status records.
func (s *Store) DocumentCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.documents)
}

// Dimension returns the dense vector width, or 0 when uninitialized.
func (s *Store) Dimension() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dim
}

// Root returns the storage root directory.
func (s *Store) Root() string {
	return s.root
}
