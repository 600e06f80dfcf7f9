package ingest

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/pergamon/askdoc/internal/extract"
	"github.com/pergamon/askdoc/internal/models"
	"github.com/pergamon/askdoc/internal/store"
)

// Pipeline runs the full ingestion of one file: extract, chunk, index, and
// track document status through the store.
type Pipeline struct {
	store     *store.Store
	extractor *extract.Extractor
	chunker   *Chunker
	logger    *zap.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the pipeline logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithChunker overrides the default chunker.
func WithChunker(c *Chunker) Option {
	return func(p *Pipeline) { p.chunker = c }
}

// NewPipeline returns a Pipeline writing into s.
func NewPipeline(s *store.Store, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:     s,
		extractor: extract.NewExtractor(),
		chunker:   NewChunker(DefaultChunkSize),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process ingests the file at path under documentID. The document status
// moves processing -> completed, or to failed on any error; the returned
// error reports the failing stage. removeSource deletes the file after a
// successful ingest (used for uploads spooled to a temp directory).
// Returns the number of chunks indexed.
func (p *Pipeline) Process(ctx context.Context, documentID, path, filename string, removeSource bool) (int, error) {
	start := time.Now()
	if err := p.store.UpdateDocumentStatus(documentID, models.StatusProcessing, 0, nil, filename); err != nil {
		return 0, fmt.Errorf("mark processing: %w", err)
	}

	text, err := p.extractor.Extract(path)
	if err != nil {
		p.fail(documentID, "extract", err)
		return 0, fmt.Errorf("extract %s: %w", filename, err)
	}

	chunks := p.chunker.Chunk(text, filename)
	if len(chunks) == 0 {
		err := fmt.Errorf("no text content found in %s", filename)
		p.fail(documentID, "chunk", err)
		return 0, err
	}

	if err := p.store.AddChunks(ctx, documentID, chunks); err != nil {
		p.fail(documentID, "index", err)
		return 0, fmt.Errorf("index %s: %w", filename, err)
	}

	now := time.Now().UTC()
	if err := p.store.UpdateDocumentStatus(documentID, models.StatusCompleted, len(chunks), &now, filename); err != nil {
		return len(chunks), fmt.Errorf("mark completed: %w", err)
	}

	if removeSource {
		if err := os.Remove(path); err != nil {
			p.logger.Warn("could not remove ingested source file",
				zap.String("path", path), zap.Error(err))
		}
	}

	p.logger.Info("document ingested",
		zap.String("document_id", documentID),
		zap.String("filename", filename),
		zap.Int("chunks", len(chunks)),
		zap.Duration("took", time.Since(start)))
	return len(chunks), nil
}

func (p *Pipeline) fail(documentID, stage string, cause error) {
	p.logger.Error("ingestion failed",
		zap.String("document_id", documentID),
		zap.String("stage", stage),
		zap.Error(cause))
	if err := p.store.UpdateDocumentStatus(documentID, models.StatusFailed, 0, nil, ""); err != nil {
		p.logger.Error("could not mark document failed",
			zap.String("document_id", documentID), zap.Error(err))
	}
}
