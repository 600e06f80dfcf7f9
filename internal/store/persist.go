package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/pergamon/askdoc/internal/models"
)

// On-disk layout under the store root. vectors.bin is little-endian binary:
// uint32 dimension, uint32 row count, then count*dimension float32 values.
// chunks.json holds the chunk records in index order; documents.json the
// status records keyed by document ID.
const (
	fileVectors   = "vectors.bin"
	fileChunks    = "chunks.json"
	fileDocuments = "documents.json"
)

// saveLocked writes all three state files. Caller holds the write lock.
// Files are written independently; a crash between writes is repaired on
// the next load by dropping whatever no longer lines up.
func (s *Store) saveLocked() error {
	if err := s.saveVectors(); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(s.root, fileChunks), s.chunks); err != nil {
		return fmt.Errorf("write chunks: %w", err)
	}
	if err := writeJSON(filepath.Join(s.root, fileDocuments), s.documents); err != nil {
		return fmt.Errorf("write documents: %w", err)
	}
	return nil
}

func (s *Store) saveVectors() error {
	path := filepath.Join(s.root, fileVectors)
	if len(s.vectors) == 0 {
		// A stale matrix must not outlive its chunk records.
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove vectors: %w", err)
		}
		return nil
	}
	buf := make([]byte, 8+len(s.vectors)*s.dim*4)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(s.dim))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(s.vectors)))
	off := 8
	for _, row := range s.vectors {
		for _, v := range row {
			binary.LittleEndian.PutUint32(buf[off:off+4], math.Float32bits(v))
			off += 4
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf, 0644); err != nil {
		return fmt.Errorf("write vectors: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename vectors: %w", err)
	}
	return nil
}

// loadFromDisk restores persisted state. Every failure degrades: a corrupt
// or missing file is logged and treated as absent, never fatal. If the
// vector matrix and the chunk records disagree on length the matrix is
// dropped, which keeps the alignment invariant and leaves sparse-only
// retrieval working.
func (s *Store) loadFromDisk() {
	if err := readJSON(filepath.Join(s.root, fileChunks), &s.chunks); err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("chunk records unreadable, starting empty", zap.Error(err))
		}
		s.chunks = nil
	}
	if err := readJSON(filepath.Join(s.root, fileDocuments), &s.documents); err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("document records unreadable, starting empty", zap.Error(err))
		}
		s.documents = make(map[string]models.DocumentStatus)
	}
	if s.documents == nil {
		s.documents = make(map[string]models.DocumentStatus)
	}

	dim, vectors, err := loadVectors(filepath.Join(s.root, fileVectors))
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("vector matrix unreadable, dense retrieval disabled until reingest", zap.Error(err))
		}
	} else if len(vectors) != len(s.chunks) {
		s.logger.Warn("vector matrix out of sync with chunk records, dropping it",
			zap.Int("vectors", len(vectors)),
			zap.Int("chunks", len(s.chunks)))
	} else {
		s.vectors = vectors
		s.dim = dim
	}

	s.corpus = make([][]string, len(s.chunks))
	for i, ch := range s.chunks {
		s.corpus[i] = tokenize(ch.Text)
	}
	s.bm25 = newBM25Index(s.corpus)

	if len(s.chunks) > 0 || len(s.documents) > 0 {
		s.logger.Info("store restored",
			zap.Int("chunks", len(s.chunks)),
			zap.Int("documents", len(s.documents)),
			zap.Int("dimension", s.dim))
	}
}

func loadVectors(path string) (int, [][]float32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, nil, err
	}
	if len(data) < 8 {
		return 0, nil, fmt.Errorf("vector file truncated: %d bytes", len(data))
	}
	dim := int(binary.LittleEndian.Uint32(data[0:4]))
	count := int(binary.LittleEndian.Uint32(data[4:8]))
	if dim <= 0 || count < 0 {
		return 0, nil, fmt.Errorf("vector file header invalid: dim=%d count=%d", dim, count)
	}
	want := 8 + count*dim*4
	if len(data) != want {
		return 0, nil, fmt.Errorf("vector file size mismatch: got %d bytes, want %d", len(data), want)
	}
	vectors := make([][]float32, count)
	off := 8
	for i := range vectors {
		row := make([]float32, dim)
		for j := range row {
			row[j] = math.Float32frombits(binary.LittleEndian.Uint32(data[off : off+4]))
			off += 4
		}
		vectors[i] = row
	}
	return dim, vectors, nil
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
