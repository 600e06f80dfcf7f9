// Package models defines core data structures for chunks, documents, and QA requests.
package models

import "time"

// Document processing states. A document starts as processing and ends as
// completed or failed; neither terminal state transitions further.
const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Chunk is the unit of retrieval: a bounded span of one document's text
// plus descriptive metadata. Fields are immutable after creation.
type Chunk struct {
	DocumentID   string `json:"document_id"`
	ChunkID      string `json:"chunk_id"`
	Text         string `json:"text"`
	ChunkIndex   int    `json:"chunk_index"`
	Filename     string `json:"filename"`
	CharCount    int    `json:"char_count"`
	ApproxTokens int    `json:"approx_tokens"`
}

// ChunkInput is one chunk payload handed to the store for indexing.
// The store assigns the chunk ID from the document ID and position.
type ChunkInput struct {
	Text         string `json:"text"`
	ChunkIndex   int    `json:"chunk_index"`
	Filename     string `json:"filename"`
	CharCount    int    `json:"char_count"`
	ApproxTokens int    `json:"approx_tokens"`
}

// DocumentStatus tracks the processing state of one uploaded document.
// ProcessedAt is nil until the document reaches a terminal state.
type DocumentStatus struct {
	DocumentID  string     `json:"document_id"`
	Filename    string     `json:"filename"`
	Status      string     `json:"status"`
	ChunksCount int        `json:"chunks_count"`
	ProcessedAt *time.Time `json:"processed_at"`
}
