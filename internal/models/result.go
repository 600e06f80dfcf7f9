package models

// ScoredChunk is a single retrieval hit: the chunk plus its fused score
// and the dense/sparse components that produced it.
type ScoredChunk struct {
	Chunk
	Score       float64 `json:"score"`
	DenseScore  float64 `json:"dense_score"`
	SparseScore float64 `json:"sparse_score"`
}

// AnswerResponse is the response for an ask request.
type AnswerResponse struct {
	Answer          string        `json:"answer"`
	SourceChunks    []ScoredChunk `json:"source_chunks"`
	ConfidenceScore float64       `json:"confidence_score"`
	LatencyMs       float64       `json:"latency_ms"`
	DocumentIDs     []string      `json:"document_ids"`
}

// UploadResponse is returned after a document upload is accepted.
type UploadResponse struct {
	DocumentID string `json:"document_id"`
	Filename   string `json:"filename"`
	Status     string `json:"status"`
	Message    string `json:"message"`
}
