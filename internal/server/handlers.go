package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pergamon/askdoc/internal/extract"
	"github.com/pergamon/askdoc/internal/metrics"
	"github.com/pergamon/askdoc/internal/models"
)

// maxUploadBytes bounds one uploaded document.
const maxUploadBytes = 50 << 20

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !extract.Supported(ext) {
		s.respondError(w, http.StatusBadRequest,
			"Unsupported file type. Allowed: "+strings.Join(extract.SupportedExtensions(), ", "))
		return
	}

	documentID := uuid.New().String()
	if err := os.MkdirAll(s.config.Storage.UploadsDir, 0755); err != nil {
		s.logger.Error("create uploads directory failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "failed to save file")
		return
	}
	path := filepath.Join(s.config.Storage.UploadsDir, documentID+ext)
	dst, err := os.Create(path)
	if err != nil {
		s.logger.Error("create upload file failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "failed to save file")
		return
	}
	if _, err := io.Copy(dst, file); err != nil {
		_ = dst.Close()
		_ = os.Remove(path)
		s.logger.Error("write upload file failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "failed to save file")
		return
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(path)
		s.respondError(w, http.StatusInternalServerError, "failed to save file")
		return
	}

	if err := s.store.UpdateDocumentStatus(documentID, models.StatusProcessing, 0, nil, header.Filename); err != nil {
		s.logger.Error("mark processing failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// Ingestion runs in the background; the uploaded file is removed once
	// indexed. Clients poll /documents/{id} for completion.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		if _, err := s.pipeline.Process(ctx, documentID, path, header.Filename, true); err != nil {
			s.logger.Error("background ingestion failed",
				zap.String("document_id", documentID), zap.Error(err))
		}
	}()

	s.respondJSON(w, http.StatusAccepted, models.UploadResponse{
		DocumentID: documentID,
		Filename:   header.Filename,
		Status:     models.StatusProcessing,
		Message:    "Document uploaded and processing started",
	})
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req models.AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	// Config supplies the defaults; explicit request values win.
	if req.TopK <= 0 {
		req.TopK = s.config.Retrieval.DefaultTopK
	}
	if req.Alpha == nil {
		a := s.config.Retrieval.Alpha
		req.Alpha = &a
	}
	if err := req.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !s.store.HasDocuments() {
		s.respondError(w, http.StatusBadRequest, "No documents available. Please upload documents first.")
		return
	}

	retrievalStart := time.Now()
	chunks, err := s.store.Search(r.Context(), req.Question, req.TopK, req.DocumentID, *req.Alpha)
	if err != nil {
		s.logger.Error("search failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	retrievalMs := float64(time.Since(retrievalStart).Microseconds()) / 1000
	if len(chunks) == 0 {
		s.respondError(w, http.StatusNotFound, "No relevant information found in documents")
		return
	}

	llmStart := time.Now()
	answer, confidence := s.llm.GenerateAnswer(r.Context(), req.Question, chunks)
	llmMs := float64(time.Since(llmStart).Microseconds()) / 1000
	totalMs := float64(time.Since(start).Microseconds()) / 1000

	var simSum float64
	seen := make(map[string]bool)
	var documentIDs []string
	for _, ch := range chunks {
		simSum += ch.Score
		if !seen[ch.DocumentID] {
			seen[ch.DocumentID] = true
			documentIDs = append(documentIDs, ch.DocumentID)
		}
	}

	if err := s.tracker.LogQuery(r.Context(), metrics.QueryRecord{
		Question:        req.Question,
		LatencyMs:       totalMs,
		RetrievalTimeMs: retrievalMs,
		LLMTimeMs:       llmMs,
		ChunksRetrieved: len(chunks),
		Confidence:      confidence,
		AvgSimilarity:   simSum / float64(len(chunks)),
	}); err != nil {
		// Metrics are best effort; the answer still goes out.
		s.logger.Warn("metrics logging failed", zap.Error(err))
	}

	s.respondJSON(w, http.StatusOK, models.AnswerResponse{
		Answer:          answer,
		SourceChunks:    chunks,
		ConfidenceScore: confidence,
		LatencyMs:       totalMs,
		DocumentIDs:     documentIDs,
	})
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.store.ListDocuments())
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	doc, ok := s.store.GetDocumentStatus(id)
	if !ok {
		s.respondError(w, http.StatusNotFound, "Document not found")
		return
	}
	s.respondJSON(w, http.StatusOK, doc)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.logger.Debug("delete document request", zap.String("id", id))
	deleted, err := s.store.DeleteDocument(id)
	if err != nil {
		s.logger.Error("deletion failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !deleted {
		s.respondError(w, http.StatusNotFound, "Document not found")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{
		"message":     "Document deleted successfully",
		"document_id": id,
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	summary, err := s.tracker.GetSummary(r.Context())
	if err != nil {
		s.logger.Error("metrics summary failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, summary)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"documents":        s.store.DocumentCount(),
		"chunks":           s.store.ChunkCount(),
		"vector_dimension": s.store.Dimension(),
		"llm_live":         s.llm.Live(),
		"config": map[string]interface{}{
			"embedding_model": s.config.Embedding.Model,
			"llm_model":       s.config.LLM.Model,
			"chunk_size":      s.config.Retrieval.ChunkSize,
			"default_top_k":   s.config.Retrieval.DefaultTopK,
			"alpha":           s.config.Retrieval.Alpha,
			"data_dir":        s.config.Storage.DataDir,
		},
	}
	if diskBytes, err := s.store.DiskUsageBytes(); err == nil {
		resp["disk_usage_bytes"] = diskBytes
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":          "healthy",
		"timestamp":       time.Now().UTC().Format(time.RFC3339),
		"documents_count": s.store.DocumentCount(),
	})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response failed", zap.Error(err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, msg string) {
	s.respondJSON(w, status, map[string]string{"error": msg})
}
