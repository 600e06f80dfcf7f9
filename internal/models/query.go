package models

import "fmt"

// Default and maximum values for ask requests.
const (
	DefaultTopK  = 5
	MaxTopK      = 20
	MaxQuestion  = 500
	DefaultAlpha = 0.7
)

// AskRequest is a question over the indexed corpus with optional filters.
// Alpha weights the dense score against the sparse score; 0 means sparse
// only, 1 means dense only.
type AskRequest struct {
	Question   string   `json:"question"`
	DocumentID string   `json:"document_id,omitempty"`
	TopK       int      `json:"top_k,omitempty"`
	Alpha      *float64 `json:"alpha,omitempty"`
}

// Validate checks the request fields and applies defaults.
func (r *AskRequest) Validate() error {
	if r.Question == "" {
		return fmt.Errorf("question cannot be empty")
	}
	if len(r.Question) > MaxQuestion {
		return fmt.Errorf("question exceeds %d characters", MaxQuestion)
	}
	if r.TopK <= 0 {
		r.TopK = DefaultTopK
	}
	if r.TopK > MaxTopK {
		r.TopK = MaxTopK
	}
	if r.Alpha == nil {
		a := DefaultAlpha
		r.Alpha = &a
	}
	if *r.Alpha < 0 || *r.Alpha > 1 {
		return fmt.Errorf("alpha must be in [0,1], got %g", *r.Alpha)
	}
	return nil
}
