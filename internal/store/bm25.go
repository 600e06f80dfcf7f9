package store

import (
	"math"
	"strings"
)

// Okapi BM25 parameters.
const (
	bm25K1 = 1.5
	bm25B  = 0.75
)

// bm25Index scores the tokenized corpus positionally: Scores returns one
// score per corpus entry, in corpus order, which keeps the sparse path
// aligned with the dense matrix and chunk records. The index is immutable;
// mutations rebuild it over the full corpus.
type bm25Index struct {
	termFreqs []map[string]int
	docFreq   map[string]int
	docLen    []int
	avgDocLen float64
	numDocs   int
}

// newBM25Index builds an index over the tokenized corpus. Returns nil for
// an empty corpus.
func newBM25Index(corpus [][]string) *bm25Index {
	if len(corpus) == 0 {
		return nil
	}
	idx := &bm25Index{
		termFreqs: make([]map[string]int, len(corpus)),
		docFreq:   make(map[string]int),
		docLen:    make([]int, len(corpus)),
		numDocs:   len(corpus),
	}
	var totalLen int
	for i, tokens := range corpus {
		tf := make(map[string]int, len(tokens))
		for _, tok := range tokens {
			tf[tok]++
		}
		for term := range tf {
			idx.docFreq[term]++
		}
		idx.termFreqs[i] = tf
		idx.docLen[i] = len(tokens)
		totalLen += len(tokens)
	}
	idx.avgDocLen = float64(totalLen) / float64(len(corpus))
	return idx
}

// Scores returns the raw BM25 score of every corpus entry for the query
// tokens. Entries sharing no term with the query score 0.
func (idx *bm25Index) Scores(query []string) []float64 {
	scores := make([]float64, idx.numDocs)
	for _, term := range query {
		df, ok := idx.docFreq[term]
		if !ok {
			continue
		}
		idf := math.Log((float64(idx.numDocs)-float64(df)+0.5)/(float64(df)+0.5) + 1)
		for i, tf := range idx.termFreqs {
			f := float64(tf[term])
			if f == 0 {
				continue
			}
			norm := 1 - bm25B + bm25B*float64(idx.docLen[i])/idx.avgDocLen
			scores[i] += idf * f * (bm25K1 + 1) / (f + bm25K1*norm)
		}
	}
	return scores
}

// tokenize lowercases and whitespace-splits text for the sparse corpus.
func tokenize(text string) []string {
	return strings.Fields(strings.ToLower(text))
}
