// Package ingest turns uploaded files into indexed chunks: extract text,
// chunk it, embed and store it, and track the document's status.
package ingest

import (
	"regexp"
	"strings"

	"github.com/pergamon/askdoc/internal/models"
)

// DefaultChunkSize is the chunk budget in approximate tokens, roughly 400
// words. Large enough to keep a full thought together, small enough that a
// retrieved chunk stays on topic.
const DefaultChunkSize = 512

var (
	whitespaceRe  = regexp.MustCompile(`\s+`)
	sentenceEndRe = regexp.MustCompile(`([.!?])\s+`)
	specialCharRe = regexp.MustCompile(`[^\p{L}\p{N}_\s.,!?;:\-'"()]`)
	paragraphRe   = regexp.MustCompile(`\n\s*\n`)
)

// Chunker splits document text into chunks bounded by an approximate token
// budget. Token counts are estimated as one token per four characters.
type Chunker struct {
	chunkSize int
}

// NewChunker returns a Chunker with the given token budget per chunk;
// size <= 0 uses DefaultChunkSize.
func NewChunker(size int) *Chunker {
	if size <= 0 {
		size = DefaultChunkSize
	}
	return &Chunker{chunkSize: size}
}

// Chunk cleans text and splits it into chunk inputs. Paragraphs are packed
// greedily up to the budget; a single paragraph over the budget is split at
// sentence boundaries. Returns nil for text with no content.
func (c *Chunker) Chunk(text, filename string) []models.ChunkInput {
	text = cleanText(text)
	var paragraphs []string
	for _, p := range paragraphRe.Split(text, -1) {
		if p = strings.TrimSpace(p); p != "" {
			paragraphs = append(paragraphs, p)
		}
	}

	var chunks []models.ChunkInput
	current := ""
	add := func(text string) {
		chunks = append(chunks, models.ChunkInput{
			Text:         text,
			ChunkIndex:   len(chunks),
			Filename:     filename,
			CharCount:    len(text),
			ApproxTokens: approxTokens(text),
		})
	}

	for _, para := range paragraphs {
		if approxTokens(current)+approxTokens(para) <= c.chunkSize {
			if current == "" {
				current = para
			} else {
				current += "\n\n" + para
			}
			continue
		}
		if current != "" {
			add(current)
		}
		if approxTokens(para) > c.chunkSize {
			for _, piece := range c.splitBySentences(para) {
				add(piece)
			}
			current = ""
		} else {
			current = para
		}
	}
	if current != "" {
		add(current)
	}
	return chunks
}

// splitBySentences packs sentences of an oversized paragraph into pieces
// within the budget. A single sentence over the budget becomes its own piece.
func (c *Chunker) splitBySentences(text string) []string {
	sentences := splitSentences(text)
	var pieces []string
	current := ""
	for _, sentence := range sentences {
		if approxTokens(current)+approxTokens(sentence) <= c.chunkSize {
			if current == "" {
				current = sentence
			} else {
				current += " " + sentence
			}
			continue
		}
		if current != "" {
			pieces = append(pieces, current)
		}
		current = sentence
	}
	if current != "" {
		pieces = append(pieces, current)
	}
	return pieces
}

// splitSentences splits after terminal punctuation followed by whitespace.
func splitSentences(text string) []string {
	marked := sentenceEndRe.ReplaceAllString(text, "$1\x00")
	parts := strings.Split(marked, "\x00")
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// cleanText normalizes whitespace, restores paragraph breaks after sentence
// enders, and strips characters outside letters, digits, and punctuation.
func cleanText(text string) string {
	text = whitespaceRe.ReplaceAllString(text, " ")
	text = sentenceEndRe.ReplaceAllString(text, "$1\n\n")
	text = specialCharRe.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

func approxTokens(text string) int {
	return len(text) / 4
}
