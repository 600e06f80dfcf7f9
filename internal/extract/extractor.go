// Package extract pulls plain text out of uploaded document files.
package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/lu4p/cat"
)

// Extractor converts supported document formats to plain text.
type Extractor struct{}

// NewExtractor returns a new Extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Supported reports whether the extension (with leading dot, any case) has
// an extractor.
func Supported(ext string) bool {
	switch strings.ToLower(ext) {
	case ".pdf", ".docx", ".xlsx", ".txt", ".md", ".odt", ".rtf":
		return true
	}
	return false
}

// SupportedExtensions lists the recognized extensions, sorted.
func SupportedExtensions() []string {
	exts := []string{".pdf", ".docx", ".xlsx", ".txt", ".md", ".odt", ".rtf"}
	sort.Strings(exts)
	return exts
}

// Extract reads the file at path and returns its text content.
// The format is chosen by extension; an unrecognized extension is an error,
// never a silent plain-text fallback, so a bad upload fails loudly.
func (e *Extractor) Extract(path string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	// cat handles the OpenDocument and RTF containers itself.
	if ext == ".odt" || ext == ".rtf" {
		text, err := cat.File(path)
		if err != nil {
			return "", fmt.Errorf("extract %s: %w", ext, err)
		}
		return strings.TrimSpace(text), nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	return e.ExtractBytes(content, ext)
}

// ExtractBytes extracts text from content based on the given extension.
// ext must include the leading dot (e.g. ".pdf").
func (e *Extractor) ExtractBytes(content []byte, ext string) (string, error) {
	switch strings.ToLower(ext) {
	case ".pdf":
		return extractPDF(content)
	case ".docx":
		return extractDOCX(content)
	case ".xlsx":
		return extractExcel(content)
	case ".txt", ".md":
		return extractPlain(content)
	default:
		return "", fmt.Errorf("unsupported file type %q (supported: %s)",
			ext, strings.Join(SupportedExtensions(), ", "))
	}
}
