package extract

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strings"
)

// DOCX is a zip of OOXML parts; the body normally lives at word/document.xml
// but [Content_Types].xml is authoritative.
const (
	docxBodyPath     = "word/document.xml"
	contentTypesPath = "[Content_Types].xml"
	docxBodyType     = "application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"
)

// wtTag matches <w:t> text nodes regardless of run or paragraph attributes,
// which trips up stricter parsers on real-world documents.
var wtTag = regexp.MustCompile(`<w:t[^>]*>([^<]*)</w:t>`)

// Override elements carry PartName and ContentType in either order.
var (
	overridePartFirst = regexp.MustCompile(`<Override[^>]+PartName="([^"]+)"[^>]+ContentType="` + regexp.QuoteMeta(docxBodyType) + `"`)
	overrideTypeFirst = regexp.MustCompile(`<Override[^>]+ContentType="` + regexp.QuoteMeta(docxBodyType) + `"[^>]+PartName="([^"]+)"`)
)

func extractDOCX(content []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("extract DOCX: not a zip: %w", err)
	}
	bodyPath := docxBodyPartName(zr)
	if bodyPath == "" {
		bodyPath = docxBodyPath
	}
	body, err := readZipEntry(zr, bodyPath)
	if err != nil {
		return "", fmt.Errorf("extract DOCX: %w", err)
	}
	if body == nil {
		return "", fmt.Errorf("extract DOCX: %s not found", bodyPath)
	}
	matches := wtTag.FindAllSubmatch(body, -1)
	var b strings.Builder
	for _, m := range matches {
		text := strings.TrimSpace(string(m[1]))
		if text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(text)
	}
	return b.String(), nil
}

// docxBodyPartName resolves the main document part from [Content_Types].xml.
// Returns "" when the package carries no override for it.
func docxBodyPartName(zr *zip.Reader) string {
	data, err := readZipEntry(zr, contentTypesPath)
	if err != nil || data == nil {
		return ""
	}
	if m := overridePartFirst.FindSubmatch(data); len(m) > 1 {
		return strings.TrimPrefix(string(m[1]), "/")
	}
	if m := overrideTypeFirst.FindSubmatch(data); len(m) > 1 {
		return strings.TrimPrefix(string(m[1]), "/")
	}
	return ""
}

// readZipEntry returns the named entry's bytes, or nil when absent.
func readZipEntry(zr *zip.Reader, name string) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", name, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		return data, nil
	}
	return nil, nil
}
