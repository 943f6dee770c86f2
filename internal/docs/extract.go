// Package docs turns uploaded documents into plain text for requirement analysis
package docs

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"mime"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"botforge/internal/apperr"
)

// TruncationNotice is appended when extracted text exceeds the character limit
const TruncationNotice = "\n\n[Document truncated...]"

// Extractor converts raw document bytes to text
type Extractor interface {
	Extract(data []byte, mimeHint string) (string, error)
}

// ExtractorFunc adapts a function to Extractor
type ExtractorFunc func(data []byte, mimeHint string) (string, error)

func (f ExtractorFunc) Extract(data []byte, mimeHint string) (string, error) { return f(data, mimeHint) }

// Result is the output of Registry.Extract
type Result struct {
	Filename       string `json:"filename"`
	MimeType       string `json:"mime_type"`
	Text           string `json:"text"`
	OriginalLength int    `json:"original_length"`
	Truncated      bool   `json:"truncated"`
}

// Registry picks an Extractor by MIME type and enforces size limits
type Registry struct {
	extractors map[string]Extractor
	maxBytes   int64
	maxChars   int
}

// NewRegistry creates a registry with the built-in text and office formats
func NewRegistry(maxBytes int64, maxChars int) *Registry {
	r := &Registry{
		extractors: make(map[string]Extractor),
		maxBytes:   maxBytes,
		maxChars:   maxChars,
	}
	plain := ExtractorFunc(extractPlain)
	r.Register("text/plain", plain)
	r.Register("text/markdown", plain)
	r.Register("text/csv", ExtractorFunc(extractCSV))
	r.Register("application/json", ExtractorFunc(extractJSON))
	r.Register(mimePDF, ExtractorFunc(extractPDF))
	r.Register(mimeXLSX, ExtractorFunc(extractXLSX))
	r.Register(mimeDOCX, ExtractorFunc(extractDOCX))
	return r
}

// Register adds or replaces the extractor for a MIME type
func (r *Registry) Register(mimeType string, e Extractor) {
	r.extractors[mimeType] = e
}

// MaxBytes is the upload size limit
func (r *Registry) MaxBytes() int64 { return r.maxBytes }

// Extract detects the document type from mimeHint, falling back to the file
// extension, and returns its text.
func (r *Registry) Extract(filename string, data []byte, mimeHint string) (*Result, error) {
	const op = "docs.extract"
	if r.maxBytes > 0 && int64(len(data)) > r.maxBytes {
		return nil, apperr.Errorf(apperr.BadRequest, op, "file too large: %d bytes (max %d)", len(data), r.maxBytes)
	}

	mt := detect(filename, mimeHint)
	e, ok := r.extractors[mt]
	if !ok {
		return nil, apperr.Errorf(apperr.BadRequest, op, "unsupported document type %q", mt)
	}
	text, err := e.Extract(data, mt)
	if err != nil {
		return nil, apperr.Errorf(apperr.BadRequest, op, "could not read %s: %v", filename, err)
	}

	res := &Result{Filename: filename, MimeType: mt, Text: text, OriginalLength: utf8.RuneCountInString(text)}
	if r.maxChars > 0 && res.OriginalLength > r.maxChars {
		res.Text = string([]rune(text)[:r.maxChars]) + TruncationNotice
		res.Truncated = true
	}
	return res, nil
}

var extensionTypes = map[string]string{
	".txt":      "text/plain",
	".text":     "text/plain",
	".md":       "text/markdown",
	".markdown": "text/markdown",
	".csv":      "text/csv",
	".json":     "application/json",
	".pdf":      mimePDF,
	".xlsx":     mimeXLSX,
	".docx":     mimeDOCX,
}

func detect(filename, hint string) string {
	if hint != "" {
		if mt, _, err := mime.ParseMediaType(hint); err == nil && mt != "application/octet-stream" {
			return mt
		}
	}
	ext := strings.ToLower(filepath.Ext(filename))
	if mt, ok := extensionTypes[ext]; ok {
		return mt
	}
	if mt := mime.TypeByExtension(ext); mt != "" {
		if base, _, err := mime.ParseMediaType(mt); err == nil {
			return base
		}
	}
	return "application/octet-stream"
}

func extractPlain(data []byte, _ string) (string, error) {
	if !utf8.Valid(data) {
		return "", fmt.Errorf("not valid UTF-8 text")
	}
	return strings.TrimSpace(string(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf")))), nil
}

// extractCSV renders each record as "col: value" lines using the header row
func extractCSV(data []byte, _ string) (string, error) {
	rows, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return "", nil
	}
	header := rows[0]
	var b strings.Builder
	for i, row := range rows[1:] {
		fmt.Fprintf(&b, "Row %d:\n", i+1)
		for j, v := range row {
			name := fmt.Sprintf("column_%d", j+1)
			if j < len(header) && header[j] != "" {
				name = header[j]
			}
			fmt.Fprintf(&b, "  %s: %s\n", name, v)
		}
	}
	return strings.TrimSpace(b.String()), nil
}

func extractJSON(data []byte, _ string) (string, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return "", err
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(out), nil
}
