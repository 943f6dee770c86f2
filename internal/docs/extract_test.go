package docs

import (
	"archive/zip"
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"botforge/internal/apperr"
)

func TestExtract(t *testing.T) {
	r := NewRegistry(1024, 0)
	tests := []struct {
		name     string
		filename string
		hint     string
		data     string
		wantMime string
		want     string
	}{
		{"plain by hint", "notes", "text/plain; charset=utf-8", "  hello  \n", "text/plain", "hello"},
		{"markdown by extension", "req.md", "", "# Bot\n- be kind", "text/markdown", "# Bot\n- be kind"},
		{"octet-stream falls back to extension", "req.txt", "application/octet-stream", "\xef\xbb\xbfBOM", "text/plain", "BOM"},
		{"csv", "users.csv", "", "name,email\nada,ada@example.com\n", "text/csv", "Row 1:\n  name: ada\n  email: ada@example.com"},
		{"json", "spec.json", "", `{"tone":"friendly"}`, "application/json", "{\n  \"tone\": \"friendly\"\n}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := r.Extract(tt.filename, []byte(tt.data), tt.hint)
			require.NoError(t, err)
			assert.Equal(t, tt.wantMime, res.MimeType)
			assert.Equal(t, tt.want, res.Text)
			assert.False(t, res.Truncated)
		})
	}
}

func TestExtractRejects(t *testing.T) {
	r := NewRegistry(8, 0)
	tests := []struct {
		name     string
		filename string
		data     []byte
	}{
		{"too large", "a.txt", []byte("123456789")},
		{"unsupported", "setup.exe", []byte("MZ")},
		{"malformed pdf", "deck.pdf", []byte("%PDF")},
		{"malformed xlsx", "sheet.xlsx", []byte("PK")},
		{"invalid utf8", "a.txt", []byte{0xff, 0xfe}},
		{"bad json", "a.json", []byte("{")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Extract(tt.filename, tt.data, "")
			assert.True(t, errors.Is(err, apperr.BadRequest), "got %v", err)
		})
	}
}

func TestExtractTruncates(t *testing.T) {
	r := NewRegistry(0, 5)
	res, err := r.Extract("a.txt", []byte("héllo world"), "")
	require.NoError(t, err)
	assert.True(t, res.Truncated)
	assert.Equal(t, 11, res.OriginalLength)
	assert.Equal(t, "héllo"+TruncationNotice, res.Text)
}

func TestRegisterCustomExtractor(t *testing.T) {
	r := NewRegistry(0, 0)
	r.Register("application/rtf", ExtractorFunc(func(data []byte, _ string) (string, error) {
		return strings.ToUpper(string(data)), nil
	}))
	res, err := r.Extract("deck.rtf", []byte("pages"), "application/rtf")
	require.NoError(t, err)
	assert.Equal(t, "PAGES", res.Text)
}

func TestExtractXLSX(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	require.NoError(t, f.SetCellValue("Sheet1", "A1", "intent"))
	require.NoError(t, f.SetCellValue("Sheet1", "B1", "reply"))
	require.NoError(t, f.SetCellValue("Sheet1", "A2", "greet"))
	require.NoError(t, f.SetCellValue("Sheet1", "B2", "hello there"))
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)

	res, err := NewRegistry(0, 0).Extract("faq.xlsx", buf.Bytes(), "")
	require.NoError(t, err)
	assert.Equal(t, mimeXLSX, res.MimeType)
	assert.Equal(t, "Sheet Sheet1:\nRow 1:\n  intent: greet\n  reply: hello there", res.Text)
}

func TestExtractDOCX(t *testing.T) {
	body := `<?xml version="1.0" encoding="UTF-8"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>
<w:p><w:r><w:t>Support bot</w:t></w:r></w:p>
<w:p><w:r><w:t xml:space="preserve">Answer </w:t></w:r><w:r><w:t>billing questions</w:t></w:r></w:p>
<w:p></w:p>
</w:body></w:document>`
	data := zipOf(t, map[string]string{"word/document.xml": body})

	res, err := NewRegistry(0, 0).Extract("memo.docx", data, "")
	require.NoError(t, err)
	assert.Equal(t, mimeDOCX, res.MimeType)
	assert.Equal(t, "Support bot\nAnswer billing questions", res.Text)

	_, err = NewRegistry(0, 0).Extract("memo.docx", zipOf(t, map[string]string{"word/styles.xml": "<w:styles/>"}), "")
	assert.True(t, errors.Is(err, apperr.BadRequest), "got %v", err)
}

func zipOf(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}
