package docs

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/xuri/excelize/v2"
)

const (
	mimePDF  = "application/pdf"
	mimeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	mimeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
)

// extractPDF returns the plain text layer of a PDF
func extractPDF(data []byte, _ string) (text string, err error) {
	// the pdf reader panics on some malformed xref tables
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed pdf: %v", r)
		}
	}()
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", err
	}
	out, err := io.ReadAll(plain)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// extractXLSX renders each sheet the same way extractCSV renders a file
func extractXLSX(data []byte, _ string) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	defer f.Close()

	var b strings.Builder
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", fmt.Errorf("sheet %s: %w", sheet, err)
		}
		if len(rows) == 0 {
			continue
		}
		fmt.Fprintf(&b, "Sheet %s:\n", sheet)
		header := rows[0]
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
	}
	return strings.TrimSpace(b.String()), nil
}

// extractDOCX reads word/document.xml and joins the text runs of each paragraph
func extractDOCX(data []byte, _ string) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}
	var doc *zip.File
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			doc = f
			break
		}
	}
	if doc == nil {
		return "", fmt.Errorf("word/document.xml not found")
	}
	rc, err := doc.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()

	var (
		paras  []string
		cur    strings.Builder
		inText bool
	)
	dec := xml.NewDecoder(rc)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				cur.WriteByte('\t')
			case "br":
				cur.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				if s := strings.TrimSpace(cur.String()); s != "" {
					paras = append(paras, s)
				}
				cur.Reset()
			}
		case xml.CharData:
			if inText {
				cur.Write(t)
			}
		}
	}
	return strings.Join(paras, "\n"), nil
}
