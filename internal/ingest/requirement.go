// Package ingest reads requirement text from local files for analysis.
package ingest

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
)

const (
	// MaxFileSize bounds the input file; analysis requests are capped at 1MB.
	MaxFileSize = 1 << 20

	// MaxPDFPages bounds the number of pages extracted from a PDF.
	MaxPDFPages = 100
)

var (
	ErrEmpty  = errors.New("no requirement text found")
	ErrBinary = errors.New("file is not text or PDF")
)

// ReadRequirement returns the requirement text held in path. PDFs, detected
// by extension or header, are reduced to their plain text; other files must
// be UTF-8 text.
func ReadRequirement(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("reading requirement: %w", err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("reading requirement: %s is a directory", path)
	}
	if info.Size() > MaxFileSize {
		return "", fmt.Errorf("reading requirement: %s is %d bytes, limit is %d", path, info.Size(), MaxFileSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading requirement: %w", err)
	}

	var text string
	if isPDF(path, data) {
		text, err = pdfText(data)
		if err != nil {
			return "", err
		}
	} else {
		if bytes.IndexByte(data, 0) >= 0 || !utf8.Valid(data) {
			return "", ErrBinary
		}
		text = string(data)
	}

	text = strings.TrimSpace(strings.ReplaceAll(text, "\r\n", "\n"))
	if text == "" {
		return "", ErrEmpty
	}
	return text, nil
}

func isPDF(path string, data []byte) bool {
	return strings.EqualFold(filepath.Ext(path), ".pdf") || bytes.HasPrefix(data, []byte("%PDF-"))
}

func pdfText(data []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("opening PDF: %w", err)
	}

	pages := r.NumPage()
	if pages == 0 {
		return "", ErrEmpty
	}
	if pages > MaxPDFPages {
		return "", fmt.Errorf("PDF has %d pages, limit is %d", pages, MaxPDFPages)
	}

	var b strings.Builder
	for i := 1; i <= pages; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// Skip pages whose content cannot be decoded.
			continue
		}
		text = strings.TrimSpace(strings.ReplaceAll(text, "\x00", ""))
		if text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(text)
	}
	return b.String(), nil
}
