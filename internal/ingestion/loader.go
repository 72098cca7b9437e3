// Package ingestion turns document files into indexed, searchable chunks.
package ingestion

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ErrUnsupportedFileType is returned when no loader accepts the file
// extension. Callers can match it with errors.Is.
var ErrUnsupportedFileType = errors.New("ingestion: unsupported file type")

// loaderFunc reads a file and returns its plain text content.
type loaderFunc func(path string) (string, error)

// loaders maps a lower-case file extension to its text extractor.
// Plain-text formats are read verbatim; PDF goes through text extraction.
var loaders = map[string]loaderFunc{
	".txt": loadPlainText,
	".md":  loadPlainText,
	".pdf": loadPDF,
}

// SupportedExtensions returns the sorted list of accepted file extensions.
func SupportedExtensions() []string {
	return []string{".md", ".pdf", ".txt"}
}

// LoadFile extracts the text content of the file at path. The loader is
// chosen by extension, case-insensitively.
func LoadFile(path string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	load, ok := loaders[ext]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFileType, ext)
	}
	return load(path)
}

func loadPlainText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("ingestion: read %s: %w", path, err)
	}
	return string(data), nil
}

// loadPDF extracts plain text from every page, joined with blank lines so
// page boundaries survive as paragraph breaks for the chunker.
func loadPDF(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("ingestion: open pdf %s: %w", path, err)
	}
	defer f.Close()

	var sb strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("ingestion: extract pdf page %d of %s: %w", i, path, err)
		}
		if text == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(text)
	}
	return sb.String(), nil
}
