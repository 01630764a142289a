package rag

import (
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// TextExtractor reads the plain text of a document.
type TextExtractor interface {
	ExtractText(path string) (string, error)
}

// PDFExtractor extracts text page by page and joins pages with a newline.
// Pages without extractable text contribute an empty line.
type PDFExtractor struct{}

func (PDFExtractor) ExtractText(path string) (text string, err error) {
	// the parser panics on some malformed files
	defer func() {
		if r := recover(); r != nil {
			text, err = "", &DocumentReadError{Path: path, Err: fmt.Errorf("malformed pdf: %v", r)}
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return "", &DocumentReadError{Path: path, Err: err}
	}
	defer f.Close()

	pages := make([]string, 0, r.NumPage())
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		content, err := p.GetPlainText(nil)
		if err != nil {
			return "", &DocumentReadError{Path: path, Err: fmt.Errorf("page %d: %w", i, err)}
		}
		pages = append(pages, content)
	}
	return strings.Join(pages, "\n"), nil
}
