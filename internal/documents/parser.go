package documents

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/gen2brain/go-fitz"
)

// ErrParse is returned when a document cannot be read as a PDF
var ErrParse = errors.New("document parse failed")

var pdfMagic = []byte("%PDF-")

// Page is the extracted text of a single PDF page
type Page struct {
	Number int    // 1-based
	Label  string // displayed page label
	Text   string
}

// Parser turns raw document bytes into page-segmented text
type Parser interface {
	Parse(ctx context.Context, data []byte) ([]Page, error)
}

// PDFParser parses PDF files with MuPDF
type PDFParser struct{}

// NewPDFParser creates a new PDF parser
func NewPDFParser() *PDFParser {
	return &PDFParser{}
}

// Parse extracts the text of every page. Pages without text are kept
// so page numbers stay aligned with the source document.
func (p *PDFParser) Parse(ctx context.Context, data []byte) ([]Page, error) {
	if !bytes.HasPrefix(bytes.TrimLeft(data, "\x00\t\r\n "), pdfMagic) {
		return nil, fmt.Errorf("%w: not a PDF", ErrParse)
	}

	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open PDF: %v", ErrParse, err)
	}
	defer doc.Close()

	pages := make([]Page, 0, doc.NumPage())
	hasText := false
	for i := 0; i < doc.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		text, err := doc.Text(i)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to extract page %d: %v", ErrParse, i+1, err)
		}
		if strings.TrimSpace(text) != "" {
			hasText = true
		}
		pages = append(pages, Page{
			Number: i + 1,
			Label:  strconv.Itoa(i + 1),
			Text:   text,
		})
	}

	if !hasText {
		return nil, fmt.Errorf("%w: no extractable text", ErrParse)
	}
	return pages, nil
}
