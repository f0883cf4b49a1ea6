// Package extractor pulls per-page plain text out of PDF documents.
package extractor

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/54b3r/agrofinder-go/internal/logging"
	"github.com/54b3r/agrofinder-go/internal/rag"
)

// Page is the text of one PDF page.
type Page struct {
	// Number is the 1-based page number in the source document.
	Number int
	// Text is the extracted plain text.
	Text string
}

// Extractor converts document bytes into per-page text.
type Extractor interface {
	// Extract returns one Page per page with non-blank text, in page order.
	// Pages without extractable text are omitted. An empty result is not an
	// error; unreadable input fails with rag.ErrExtraction.
	Extract(ctx context.Context, data []byte) ([]Page, error)
}

// PDFExtractor implements Extractor for PDF byte streams.
type PDFExtractor struct{}

// compile-time interface check
var _ Extractor = PDFExtractor{}

// NewPDFExtractor returns a PDFExtractor.
func NewPDFExtractor() PDFExtractor { return PDFExtractor{} }

// Extract parses data and returns the non-blank pages. The parser panics on
// some malformed inputs; those panics are reported as rag.ErrExtraction.
func (PDFExtractor) Extract(ctx context.Context, data []byte) (pages []Page, err error) {
	defer func() {
		if r := recover(); r != nil {
			pages = nil
			err = fmt.Errorf("%w: pdf parser panic: %v", rag.ErrExtraction, r)
		}
	}()

	if !bytes.HasPrefix(bytes.TrimLeft(data, "\x00\t\n\r "), []byte("%PDF-")) {
		return nil, fmt.Errorf("%w: missing PDF header", rag.ErrExtraction)
	}

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", rag.ErrExtraction, err)
	}

	log := logging.FromContext(ctx)
	total := reader.NumPage()
	for i := 1; i <= total; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		p := reader.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			// One unreadable page does not invalidate the others.
			log.Warn("extractor: skipping unreadable page", slog.Int("page", i), slog.Any("error", err))
			continue
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		pages = append(pages, Page{Number: i, Text: text})
	}

	log.Debug("extractor: pdf parsed", slog.Int("pages", total), slog.Int("with_text", len(pages)))
	return pages, nil
}
