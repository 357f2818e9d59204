package session

import (
	"context"
	"fmt"

	"github.com/local/pagepicker/internal/document"
)

// Backend is the document service a Manager drives.
type Backend interface {
	Load(ctx context.Context, data []byte) (Document, error)
	Extract(ctx context.Context, doc Document, pages []int) ([]byte, error)
}

// PDFBackend adapts document.Service to Backend and attaches per-page
// snippets for the UI.
type PDFBackend struct {
	svc          *document.Service
	snippetPages int
	snippetLen   int
}

func NewPDFBackend(svc *document.Service, snippetPages, snippetLen int) *PDFBackend {
	return &PDFBackend{svc: svc, snippetPages: snippetPages, snippetLen: snippetLen}
}

type pdfDoc struct {
	*document.Handle
	snippets []string
}

func (d *pdfDoc) Snippets() []string { return d.snippets }

func (b *PDFBackend) Load(ctx context.Context, data []byte) (Document, error) {
	h, err := b.svc.Open(ctx, data)
	if err != nil {
		return nil, err
	}
	d := &pdfDoc{Handle: h}
	if b.snippetPages > 0 {
		d.snippets = document.Snippets(data, b.snippetPages, b.snippetLen)
	}
	return d, nil
}

func (b *PDFBackend) Extract(ctx context.Context, doc Document, pages []int) ([]byte, error) {
	d, ok := doc.(*pdfDoc)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected document type %T", document.ErrExtraction, doc)
	}
	return b.svc.Extract(ctx, d.Handle, pages)
}
