// Package document loads PDFs and copies selected pages into new PDFs.
// All PDF parsing and writing goes through pdfcpu.
package document

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/rs/zerolog/log"
)

// MIMEType is the content type of every document this package produces.
const MIMEType = "application/pdf"

var (
	ErrLoad       = errors.New("document could not be loaded")
	ErrNotPDF     = fmt.Errorf("%w: not a PDF file", ErrLoad)
	ErrExtraction = errors.New("page extraction failed")
)

// Handle is a decoded source document. It keeps the original bytes so every
// extraction starts from an untouched copy.
type Handle struct {
	data      []byte
	pageCount int
}

// PageCount returns the number of pages in the document.
func (h *Handle) PageCount() int { return h.pageCount }

// Bytes returns the original document bytes.
func (h *Handle) Bytes() []byte { return h.data }

// Service wraps pdfcpu with a shared configuration.
type Service struct {
	conf *model.Configuration
}

// New creates a Service. pdfcpu's on-disk configuration directory is
// disabled; output uses classic xref tables.
func New() *Service {
	api.DisableConfigDir()
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	conf.WriteObjectStream = false
	conf.WriteXRefStream = false
	return &Service{conf: conf}
}

// Open decodes data and returns a handle exposing its page count.
func (s *Service) Open(ctx context.Context, data []byte) (*Handle, error) {
	if err := DetectPDF(data); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoad, err)
	}
	start := time.Now()
	pctx, err := s.read(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoad, err)
	}
	if pctx.PageCount <= 0 {
		return nil, fmt.Errorf("%w: document has no pages", ErrLoad)
	}
	h := &Handle{data: data, pageCount: pctx.PageCount}
	log.Debug().Int("pages", h.pageCount).Int("size", len(data)).Dur("took", time.Since(start)).Msg("document opened")
	return h, nil
}

// Extract builds a new PDF holding pages (1-based) of h in the given order.
func (s *Service) Extract(ctx context.Context, h *Handle, pages []int) ([]byte, error) {
	if h == nil {
		return nil, fmt.Errorf("%w: no document", ErrExtraction)
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("%w: no pages requested", ErrExtraction)
	}
	for _, p := range pages {
		if p < 1 || p > h.pageCount {
			return nil, fmt.Errorf("%w: page %d outside 1..%d", ErrExtraction, p, h.pageCount)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtraction, err)
	}

	start := time.Now()
	src, err := s.read(h.data)
	if err != nil {
		return nil, fmt.Errorf("%w: re-read source: %v", ErrExtraction, err)
	}
	dst, err := pdfcpu.ExtractPages(src, pages, false)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtraction, err)
	}
	var out bytes.Buffer
	if err := api.WriteContext(dst, &out); err != nil {
		return nil, fmt.Errorf("%w: write: %v", ErrExtraction, err)
	}
	log.Debug().Ints("pages", pages).Int("size", out.Len()).Dur("took", time.Since(start)).Msg("pages extracted")
	return out.Bytes(), nil
}

// PageCount opens data only to count its pages.
func (s *Service) PageCount(ctx context.Context, data []byte) (int, error) {
	h, err := s.Open(ctx, data)
	if err != nil {
		return 0, err
	}
	return h.PageCount(), nil
}

func (s *Service) read(data []byte) (*model.Context, error) {
	pctx, err := api.ReadContext(bytes.NewReader(data), s.conf)
	if err != nil {
		return nil, err
	}
	if err := api.ValidateContext(pctx); err != nil {
		return nil, err
	}
	return pctx, nil
}
