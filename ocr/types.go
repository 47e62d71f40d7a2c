package ocr

import (
	"context"
	"image"
)

// Request is a single page image submitted for OCR. It is treated as
// immutable once built.
type Request struct {
	// Image is the rendered page.
	Image image.Image
	// Languages lists engine language codes in priority order, e.g. "eng",
	// "deu". See EngineLanguages for converting BCP-47 tags.
	Languages []string
	// PageIndex links the request back to the zero-based PDF page index. It
	// is only used for diagnostics.
	PageIndex int
	// DPI is the resolution the page was rendered at; zero means unknown.
	DPI int
}

// Result is the output of a successful engine run.
type Result struct {
	// HOCR is the recognized text as hOCR markup.
	HOCR []byte
	// Stderr holds whatever diagnostics the engine printed.
	Stderr []byte
}

// Engine recognizes text in page images.
type Engine interface {
	Name() string
	Recognize(ctx context.Context, req Request) (Result, error)
}

// RequestOption mutates a Request built by NewRequest.
type RequestOption func(*Request)

// WithLanguages sets the engine language codes.
func WithLanguages(langs ...string) RequestOption {
	return func(r *Request) { r.Languages = append([]string(nil), langs...) }
}

// WithPageIndex records the page the image was rendered from.
func WithPageIndex(i int) RequestOption {
	return func(r *Request) { r.PageIndex = i }
}

// WithDPI records the rendering resolution.
func WithDPI(dpi int) RequestOption {
	return func(r *Request) { r.DPI = dpi }
}

// NewRequest builds a Request for img.
func NewRequest(img image.Image, opts ...RequestOption) Request {
	r := Request{Image: img}
	for _, opt := range opts {
		opt(&r)
	}
	return r
}
