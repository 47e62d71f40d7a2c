// Package searchable makes scanned PDFs searchable: pages with little or no
// text are rendered, recognized by an OCR engine and overlaid with invisible
// text positioned over the recognized words.
package searchable

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/overview/pdfocr/coords"
	"github.com/overview/pdfocr/document"
	"github.com/overview/pdfocr/observability"
	"github.com/overview/pdfocr/ocr"
)

// ErrAborted is returned when the context is done before or while a page is
// processed. It wraps the context's error.
var ErrAborted = errors.New("searchable: aborted")

// Progress is called with the number of pages completed and the page count:
// once with done == 0 before the first page and once after each page. To
// stop, cancel the context passed to MakeSearchable.
type Progress func(done, total int)

// Document is the part of document.Document the pipeline uses.
type Document interface {
	PageCount() int
	Pages() []*document.Page
	Save(path string) error
	Close() error
}

// Opener loads a document.
type Opener func(ctx context.Context, path string, opts ...document.Option) (Document, error)

func openDocument(ctx context.Context, path string, opts ...document.Option) (Document, error) {
	doc, err := document.Load(ctx, path, opts...)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// Pipeline runs PageProcessor over every page of a document and saves the
// result.
type Pipeline struct {
	engine       ocr.Engine
	logger       observability.Logger
	docOpts      []document.Option
	open         Opener
	minTextChars int
	dpi          coords.DPIPolicy
}

// Option configures a Pipeline.
type Option func(*Pipeline)

func WithLogger(l observability.Logger) Option {
	return func(p *Pipeline) { p.logger = observability.OrNop(l) }
}

// WithDocumentOptions passes options to document.Load.
func WithDocumentOptions(opts ...document.Option) Option {
	return func(p *Pipeline) { p.docOpts = append(p.docOpts, opts...) }
}

// WithOpener replaces document.Load.
func WithOpener(open Opener) Option {
	return func(p *Pipeline) {
		if open != nil {
			p.open = open
		}
	}
}

// WithMinTextChars sets how much existing text makes a page skip OCR.
func WithMinTextChars(n int) Option {
	return func(p *Pipeline) { p.minTextChars = n }
}

// WithDPIPolicy sets how rendering resolution is chosen.
func WithDPIPolicy(policy coords.DPIPolicy) Option {
	return func(p *Pipeline) { p.dpi = policy }
}

func NewPipeline(engine ocr.Engine, opts ...Option) *Pipeline {
	p := &Pipeline{
		engine:       engine,
		logger:       observability.NopLogger{},
		open:         openDocument,
		minTextChars: DefaultMinTextChars,
		dpi:          coords.DefaultDPIPolicy,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// MakeSearchable OCRs the pages of in that lack text and writes the result
// to out. languages are BCP-47 tags or engine codes.
//
// out is written atomically and only after every page succeeded; on any
// error, including cancellation, it is left untouched. The input document is
// always closed.
func (p *Pipeline) MakeSearchable(ctx context.Context, in, out string, languages []string, progress Progress) error {
	if progress == nil {
		progress = func(int, int) {}
	}
	codes, err := ocr.EngineLanguages(languages)
	if err != nil {
		return err
	}
	opts := append([]document.Option{document.WithLogger(p.logger)}, p.docOpts...)
	doc, err := p.open(ctx, in, opts...)
	if err != nil {
		return err
	}
	defer doc.Close()

	proc := &PageProcessor{
		Engine:       p.engine,
		Languages:    codes,
		MinTextChars: p.minTextChars,
		DPI:          p.dpi,
		Logger:       p.logger,
	}
	total := doc.PageCount()
	progress(0, total)
	ocrPages := 0
	for i, page := range doc.Pages() {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: before page %d: %w", ErrAborted, i+1, err)
		}
		started := time.Now()
		outcome, err := proc.Process(ctx, page)
		if err != nil {
			// Tools started under ctx fail with their own error once it is
			// cancelled; the caller still sees an abort.
			if cerr := ctx.Err(); cerr != nil {
				return fmt.Errorf("%w: page %d: %w", ErrAborted, i+1, cerr)
			}
			return fmt.Errorf("searchable: page %d of %d: %w", i+1, total, err)
		}
		if outcome == Done {
			ocrPages++
		}
		p.logger.Debug("page finished",
			observability.Int("page", i+1),
			observability.Bool("ocr", outcome == Done),
			observability.Duration("took", time.Since(started)),
		)
		progress(i+1, total)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: before save: %w", ErrAborted, err)
	}
	if err := doc.Save(out); err != nil {
		return err
	}
	p.logger.Info("document searchable",
		observability.String("output", out),
		observability.Int("pages", total),
		observability.Int("ocr_pages", ocrPages),
	)
	return nil
}
