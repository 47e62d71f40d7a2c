// Package document opens a PDF for OCR: it exposes each page's geometry,
// text and pixels, accepts appended invisible-text streams, and saves the
// result as an incremental update of the original file.
package document

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/overview/pdfocr/fonts"
	"github.com/overview/pdfocr/observability"
	"github.com/overview/pdfocr/parser"
	"github.com/overview/pdfocr/render"
	"github.com/overview/pdfocr/xref"
)

var (
	// ErrInvalid marks input that cannot be parsed as a PDF.
	ErrInvalid = errors.New("document: invalid PDF")
	// ErrEncrypted marks input protected by a security handler.
	ErrEncrypted = errors.New("document: encrypted PDF")
)

type options struct {
	logger        observability.Logger
	rasterizer    render.Rasterizer
	text          render.TextExtractor
	font          func() (*fonts.Face, error)
	parser        parser.Config
	deterministic bool
}

// Option configures Load.
type Option func(*options)

func WithLogger(l observability.Logger) Option {
	return func(o *options) { o.logger = observability.OrNop(l) }
}

// WithRasterizer replaces the Ghostscript rasterizer.
func WithRasterizer(r render.Rasterizer) Option {
	return func(o *options) {
		if r != nil {
			o.rasterizer = r
		}
	}
}

// WithTextExtractor replaces the pdftotext extractor.
func WithTextExtractor(t render.TextExtractor) Option {
	return func(o *options) {
		if t != nil {
			o.text = t
		}
	}
}

// WithFont supplies the font used for recognized text. It is called at most
// once, when a page first needs the font.
func WithFont(load func() (*fonts.Face, error)) Option {
	return func(o *options) {
		if load != nil {
			o.font = load
		}
	}
}

// WithFontFile uses the TrueType font at path, or the built-in font when
// path is empty.
func WithFontFile(path string) Option {
	if path == "" {
		return WithFont(fonts.Default)
	}
	return WithFont(func() (*fonts.Face, error) { return fonts.Load(path) })
}

// WithParserConfig replaces the parser configuration. The default rebuilds
// a broken cross-reference table by scanning the file.
func WithParserConfig(cfg parser.Config) Option {
	return func(o *options) { o.parser = cfg }
}

// WithDeterministicID derives the new file identifier from the output
// instead of drawing a random one.
func WithDeterministicID() Option {
	return func(o *options) { o.deterministic = true }
}

// Document is an opened PDF. It is not safe for concurrent use.
type Document struct {
	path   string
	opts   options
	parsed *parser.Document
	pages  []*Page
	closed bool

	// next is the first object number not used by the file or the OCR font.
	next int

	fontOnce sync.Once
	font     *sharedFont
	fontErr  error
}

// Load reads and parses the file at path. Parse failures wrap ErrInvalid;
// files with an /Encrypt dictionary give ErrEncrypted.
func Load(ctx context.Context, path string, opts ...Option) (*Document, error) {
	o := options{
		logger: observability.NopLogger{},
		font:   fonts.Default,
		parser: parser.Config{XRef: xref.ResolverConfig{Repair: true}},
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.rasterizer == nil {
		o.rasterizer = render.NewGhostscript("", o.logger)
	}
	if o.text == nil {
		o.text = render.NewPdftotext("")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("document: %w", err)
	}
	parsed, err := parser.NewDocumentParser(o.parser).Parse(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalid, path, err)
	}
	if parsed.Encrypted {
		return nil, fmt.Errorf("%w: %s", ErrEncrypted, path)
	}
	src, err := parsed.Pages(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalid, path, err)
	}

	d := &Document{path: path, opts: o, parsed: parsed, next: parsed.XRef.Size()}
	if n, ok := parsed.Trailer.Int("Size"); ok && int(n) > d.next {
		d.next = int(n)
	}
	d.pages = make([]*Page, len(src))
	for i := range src {
		d.pages[i] = &Page{doc: d, index: i, src: src[i]}
	}
	o.logger.Info("document loaded",
		observability.String("path", path),
		observability.Int("pages", len(d.pages)),
		observability.String("version", parsed.Version),
		observability.String("xref", string(parsed.XRef.Kind)),
	)
	return d, nil
}

// Path is the file the document was loaded from.
func (d *Document) Path() string { return d.path }

func (d *Document) PageCount() int {
	d.checkOpen()
	return len(d.pages)
}

// Pages returns the pages in document order.
func (d *Document) Pages() []*Page {
	d.checkOpen()
	return append([]*Page(nil), d.pages...)
}

// Page returns page i, counting from 0.
func (d *Document) Page(i int) (*Page, error) {
	d.checkOpen()
	if i < 0 || i >= len(d.pages) {
		return nil, fmt.Errorf("document: page %d out of range [0,%d)", i, len(d.pages))
	}
	return d.pages[i], nil
}

// XRefKind reports how the newest cross-reference section is stored; saved
// updates use the same kind.
func (d *Document) XRefKind() xref.Kind {
	d.checkOpen()
	return d.parsed.XRef.Kind
}

// Close releases the document. It is safe to call more than once; any other
// method panics afterwards.
func (d *Document) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	d.parsed = nil
	d.pages = nil
	d.font = nil
	return nil
}

func (d *Document) checkOpen() {
	if d.closed {
		panic("document: use of closed Document")
	}
}
