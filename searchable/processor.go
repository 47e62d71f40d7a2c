package searchable

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/overview/pdfocr/contentstream"
	"github.com/overview/pdfocr/coords"
	"github.com/overview/pdfocr/document"
	"github.com/overview/pdfocr/hocr"
	"github.com/overview/pdfocr/observability"
	"github.com/overview/pdfocr/ocr"
	"github.com/overview/pdfocr/render"
)

// DefaultMinTextChars is the amount of existing text above which a page is
// considered searchable already.
const DefaultMinTextChars = 100

// Outcome is the final state of a processed page.
type Outcome int

const (
	Skipped Outcome = iota
	Done
)

func (o Outcome) String() string {
	if o == Done {
		return "done"
	}
	return "skipped"
}

// Page is the view of a document page the processor works on.
type Page interface {
	Index() int
	ExtractText(ctx context.Context) (string, error)
	Rasterize(ctx context.Context, dpi int, mode render.Mode) (image.Image, error)
	MediaBox() (coords.Rect, bool)
	CropBox() (coords.Rect, bool)
	Font(ctx context.Context) (*document.Font, error)
	OpenContentStreamForAppend() (*contentstream.Appender, error)
}

// PageProcessor decides whether a page needs OCR and, if so, renders it,
// recognizes it and injects the recognized lines. Use one per document.
type PageProcessor struct {
	Engine       ocr.Engine
	Languages    []string
	MinTextChars int
	DPI          coords.DPIPolicy
	Logger       observability.Logger

	zeroWidthLogged bool
}

// NeedsOCR reports whether text is too short for the page to count as
// searchable. Characters are counted as runes after trimming.
func (pp *PageProcessor) NeedsOCR(text string) bool {
	limit := pp.MinTextChars
	if limit <= 0 {
		limit = DefaultMinTextChars
	}
	return utf8.RuneCountInString(strings.TrimSpace(text)) < limit
}

// Process runs one page. Engine errors are returned as they are, with no
// retry.
func (pp *PageProcessor) Process(ctx context.Context, page Page) (Outcome, error) {
	log := observability.OrNop(pp.Logger).With(observability.Int("page", page.Index()+1))

	text, err := page.ExtractText(ctx)
	if err != nil {
		return Skipped, err
	}
	if !pp.NeedsOCR(text) {
		log.Info("page has text, skipping OCR", observability.Int("chars", utf8.RuneCountInString(strings.TrimSpace(text))))
		return Skipped, nil
	}

	policy := pp.DPI
	if policy == (coords.DPIPolicy{}) {
		policy = coords.DefaultDPIPolicy
	}
	media, ok := page.MediaBox()
	dpi := policy.Best(media, ok)
	img, err := page.Rasterize(ctx, dpi, render.WithoutText)
	if err != nil {
		return Skipped, err
	}
	res, err := pp.Engine.Recognize(ctx, ocr.NewRequest(img,
		ocr.WithLanguages(pp.Languages...),
		ocr.WithPageIndex(page.Index()),
		ocr.WithDPI(dpi),
	))
	if err != nil {
		return Skipped, err
	}

	lines, skipped, err := pp.inject(ctx, page, res.HOCR, dpi)
	if err != nil {
		return Skipped, err
	}
	if skipped > 0 && !pp.zeroWidthLogged {
		pp.zeroWidthLogged = true
		log.Warn("words without measurable glyphs were left out", observability.Int("words", skipped))
	}
	log.Info("page recognized",
		observability.Int("dpi", dpi),
		observability.Float64("dpi_scale", coords.DPIScale(dpi)),
		observability.Int("lines", lines),
	)
	return Done, nil
}

// inject streams lines out of the hOCR into a new content stream. The
// stream is only committed when every line was read; pages with no lines are
// left untouched.
func (pp *PageProcessor) inject(ctx context.Context, page Page, markup []byte, dpi int) (lines, skipped int, err error) {
	crop, _ := page.CropBox()
	scale := coords.DPIScale(dpi)
	r := hocr.NewReader(bytes.NewReader(markup))

	var (
		font *document.Font
		app  *contentstream.Appender
	)
	for {
		line, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return lines, skipped, fmt.Errorf("searchable: page %d: %w", page.Index()+1, err)
		}
		if app == nil {
			if font, err = page.Font(ctx); err != nil {
				return lines, skipped, err
			}
			if app, err = page.OpenContentStreamForAppend(); err != nil {
				return lines, skipped, err
			}
		}
		n, err := InjectLine(app, line, crop, scale, font)
		skipped += n
		if err != nil {
			return lines, skipped, fmt.Errorf("searchable: page %d: %w", page.Index()+1, err)
		}
		lines++
	}
	if app == nil {
		return 0, 0, nil
	}
	return lines, skipped, app.Close()
}
