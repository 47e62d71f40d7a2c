package document

import (
	"context"
	"fmt"
	"image"

	"github.com/overview/pdfocr/contentstream"
	"github.com/overview/pdfocr/coords"
	"github.com/overview/pdfocr/ir/raw"
	"github.com/overview/pdfocr/parser"
	"github.com/overview/pdfocr/render"
)

// Page is one page of a Document.
type Page struct {
	doc   *Document
	index int
	src   parser.Page

	// resources is the page's own copy of its effective resources, made
	// when the OCR font is first registered.
	resources *raw.DictObj
	font      *Font
	appended  [][]byte
}

// Index is the page's position, counting from 0.
func (p *Page) Index() int { return p.index }

// ExtractText returns the page's existing text layer.
func (p *Page) ExtractText(ctx context.Context) (string, error) {
	p.doc.checkOpen()
	text, err := p.doc.opts.text.ExtractText(ctx, p.doc.path, p.index+1)
	if err != nil {
		return "", fmt.Errorf("document: page %d: extract text: %w", p.index+1, err)
	}
	return text, nil
}

// Rasterize renders the page's crop box at dpi.
func (p *Page) Rasterize(ctx context.Context, dpi int, mode render.Mode) (image.Image, error) {
	p.doc.checkOpen()
	img, err := p.doc.opts.rasterizer.Rasterize(ctx, p.doc.path, p.index+1, dpi, mode)
	if err != nil {
		return nil, fmt.Errorf("document: page %d: rasterize: %w", p.index+1, err)
	}
	return img, nil
}

// MediaBox returns the page's effective media box, reporting false when
// neither the page nor an ancestor declares a valid one.
func (p *Page) MediaBox() (coords.Rect, bool) {
	p.doc.checkOpen()
	return p.src.MediaBox, p.src.HasMedia
}

// CropBox returns the effective crop box, falling back to the media box.
func (p *Page) CropBox() (coords.Rect, bool) {
	p.doc.checkOpen()
	if p.src.HasCrop {
		return p.src.CropBox, true
	}
	return p.src.MediaBox, p.src.HasMedia
}

// Font registers the document's OCR font in the page resources and returns
// the name it is available under.
func (p *Page) Font(ctx context.Context) (*Font, error) {
	p.doc.checkOpen()
	if p.font != nil {
		return p.font, nil
	}
	shared, err := p.doc.sharedFont()
	if err != nil {
		return nil, err
	}

	res := raw.Dict()
	if p.src.Resources != nil {
		res = p.src.Resources.Clone()
	}
	fontDict := raw.Dict()
	if existing, ok := res.Get("Font"); ok {
		obj, err := p.doc.parsed.Loader.Resolve(ctx, existing)
		if err != nil {
			return nil, fmt.Errorf("document: page %d: font resources: %w", p.index+1, err)
		}
		if dict, ok := obj.(*raw.DictObj); ok {
			fontDict = dict.Clone()
		}
	}
	name := uniqueName(fontDict)
	fontDict.Set(name, raw.Ref(shared.ref.Num, shared.ref.Gen))
	res.Set("Font", fontDict)

	p.resources = res
	p.font = &Font{Name: name, Face: shared.face}
	return p.font, nil
}

// OpenContentStreamForAppend returns an Appender whose stream is drawn after
// the page's existing content when the Appender is closed. The existing
// content is wrapped in q/Q so its graphics state does not leak into the new
// stream.
func (p *Page) OpenContentStreamForAppend() (*contentstream.Appender, error) {
	p.doc.checkOpen()
	return contentstream.NewAppender(func(data []byte) error {
		if p.doc.closed {
			return fmt.Errorf("document: page %d: document closed", p.index+1)
		}
		if len(data) == 0 {
			return nil
		}
		p.appended = append(p.appended, append([]byte(nil), data...))
		return nil
	}), nil
}

// Modified reports whether the page has appended content.
func (p *Page) Modified() bool { return len(p.appended) > 0 }
