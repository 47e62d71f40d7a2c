// Package builder assembles small PDF files with a fluent API. It writes
// through the same writer used for incremental updates and is mainly used to
// produce fixtures.
package builder

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"strings"

	"github.com/overview/pdfocr/contentstream"
	"github.com/overview/pdfocr/coords"
	"github.com/overview/pdfocr/filters"
	"github.com/overview/pdfocr/ir/raw"
	"github.com/overview/pdfocr/writer"
)

// PDFBuilder provides a fluent API for PDF construction.
type PDFBuilder interface {
	NewPage(width, height float64) PageBuilder
	SetVersion(version string) PDFBuilder
	SetXRefStream(enabled bool) PDFBuilder
	// SetInherited moves MediaBox and Resources onto the page tree node.
	SetInherited(enabled bool) PDFBuilder
	SetEncrypted() PDFBuilder
	SetInfo(title string) PDFBuilder
	Build() ([]byte, error)
}

// PageBuilder provides a fluent API for page construction.
type PageBuilder interface {
	DrawText(text string, x, y float64, opts TextOptions) PageBuilder
	DrawRectangle(x, y, width, height float64, opts RectOptions) PageBuilder
	DrawImage(img image.Image, x, y, width, height float64) PageBuilder
	SetCropBox(box coords.Rect) PageBuilder
	SetRotation(degrees int) PageBuilder
	Finish() PDFBuilder
}

// TextOptions configures text drawing. Text is set in Helvetica.
type TextOptions struct {
	FontSize   float64
	RenderMode contentstream.TextRenderMode
}

// RectOptions configures rectangle drawing.
type RectOptions struct {
	Gray float64
	Fill bool
}

type pageSpec struct {
	width, height float64
	crop          *coords.Rect
	rotation      int
	content       bytes.Buffer
	images        []image.Image
	usesFont      bool
}

type pdfBuilder struct {
	version    string
	xrefStream bool
	inherited  bool
	encrypted  bool
	title      string
	pages      []*pageSpec
	err        error
}

// NewBuilder returns an empty PDFBuilder.
func NewBuilder() PDFBuilder { return &pdfBuilder{version: "1.7"} }

func (b *pdfBuilder) NewPage(width, height float64) PageBuilder {
	p := &pageSpec{width: width, height: height}
	b.pages = append(b.pages, p)
	return &pageBuilder{b: b, p: p}
}

func (b *pdfBuilder) SetVersion(v string) PDFBuilder   { b.version = v; return b }
func (b *pdfBuilder) SetXRefStream(on bool) PDFBuilder { b.xrefStream = on; return b }
func (b *pdfBuilder) SetInherited(on bool) PDFBuilder  { b.inherited = on; return b }
func (b *pdfBuilder) SetEncrypted() PDFBuilder         { b.encrypted = true; return b }
func (b *pdfBuilder) SetInfo(title string) PDFBuilder  { b.title = title; return b }

func (b *pdfBuilder) Build() ([]byte, error) {
	if b.err != nil {
		return nil, b.err
	}
	if len(b.pages) == 0 && b.inherited {
		return nil, errors.New("builder: inherited attributes need a page")
	}
	u := writer.NewUpdate(1)
	catalogRef := u.Reserve()
	treeRef := u.Reserve()

	helv := raw.Dict()
	helv.Set("Type", raw.NameLiteral("Font"))
	helv.Set("Subtype", raw.NameLiteral("Type1"))
	helv.Set("BaseFont", raw.NameLiteral("Helvetica"))
	helvRef := u.Add(helv)

	tree := raw.Dict()
	tree.Set("Type", raw.NameLiteral("Pages"))
	kids := raw.NewArray()
	for _, p := range b.pages {
		pageRef, err := b.addPage(u, p, treeRef, helvRef)
		if err != nil {
			return nil, err
		}
		kids.Append(raw.Ref(pageRef.Num, 0))
	}
	tree.Set("Kids", kids)
	tree.Set("Count", raw.NumberInt(int64(len(b.pages))))
	if b.inherited {
		first := b.pages[0]
		tree.Set("MediaBox", box(coords.Rect{W: first.width, H: first.height}))
		tree.Set("Resources", resources(helvRef, true))
	}
	u.Set(treeRef, tree)

	cat := raw.Dict()
	cat.Set("Type", raw.NameLiteral("Catalog"))
	cat.Set("Pages", raw.Ref(treeRef.Num, 0))
	u.Set(catalogRef, cat)

	trailer := raw.Dict()
	trailer.Set("Root", raw.Ref(catalogRef.Num, 0))
	if b.title != "" {
		info := raw.Dict()
		info.Set("Title", raw.Str([]byte(b.title)))
		infoRef := u.Add(info)
		trailer.Set("Info", raw.Ref(infoRef.Num, 0))
	}
	if b.encrypted {
		enc := raw.Dict()
		enc.Set("Filter", raw.NameLiteral("Standard"))
		enc.Set("V", raw.NumberInt(1))
		enc.Set("R", raw.NumberInt(2))
		encRef := u.Add(enc)
		trailer.Set("Encrypt", raw.Ref(encRef.Num, 0))
	}

	var out bytes.Buffer
	w := writer.New(writer.Config{XRefStream: b.xrefStream, Deterministic: true})
	if _, err := w.Write(&out, b.version, u, trailer); err != nil {
		return nil, fmt.Errorf("builder: %w", err)
	}
	return out.Bytes(), nil
}

func (b *pdfBuilder) addPage(u *writer.Update, p *pageSpec, parent, helv raw.ObjectRef) (raw.ObjectRef, error) {
	page := raw.Dict()
	page.Set("Type", raw.NameLiteral("Page"))
	page.Set("Parent", raw.Ref(parent.Num, 0))
	if !b.inherited {
		page.Set("MediaBox", box(coords.Rect{W: p.width, H: p.height}))
	}
	if p.crop != nil {
		page.Set("CropBox", box(*p.crop))
	}
	if p.rotation != 0 {
		page.Set("Rotate", raw.NumberInt(int64(p.rotation)))
	}

	var imageRefs []raw.ObjectRef
	for _, img := range p.images {
		ref, err := addImage(u, img)
		if err != nil {
			return raw.ObjectRef{}, err
		}
		imageRefs = append(imageRefs, ref)
	}
	if !b.inherited || len(imageRefs) > 0 {
		res := resources(helv, p.usesFont || b.inherited)
		if len(imageRefs) > 0 {
			xo := raw.Dict()
			for i, ref := range imageRefs {
				xo.Set(fmt.Sprintf("Im%d", i+1), raw.Ref(ref.Num, 0))
			}
			res.Set("XObject", xo)
		}
		page.Set("Resources", res)
	}

	if p.content.Len() > 0 {
		data, err := filters.FlateEncode(p.content.Bytes())
		if err != nil {
			return raw.ObjectRef{}, fmt.Errorf("builder: %w", err)
		}
		sd := raw.Dict()
		sd.Set("Filter", raw.NameLiteral("FlateDecode"))
		contentRef := u.Add(raw.NewStream(sd, data))
		page.Set("Contents", raw.Ref(contentRef.Num, 0))
	}
	return u.Add(page), nil
}

func resources(helv raw.ObjectRef, withFont bool) *raw.DictObj {
	res := raw.Dict()
	if withFont {
		fontDict := raw.Dict()
		fontDict.Set("F1", raw.Ref(helv.Num, 0))
		res.Set("Font", fontDict)
	}
	return res
}

func addImage(u *writer.Update, img image.Image) (raw.ObjectRef, error) {
	bounds := img.Bounds()
	pix := make([]byte, 0, bounds.Dx()*bounds.Dy()*3)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			pix = append(pix, byte(r>>8), byte(g>>8), byte(b>>8))
		}
	}
	data, err := filters.FlateEncode(pix)
	if err != nil {
		return raw.ObjectRef{}, fmt.Errorf("builder: %w", err)
	}
	d := raw.Dict()
	d.Set("Type", raw.NameLiteral("XObject"))
	d.Set("Subtype", raw.NameLiteral("Image"))
	d.Set("Width", raw.NumberInt(int64(bounds.Dx())))
	d.Set("Height", raw.NumberInt(int64(bounds.Dy())))
	d.Set("ColorSpace", raw.NameLiteral("DeviceRGB"))
	d.Set("BitsPerComponent", raw.NumberInt(8))
	d.Set("Filter", raw.NameLiteral("FlateDecode"))
	return u.Add(raw.NewStream(d, data)), nil
}

func box(r coords.Rect) *raw.ArrayObj {
	return raw.NewArray(
		raw.NumberFloat(r.X), raw.NumberFloat(r.Y),
		raw.NumberFloat(r.X+r.W), raw.NumberFloat(r.Y+r.H),
	)
}

type pageBuilder struct {
	b *pdfBuilder
	p *pageSpec
}

func (pb *pageBuilder) DrawText(text string, x, y float64, opts TextOptions) PageBuilder {
	size := opts.FontSize
	if size <= 0 {
		size = 12
	}
	pb.p.usesFont = true
	fmt.Fprintf(&pb.p.content, "BT\n/F1 %s Tf\n%d Tr\n%s %s Td\n%s Tj\nET\n",
		writer.FormatReal(size), opts.RenderMode,
		writer.FormatReal(x), writer.FormatReal(y),
		writer.SerializePrimitive(raw.Str([]byte(strings.ToValidUTF8(text, "?")))))
	return pb
}

func (pb *pageBuilder) DrawRectangle(x, y, width, height float64, opts RectOptions) PageBuilder {
	op := "S"
	if opts.Fill {
		op = "f"
	}
	fmt.Fprintf(&pb.p.content, "%s g %s G\n%s %s %s %s re %s\n",
		writer.FormatReal(opts.Gray), writer.FormatReal(opts.Gray),
		writer.FormatReal(x), writer.FormatReal(y), writer.FormatReal(width), writer.FormatReal(height), op)
	return pb
}

func (pb *pageBuilder) DrawImage(img image.Image, x, y, width, height float64) PageBuilder {
	if img == nil {
		pb.b.err = errors.New("builder: nil image")
		return pb
	}
	pb.p.images = append(pb.p.images, img)
	fmt.Fprintf(&pb.p.content, "q %s 0 0 %s %s %s cm /Im%d Do Q\n",
		writer.FormatReal(width), writer.FormatReal(height),
		writer.FormatReal(x), writer.FormatReal(y), len(pb.p.images))
	return pb
}

func (pb *pageBuilder) SetCropBox(r coords.Rect) PageBuilder {
	pb.p.crop = &r
	return pb
}

func (pb *pageBuilder) SetRotation(degrees int) PageBuilder {
	pb.p.rotation = degrees
	return pb
}

func (pb *pageBuilder) Finish() PDFBuilder { return pb.b }
