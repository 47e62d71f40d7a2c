package document

import (
	"bytes"
	"context"
	"errors"
	"image"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/overview/pdfocr/builder"
	"github.com/overview/pdfocr/contentstream"
	"github.com/overview/pdfocr/coords"
	"github.com/overview/pdfocr/ir/raw"
	"github.com/overview/pdfocr/parser"
	"github.com/overview/pdfocr/render"
	"github.com/overview/pdfocr/xref"
)

type fakeRenderer struct {
	text  map[int]string
	calls []string
}

func (f *fakeRenderer) ExtractText(_ context.Context, path string, page int) (string, error) {
	f.calls = append(f.calls, "text")
	return f.text[page], nil
}

func (f *fakeRenderer) Rasterize(_ context.Context, path string, page, dpi int, mode render.Mode) (image.Image, error) {
	f.calls = append(f.calls, mode.String())
	return image.NewGray(image.Rect(0, 0, dpi, dpi)), nil
}

func writeFixture(t *testing.T, b builder.PDFBuilder) string {
	t.Helper()
	data, err := b.Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	path := filepath.Join(t.TempDir(), "in.pdf")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func twoPages() builder.PDFBuilder {
	return builder.NewBuilder().
		NewPage(612, 792).DrawText("existing", 72, 700, builder.TextOptions{}).Finish().
		NewPage(200, 100).SetCropBox(coords.Rect{X: 10, Y: 10, W: 100, H: 50}).Finish()
}

func load(t *testing.T, path string, opts ...Option) *Document {
	t.Helper()
	fr := &fakeRenderer{}
	opts = append([]Option{WithRasterizer(fr), WithTextExtractor(fr), WithDeterministicID()}, opts...)
	doc, err := Load(context.Background(), path, opts...)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	t.Cleanup(func() { doc.Close() })
	return doc
}

func TestLoadGeometry(t *testing.T) {
	doc := load(t, writeFixture(t, twoPages()))
	if doc.PageCount() != 2 || len(doc.Pages()) != 2 {
		t.Fatalf("PageCount() = %d", doc.PageCount())
	}
	p0, _ := doc.Page(0)
	if crop, ok := p0.CropBox(); !ok || crop != (coords.Rect{W: 612, H: 792}) {
		t.Fatalf("CropBox() without /CropBox = %+v, %v", crop, ok)
	}
	p1, _ := doc.Page(1)
	if crop, _ := p1.CropBox(); crop != (coords.Rect{X: 10, Y: 10, W: 100, H: 50}) {
		t.Fatalf("CropBox() = %+v", crop)
	}
	if media, _ := p1.MediaBox(); media != (coords.Rect{W: 200, H: 100}) {
		t.Fatalf("MediaBox() = %+v", media)
	}
	if _, err := doc.Page(2); err == nil {
		t.Fatalf("Page(2) succeeded")
	}
}

func TestLoadErrors(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	_, err := Load(ctx, filepath.Join(dir, "missing.pdf"))
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("Load(missing) error = %v", err)
	}

	junk := filepath.Join(dir, "junk.pdf")
	os.WriteFile(junk, []byte("hello, not a pdf"), 0o600)
	if _, err := Load(ctx, junk); !errors.Is(err, ErrInvalid) {
		t.Fatalf("Load(junk) error = %v, want ErrInvalid", err)
	}

	enc := writeFixture(t, builder.NewBuilder().NewPage(10, 10).Finish().SetEncrypted())
	if _, err := Load(ctx, enc); !errors.Is(err, ErrEncrypted) {
		t.Fatalf("Load(encrypted) error = %v, want ErrEncrypted", err)
	}
}

func TestLoadRepairsBrokenXRef(t *testing.T) {
	data, err := twoPages().Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	broken := bytes.Replace(data, []byte("startxref\n"), []byte("startxref\n9"), 1)
	path := filepath.Join(t.TempDir(), "broken.pdf")
	if err := os.WriteFile(path, broken, 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	doc := load(t, path)
	if doc.XRefKind() != xref.KindRepaired {
		t.Fatalf("XRefKind() = %s, want %s", doc.XRefKind(), xref.KindRepaired)
	}
	if doc.PageCount() != 2 {
		t.Fatalf("PageCount() = %d after repair", doc.PageCount())
	}

	strict := WithParserConfig(parser.Config{})
	if _, err := Load(context.Background(), path, strict); !errors.Is(err, ErrInvalid) {
		t.Fatalf("Load() without repair error = %v, want ErrInvalid", err)
	}
}

func TestRendererDelegation(t *testing.T) {
	fr := &fakeRenderer{text: map[int]string{2: "page two"}}
	doc, err := Load(context.Background(), writeFixture(t, twoPages()), WithRasterizer(fr), WithTextExtractor(fr))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	defer doc.Close()
	p, _ := doc.Page(1)
	text, err := p.ExtractText(context.Background())
	if err != nil || text != "page two" {
		t.Fatalf("ExtractText() = %q, %v", text, err)
	}
	img, err := p.Rasterize(context.Background(), 50, render.WithoutText)
	if err != nil || img.Bounds().Dx() != 50 {
		t.Fatalf("Rasterize() = %v, %v", img, err)
	}
	if len(fr.calls) != 2 || fr.calls[1] != "without-text" {
		t.Fatalf("calls = %v", fr.calls)
	}
}

func appendText(t *testing.T, p *Page, text string) {
	t.Helper()
	font, err := p.Font(context.Background())
	if err != nil {
		t.Fatalf("Font() error = %v", err)
	}
	a, err := p.OpenContentStreamForAppend()
	if err != nil {
		t.Fatalf("OpenContentStreamForAppend() error = %v", err)
	}
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("appender error = %v", err)
		}
	}
	must(a.BeginText())
	must(a.SetFont(font.Name, coords.BaseFontSize))
	must(a.SetTextRenderingMode(contentstream.TextInvisible))
	must(a.SetTextMatrix(coords.Translate(10, 20)))
	must(a.ShowText(font.Face.Encode(text)))
	must(a.EndText())
	must(a.Close())
}

func TestSaveIncremental(t *testing.T) {
	for _, kind := range []xref.Kind{xref.KindTable, xref.KindStream} {
		t.Run(string(kind), func(t *testing.T) {
			in := writeFixture(t, twoPages().SetXRefStream(kind == xref.KindStream))
			original, _ := os.ReadFile(in)
			doc := load(t, in)
			p0, _ := doc.Page(0)
			appendText(t, p0, "Hello")

			out := filepath.Join(t.TempDir(), "out.pdf")
			if err := doc.Save(out); err != nil {
				t.Fatalf("Save() error = %v", err)
			}
			saved, err := os.ReadFile(out)
			if err != nil {
				t.Fatalf("read output: %v", err)
			}
			if !bytes.HasPrefix(saved, original) || len(saved) == len(original) {
				t.Fatalf("output is not an incremental update of the input")
			}

			re := load(t, out)
			if re.XRefKind() != kind {
				t.Fatalf("output xref kind = %s, want %s", re.XRefKind(), kind)
			}
			if re.PageCount() != 2 {
				t.Fatalf("output PageCount() = %d", re.PageCount())
			}
			rp, _ := re.Page(0)
			contents, _ := rp.src.Dict.Get("Contents")
			arr, ok := contents.(*raw.ArrayObj)
			if !ok || arr.Len() != 4 {
				t.Fatalf("Contents = %#v, want [q original Q ocr]", contents)
			}
			ops := pageOps(t, re.parsed, arr.Items[3])
			if len(contentstream.TextMatrices(ops)) != 1 {
				t.Fatalf("appended stream operators = %+v", ops)
			}
			fontsObj, _ := rp.src.Resources.Get("Font")
			fontDict, _ := re.parsed.Loader.Resolve(context.Background(), fontsObj)
			fd := fontDict.(*raw.DictObj)
			if _, ok := fd.Get("F1"); !ok {
				t.Fatalf("existing font resource lost")
			}
			type0, err := re.parsed.Loader.Resolve(context.Background(), mustGet(t, fd, "OCR1"))
			if err != nil {
				t.Fatalf("resolve OCR font: %v", err)
			}
			if st, _ := type0.(*raw.DictObj).Name("Subtype"); st != "Type0" {
				t.Fatalf("OCR font Subtype = %q", st)
			}

			rp1, _ := re.Page(1)
			if _, ok := rp1.src.Dict.Get("Contents"); ok {
				t.Fatalf("untouched page gained content")
			}
		})
	}
}

func mustGet(t *testing.T, d *raw.DictObj, key string) raw.Object {
	t.Helper()
	v, ok := d.Get(key)
	if !ok {
		t.Fatalf("missing /%s", key)
	}
	return v
}

func pageOps(t *testing.T, doc *parser.Document, ref raw.Object) []contentstream.Operation {
	t.Helper()
	obj, err := doc.Loader.Resolve(context.Background(), ref)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	data, err := doc.Loader.DecodeStream(context.Background(), obj.(*raw.StreamObj))
	if err != nil {
		t.Fatalf("DecodeStream() error = %v", err)
	}
	ops, err := contentstream.Parse(data)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	return ops
}

func TestSaveUnchangedCopiesInput(t *testing.T) {
	in := writeFixture(t, twoPages())
	doc := load(t, in)
	out := filepath.Join(t.TempDir(), "out.pdf")
	if err := doc.Save(out); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	a, _ := os.ReadFile(in)
	b, _ := os.ReadFile(out)
	if !bytes.Equal(a, b) {
		t.Fatalf("unchanged document was rewritten")
	}
}

func TestSaveFailureLeavesNoFile(t *testing.T) {
	doc := load(t, writeFixture(t, twoPages()))
	out := filepath.Join(t.TempDir(), "no-such-dir", "out.pdf")
	if err := doc.Save(out); err == nil {
		t.Fatalf("Save() into a missing directory succeeded")
	}
	if _, err := os.Stat(out); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("output exists after failed save: %v", err)
	}
}

func TestFontSharedAcrossPages(t *testing.T) {
	doc := load(t, writeFixture(t, twoPages()))
	p0, _ := doc.Page(0)
	p1, _ := doc.Page(1)
	f0, err := p0.Font(context.Background())
	if err != nil {
		t.Fatalf("Font() error = %v", err)
	}
	f1, err := p1.Font(context.Background())
	if err != nil {
		t.Fatalf("Font() error = %v", err)
	}
	if f0.Face != f1.Face {
		t.Fatalf("pages got different faces")
	}
	again, _ := p0.Font(context.Background())
	if again != f0 {
		t.Fatalf("Font() registered twice on one page")
	}
}

func TestFontLoadFailure(t *testing.T) {
	doc := load(t, writeFixture(t, twoPages()), WithFontFile(filepath.Join(t.TempDir(), "nope.ttf")))
	p0, _ := doc.Page(0)
	if _, err := p0.Font(context.Background()); err == nil {
		t.Fatalf("Font() with a missing font file succeeded")
	}
}

func TestUniqueName(t *testing.T) {
	d := raw.Dict()
	if uniqueName(d) != "OCR1" {
		t.Fatalf("uniqueName(empty) = %q", uniqueName(d))
	}
	d.Set("OCR1", raw.NullObj{})
	d.Set("OCR2", raw.NullObj{})
	if got := uniqueName(d); got != "OCR3" {
		t.Fatalf("uniqueName() = %q, want OCR3", got)
	}
}

func TestCloseIsIdempotentAndFinal(t *testing.T) {
	doc := load(t, writeFixture(t, twoPages()))
	p0, _ := doc.Page(0)
	if err := doc.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := doc.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	defer func() {
		if recover() == nil {
			t.Fatalf("MediaBox() after Close did not panic")
		}
	}()
	p0.MediaBox()
}
