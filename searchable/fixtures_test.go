package searchable

import (
	"context"
	"image"
	"os"
	"path/filepath"
	"testing"

	"github.com/overview/pdfocr/builder"
	"github.com/overview/pdfocr/ocr"
	"github.com/overview/pdfocr/render"
)

const helloHOCR = `<?xml version="1.0" encoding="UTF-8"?>
<html xmlns="http://www.w3.org/1999/xhtml" xml:lang="en" lang="en">
 <head><title></title><meta http-equiv="Content-Type" content="text/html;charset=utf-8"/></head>
 <body>
  <div class='ocr_page' id='page_1' title='image ""; bbox 0 0 2550 3300; ppageno 0'>
   <div class='ocr_carea' id='block_1_1' title="bbox 100 200 1400 260">
    <p class='ocr_par' id='par_1_1' lang='eng' title="bbox 100 200 1400 260">
     <span class='ocr_line' id='line_1_1' title="bbox 100 200 1400 260; baseline 0 -10; x_size 60">
      <span class='ocrx_word' id='word_1_1' title='bbox 100 200 700 260; x_wconf 96'>Hello</span>
      <span class='ocrx_word' id='word_1_2' title='bbox 760 205 1400 255; x_wconf 95'>world</span>
     </span>
    </p>
   </div>
  </div>
 </body>
</html>
`

type stubEngine struct {
	hocr     string
	err      error
	requests []ocr.Request
}

func (e *stubEngine) Name() string { return "stub" }

func (e *stubEngine) Recognize(_ context.Context, req ocr.Request) (ocr.Result, error) {
	e.requests = append(e.requests, req)
	if e.err != nil {
		return ocr.Result{}, e.err
	}
	return ocr.Result{HOCR: []byte(e.hocr)}, nil
}

// fakeRenderer serves page text from a map and blank images.
type fakeRenderer struct {
	text  map[int]string
	modes []render.Mode
}

func (f *fakeRenderer) ExtractText(_ context.Context, _ string, page int) (string, error) {
	return f.text[page], nil
}

func (f *fakeRenderer) Rasterize(_ context.Context, _ string, _, dpi int, mode render.Mode) (image.Image, error) {
	f.modes = append(f.modes, mode)
	return image.NewGray(image.Rect(0, 0, 8, 8)), nil
}

func writeFixture(t *testing.T, b builder.PDFBuilder) string {
	t.Helper()
	data, err := b.Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	path := filepath.Join(t.TempDir(), "in.pdf")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}
