package searchable

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/overview/pdfocr/builder"
	"github.com/overview/pdfocr/document"
	"github.com/overview/pdfocr/observability"
	"github.com/overview/pdfocr/ocr"
	"github.com/overview/pdfocr/render"
)

type trackingDoc struct {
	*document.Document
	closes *int
}

func (d trackingDoc) Close() error {
	*d.closes++
	return d.Document.Close()
}

type progressLog [][2]int

func (p *progressLog) record(done, total int) { *p = append(*p, [2]int{done, total}) }

func newPipeline(engine ocr.Engine, fr *fakeRenderer, closes *int) *Pipeline {
	return NewPipeline(engine,
		WithDocumentOptions(
			document.WithRasterizer(fr),
			document.WithTextExtractor(fr),
			document.WithDeterministicID(),
		),
		WithOpener(func(ctx context.Context, path string, opts ...document.Option) (Document, error) {
			doc, err := document.Load(ctx, path, opts...)
			if err != nil {
				return nil, err
			}
			return trackingDoc{Document: doc, closes: closes}, nil
		}),
	)
}

func onePage() builder.PDFBuilder {
	return builder.NewBuilder().
		NewPage(612, 792).DrawText("existing", 72, 700, builder.TextOptions{}).Finish()
}

func TestMakeSearchable(t *testing.T) {
	in := writeFixture(t, onePage())
	out := filepath.Join(t.TempDir(), "out.pdf")
	engine := &stubEngine{hocr: helloHOCR}
	fr := &fakeRenderer{text: map[int]string{1: "existing"}}
	closes := 0
	var progress progressLog

	err := newPipeline(engine, fr, &closes).MakeSearchable(context.Background(), in, out, []string{"en"}, progress.record)
	if err != nil {
		t.Fatalf("MakeSearchable() error = %v", err)
	}
	if closes != 1 {
		t.Fatalf("document closed %d times", closes)
	}
	if !reflect.DeepEqual(progress, progressLog{{0, 1}, {1, 1}}) {
		t.Fatalf("progress = %v", progress)
	}
	if len(engine.requests) != 1 || engine.requests[0].DPI != 300 || engine.requests[0].Languages[0] != "eng" {
		t.Fatalf("engine requests = %+v", engine.requests)
	}
	if len(fr.modes) != 1 || fr.modes[0] != render.WithoutText {
		t.Fatalf("rasterize modes = %v", fr.modes)
	}

	original, _ := os.ReadFile(in)
	saved, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if !bytes.HasPrefix(saved, original) || len(saved) <= len(original) {
		t.Fatalf("output is not an update of the input")
	}
	doc, err := document.Load(context.Background(), out)
	if err != nil {
		t.Fatalf("Load(output) error = %v", err)
	}
	defer doc.Close()
	if doc.PageCount() != 1 {
		t.Fatalf("output PageCount() = %d", doc.PageCount())
	}

	// With Poppler available, check the text layer end to end.
	if _, err := exec.LookPath("pdftotext"); err == nil {
		text, err := render.NewPdftotext("").ExtractText(context.Background(), out, 1)
		if err != nil {
			t.Fatalf("pdftotext error = %v", err)
		}
		for _, want := range []string{"existing", "Hello", "world"} {
			if !strings.Contains(text, want) {
				t.Fatalf("output text %q lacks %q", text, want)
			}
		}
	}
}

func TestMakeSearchableSkipsTextPages(t *testing.T) {
	in := writeFixture(t, onePage())
	out := filepath.Join(t.TempDir(), "out.pdf")
	engine := &stubEngine{hocr: helloHOCR}
	fr := &fakeRenderer{text: map[int]string{1: strings.Repeat("word ", 40)}}
	closes := 0
	if err := newPipeline(engine, fr, &closes).MakeSearchable(context.Background(), in, out, nil, nil); err != nil {
		t.Fatalf("MakeSearchable() error = %v", err)
	}
	if len(engine.requests) != 0 {
		t.Fatalf("engine ran on a text page")
	}
	a, _ := os.ReadFile(in)
	b, _ := os.ReadFile(out)
	if !bytes.Equal(a, b) {
		t.Fatalf("output differs from input for an all-text document")
	}
}

func TestMakeSearchableCancelAfterFirstPage(t *testing.T) {
	in := writeFixture(t, onePage().NewPage(612, 792).Finish())
	out := filepath.Join(t.TempDir(), "out.pdf")
	engine := &stubEngine{hocr: helloHOCR}
	closes := 0
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var progress progressLog
	stopAfterFirst := func(done, total int) {
		progress.record(done, total)
		if done == 1 {
			cancel()
		}
	}

	err := newPipeline(engine, &fakeRenderer{}, &closes).MakeSearchable(ctx, in, out, []string{"eng"}, stopAfterFirst)
	if !errors.Is(err, ErrAborted) || !errors.Is(err, context.Canceled) {
		t.Fatalf("MakeSearchable() error = %v, want ErrAborted wrapping context.Canceled", err)
	}
	if _, err := os.Stat(out); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("output written after cancellation: %v", err)
	}
	if closes != 1 {
		t.Fatalf("document closed %d times", closes)
	}
	if len(engine.requests) != 1 {
		t.Fatalf("engine ran %d times, want 1", len(engine.requests))
	}
	if !reflect.DeepEqual(progress, progressLog{{0, 2}, {1, 2}}) {
		t.Fatalf("progress = %v", progress)
	}
}

func TestMakeSearchableEngineFailureLeavesOutput(t *testing.T) {
	in := writeFixture(t, onePage())
	out := filepath.Join(t.TempDir(), "out.pdf")
	if err := os.WriteFile(out, []byte("keep"), 0o644); err != nil {
		t.Fatalf("write output: %v", err)
	}
	engine := &stubEngine{err: &ocr.EngineFailedError{ExitCode: 1, Stderr: "boom"}}
	closes := 0
	err := newPipeline(engine, &fakeRenderer{}, &closes).MakeSearchable(context.Background(), in, out, nil, nil)
	var failed *ocr.EngineFailedError
	if !errors.As(err, &failed) {
		t.Fatalf("MakeSearchable() error = %v, want EngineFailedError", err)
	}
	if got, _ := os.ReadFile(out); string(got) != "keep" {
		t.Fatalf("output changed to %q", got)
	}
	if closes != 1 {
		t.Fatalf("document closed %d times", closes)
	}
}

func TestMakeSearchableInputErrors(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out.pdf")
	closes := 0
	p := newPipeline(&stubEngine{}, &fakeRenderer{}, &closes)

	err := p.MakeSearchable(context.Background(), filepath.Join(dir, "missing.pdf"), out, nil, nil)
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("missing input error = %v", err)
	}
	junk := filepath.Join(dir, "junk.pdf")
	os.WriteFile(junk, []byte("GIF89a"), 0o644)
	if err := p.MakeSearchable(context.Background(), junk, out, nil, nil); !errors.Is(err, document.ErrInvalid) {
		t.Fatalf("junk input error = %v", err)
	}
	if err := p.MakeSearchable(context.Background(), junk, out, []string{"not a language!"}, nil); err == nil {
		t.Fatalf("bad language accepted")
	}
	if _, err := os.Stat(out); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("output created on failure")
	}
	if closes != 0 {
		t.Fatalf("closed %d documents that never opened", closes)
	}
}

func TestMakeSearchableEmptyDocument(t *testing.T) {
	in := writeFixture(t, builder.NewBuilder())
	out := filepath.Join(t.TempDir(), "out.pdf")
	closes := 0
	var progress progressLog
	if err := newPipeline(&stubEngine{}, &fakeRenderer{}, &closes).MakeSearchable(context.Background(), in, out, nil, progress.record); err != nil {
		t.Fatalf("MakeSearchable() error = %v", err)
	}
	if !reflect.DeepEqual(progress, progressLog{{0, 0}}) {
		t.Fatalf("progress = %v", progress)
	}
}

// cancellingRenderer cancels the run while a page is being rendered and
// fails the way a tool started under the context does.
type cancellingRenderer struct {
	fakeRenderer
	cancel context.CancelFunc
}

func (r *cancellingRenderer) Rasterize(ctx context.Context, _ string, _, _ int, _ render.Mode) (image.Image, error) {
	r.cancel()
	return nil, fmt.Errorf("render: %w", ctx.Err())
}

func TestMakeSearchableCancelDuringRender(t *testing.T) {
	in := writeFixture(t, builder.NewBuilder().NewPage(612, 792).Finish())
	out := filepath.Join(t.TempDir(), "out.pdf")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := &cancellingRenderer{cancel: cancel}
	engine := &stubEngine{hocr: helloHOCR}
	closes := 0
	p := NewPipeline(engine,
		WithDocumentOptions(document.WithRasterizer(r), document.WithTextExtractor(r)),
		WithOpener(func(ctx context.Context, path string, opts ...document.Option) (Document, error) {
			doc, err := document.Load(ctx, path, opts...)
			if err != nil {
				return nil, err
			}
			return trackingDoc{Document: doc, closes: &closes}, nil
		}),
	)

	err := p.MakeSearchable(ctx, in, out, nil, nil)
	if !errors.Is(err, ErrAborted) || !errors.Is(err, context.Canceled) {
		t.Fatalf("MakeSearchable() error = %v, want ErrAborted wrapping context.Canceled", err)
	}
	if len(engine.requests) != 0 {
		t.Fatalf("engine ran %d times after cancellation", len(engine.requests))
	}
	if _, err := os.Stat(out); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("output written after cancellation: %v", err)
	}
	if closes != 1 {
		t.Fatalf("document closed %d times", closes)
	}
}

func TestMakeSearchableRenderFailureIsNotAbort(t *testing.T) {
	in := writeFixture(t, builder.NewBuilder().NewPage(612, 792).Finish())
	out := filepath.Join(t.TempDir(), "out.pdf")
	failing := &render.ToolFailedError{Tool: "gs", ExitCode: 1, Stderr: "bad page"}
	r := &failingRenderer{err: failing}
	p := NewPipeline(&stubEngine{}, WithDocumentOptions(document.WithRasterizer(r), document.WithTextExtractor(r)))

	err := p.MakeSearchable(context.Background(), in, out, nil, nil)
	if errors.Is(err, ErrAborted) {
		t.Fatalf("MakeSearchable() error = %v, reported as an abort", err)
	}
	var tool *render.ToolFailedError
	if !errors.As(err, &tool) {
		t.Fatalf("MakeSearchable() error = %v, want ToolFailedError", err)
	}
}

type failingRenderer struct {
	fakeRenderer
	err error
}

func (r *failingRenderer) Rasterize(context.Context, string, int, int, render.Mode) (image.Image, error) {
	return nil, r.err
}

func TestMakeSearchableLogsPageDetails(t *testing.T) {
	in := writeFixture(t, builder.NewBuilder().NewPage(612, 792).Finish())
	out := filepath.Join(t.TempDir(), "out.pdf")
	var buf bytes.Buffer
	fr := &fakeRenderer{}
	p := NewPipeline(&stubEngine{hocr: helloHOCR},
		WithLogger(observability.NewZerolog(zerolog.New(&buf))),
		WithDocumentOptions(document.WithRasterizer(fr), document.WithTextExtractor(fr), document.WithDeterministicID()),
	)
	if err := p.MakeSearchable(context.Background(), in, out, nil, nil); err != nil {
		t.Fatalf("MakeSearchable() error = %v", err)
	}
	logs := buf.String()
	for _, want := range []string{`"dpi_scale":0.24`, `"ocr":true`, `"took":`} {
		if !strings.Contains(logs, want) {
			t.Fatalf("log output missing %s:\n%s", want, logs)
		}
	}
}
