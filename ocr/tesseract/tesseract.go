// Package tesseract drives the tesseract command-line program as an OCR
// engine. Images go in over stdin as BMP and hOCR comes back on stdout.
package tesseract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/image/bmp"
	"golang.org/x/sync/errgroup"

	"github.com/overview/pdfocr/observability"
	"github.com/overview/pdfocr/ocr"
)

// DefaultPath is the engine binary looked up on PATH when none is configured.
const DefaultPath = "tesseract"

// PSMAuto is fully automatic page segmentation with orientation and script
// detection.
const PSMAuto = 1

var languageFailure = regexp.MustCompile(`Failed loading language '([^']*)'`)

// Engine runs one tesseract process per Recognize call.
type Engine struct {
	path   string
	psm    int
	logger observability.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger routes engine diagnostics to l.
func WithLogger(l observability.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithPSM overrides the page segmentation mode.
func WithPSM(mode int) Option {
	return func(e *Engine) { e.psm = mode }
}

// New returns an Engine that runs the binary at path, or DefaultPath when
// path is empty.
func New(path string, opts ...Option) *Engine {
	if path == "" {
		path = DefaultPath
	}
	e := &Engine{path: path, psm: PSMAuto, logger: observability.NopLogger{}}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Name() string { return "tesseract" }

// Path returns the binary the engine invokes.
func (e *Engine) Path() string { return e.path }

// Args returns the command line arguments for a run with the given language
// codes.
func (e *Engine) Args(languages []string) []string {
	args := []string{"-", "stdout", "--psm", strconv.Itoa(e.psm)}
	if len(languages) > 0 {
		args = append(args, "-l", strings.Join(languages, "+"))
	}
	return append(args, "hocr")
}

// Recognize encodes req.Image as BMP and runs the engine on it.
//
// Once the process starts it runs to completion: ctx is only consulted
// before launch.
func (e *Engine) Recognize(ctx context.Context, req ocr.Request) (ocr.Result, error) {
	if err := ctx.Err(); err != nil {
		return ocr.Result{}, err
	}
	if req.Image == nil {
		return ocr.Result{}, errors.New("tesseract: request has no image")
	}
	var img bytes.Buffer
	if err := bmp.Encode(&img, req.Image); err != nil {
		return ocr.Result{}, fmt.Errorf("tesseract: encode bmp: %w", err)
	}
	res, err := e.Run(img.Bytes(), req.Languages)
	if err != nil {
		return ocr.Result{}, err
	}
	e.logger.Debug("tesseract finished",
		observability.Int("page", req.PageIndex),
		observability.Int("hocr_bytes", len(res.HOCR)),
		observability.String("stderr", strings.TrimSpace(string(res.Stderr))),
	)
	return res, nil
}

// Run feeds input to the engine's stdin and collects its output.
func (e *Engine) Run(input []byte, languages []string) (ocr.Result, error) {
	cmd := exec.Command(e.path, e.Args(languages)...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return ocr.Result{}, fmt.Errorf("tesseract: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return ocr.Result{}, fmt.Errorf("tesseract: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return ocr.Result{}, fmt.Errorf("tesseract: stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return ocr.Result{}, &ocr.EngineMissingError{Path: e.path, Err: err}
	}

	// All three streams are serviced at once: the child may fill its stdout
	// or stderr pipe before it has read all of stdin.
	var out, diag bytes.Buffer
	var g errgroup.Group
	g.Go(func() error {
		_, werr := stdin.Write(input)
		cerr := stdin.Close()
		if werr != nil && !closedPipe(werr) {
			return fmt.Errorf("write image: %w", werr)
		}
		if cerr != nil && !closedPipe(cerr) {
			return fmt.Errorf("close stdin: %w", cerr)
		}
		return nil
	})
	g.Go(func() error { return drain(cmd, &out, stdout, "stdout") })
	g.Go(func() error { return drain(cmd, &diag, stderr, "stderr") })
	ioErr := g.Wait()
	waitErr := cmd.Wait()

	if m := languageFailure.FindSubmatch(diag.Bytes()); m != nil {
		return ocr.Result{}, &ocr.LanguageMissingError{Language: string(m[1])}
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			return ocr.Result{}, &ocr.EngineFailedError{
				ExitCode: exitErr.ExitCode(),
				Stderr:   strings.ToValidUTF8(diag.String(), "�"),
			}
		}
		return ocr.Result{}, fmt.Errorf("tesseract: wait: %w", waitErr)
	}
	if ioErr != nil {
		return ocr.Result{}, fmt.Errorf("tesseract: %w", ioErr)
	}
	return ocr.Result{HOCR: out.Bytes(), Stderr: diag.Bytes()}, nil
}

// drain copies r into dst. If the copy fails the process is killed so the
// other pipes reach EOF instead of blocking.
func drain(cmd *exec.Cmd, dst *bytes.Buffer, r io.Reader, name string) error {
	if _, err := io.Copy(dst, r); err != nil {
		_ = cmd.Process.Kill()
		return fmt.Errorf("read %s: %w", name, err)
	}
	return nil
}

func closedPipe(err error) bool {
	return errors.Is(err, syscall.EPIPE) || errors.Is(err, os.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}
