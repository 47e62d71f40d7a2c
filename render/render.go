// Package render rasterizes PDF pages and extracts their text by running
// external tools on the document file.
package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io/fs"
	"os/exec"
	"strings"
)

// Mode selects whether existing text is drawn when rasterizing.
type Mode int

const (
	WithText Mode = iota
	// WithoutText leaves text out so only scanned imagery is recognized.
	WithoutText
)

func (m Mode) String() string {
	if m == WithoutText {
		return "without-text"
	}
	return "with-text"
}

// Rasterizer renders one page, numbered from 1, of the PDF at path.
type Rasterizer interface {
	Rasterize(ctx context.Context, path string, page, dpi int, mode Mode) (image.Image, error)
}

// TextExtractor returns the text layer of one page, numbered from 1.
type TextExtractor interface {
	ExtractText(ctx context.Context, path string, page int) (string, error)
}

// ToolMissingError reports that an external program could not be started.
type ToolMissingError struct {
	Tool string
	Path string
	Err  error
}

func (e *ToolMissingError) Error() string {
	return fmt.Sprintf("render: %s not runnable at %q: %v", e.Tool, e.Path, e.Err)
}

func (e *ToolMissingError) Unwrap() error { return e.Err }

// ToolFailedError reports a non-zero exit.
type ToolFailedError struct {
	Tool     string
	ExitCode int
	Stderr   string
}

func (e *ToolFailedError) Error() string {
	return fmt.Sprintf("render: %s exited with status %d: %s", e.Tool, e.ExitCode, strings.TrimSpace(e.Stderr))
}

// run executes path with args and returns stdout.
func run(ctx context.Context, tool, path string, args ...string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	if err == nil {
		return stdout.Bytes(), nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil, &ToolFailedError{Tool: tool, ExitCode: exitErr.ExitCode(), Stderr: stderr.String()}
	}
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
		return nil, &ToolMissingError{Tool: tool, Path: path, Err: err}
	}
	return nil, fmt.Errorf("render: %s: %w", tool, err)
}
