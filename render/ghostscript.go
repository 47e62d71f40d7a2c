package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"strconv"

	"github.com/overview/pdfocr/observability"
)

// DefaultGhostscript is looked up on PATH when no path is configured.
const DefaultGhostscript = "gs"

// Ghostscript rasterizes pages to 24-bit RGB through the png16m device. Pixels
// cover the crop box.
type Ghostscript struct {
	path   string
	logger observability.Logger
}

func NewGhostscript(path string, logger observability.Logger) *Ghostscript {
	if path == "" {
		path = DefaultGhostscript
	}
	return &Ghostscript{path: path, logger: observability.OrNop(logger)}
}

// Args returns the command line for rendering page at dpi.
func (g *Ghostscript) Args(path string, page, dpi int, mode Mode) []string {
	p := strconv.Itoa(page)
	args := []string{
		"-q", "-dNOPAUSE", "-dBATCH", "-dSAFER",
		"-sstdout=%stderr",
		"-sDEVICE=png16m",
		"-r" + strconv.Itoa(dpi),
		"-dFirstPage=" + p, "-dLastPage=" + p,
		"-dUseCropBox",
		"-dTextAlphaBits=4", "-dGraphicsAlphaBits=4",
	}
	if mode == WithoutText {
		args = append(args, "-dFILTERTEXT")
	}
	return append(args, "-sOutputFile=-", path)
}

func (g *Ghostscript) Rasterize(ctx context.Context, path string, page, dpi int, mode Mode) (image.Image, error) {
	if page < 1 || dpi < 1 {
		return nil, fmt.Errorf("render: invalid page %d or dpi %d", page, dpi)
	}
	out, err := run(ctx, "ghostscript", g.path, g.Args(path, page, dpi, mode)...)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, errors.New("render: ghostscript produced no image")
	}
	img, err := png.Decode(bytes.NewReader(out))
	if err != nil {
		return nil, fmt.Errorf("render: decode ghostscript output: %w", err)
	}
	b := img.Bounds()
	g.logger.Debug("page rasterized",
		observability.Int("page", page),
		observability.Int("dpi", dpi),
		observability.String("mode", mode.String()),
		observability.Int("width", b.Dx()),
		observability.Int("height", b.Dy()),
	)
	return img, nil
}
