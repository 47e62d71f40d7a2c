package render

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// DefaultPdftotext is looked up on PATH when no path is configured.
const DefaultPdftotext = "pdftotext"

// Pdftotext extracts page text with Poppler's pdftotext.
type Pdftotext struct {
	path string
}

func NewPdftotext(path string) *Pdftotext {
	if path == "" {
		path = DefaultPdftotext
	}
	return &Pdftotext{path: path}
}

func (p *Pdftotext) Args(path string, page int) []string {
	n := strconv.Itoa(page)
	return []string{"-f", n, "-l", n, "-enc", "UTF-8", path, "-"}
}

func (p *Pdftotext) ExtractText(ctx context.Context, path string, page int) (string, error) {
	if page < 1 {
		return "", fmt.Errorf("render: invalid page %d", page)
	}
	out, err := run(ctx, "pdftotext", p.path, p.Args(path, page)...)
	if err != nil {
		return "", err
	}
	// Pages are separated by form feeds.
	return strings.ToValidUTF8(strings.TrimRight(string(out), "\f"), "�"), nil
}
