// Package parser turns the bytes of a PDF file into a lazily loaded object
// graph: the merged cross-reference table, the trailer and an ObjectLoader.
package parser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/overview/pdfocr/filters"
	"github.com/overview/pdfocr/ir/raw"
	"github.com/overview/pdfocr/scanner"
	"github.com/overview/pdfocr/xref"
)

// Config controls high-level PDF parsing (xref resolution + object loading).
type Config struct {
	XRef        xref.ResolverConfig
	Limits      filters.Limits
	Scanner     scanner.Config
	MaxIndirect int
	Cache       Cache
}

// Document is a parsed file. Objects are loaded when first asked for.
type Document struct {
	Data      []byte
	XRef      *xref.Table
	Trailer   *raw.DictObj
	Version   string
	Loader    ObjectLoader
	Encrypted bool
}

// ErrNotPDF is returned when data does not start with a %PDF- header.
var ErrNotPDF = errors.New("missing %PDF- header")

type DocumentParser struct {
	cfg Config
}

func NewDocumentParser(cfg Config) *DocumentParser {
	if cfg.MaxIndirect == 0 {
		cfg.MaxIndirect = 32
	}
	return &DocumentParser{cfg: cfg}
}

func (p *DocumentParser) Parse(ctx context.Context, data []byte) (*Document, error) {
	version := detectHeaderVersion(data)
	if version == "" {
		return nil, ErrNotPDF
	}
	pipeline := filters.DefaultPipeline(p.cfg.Limits)

	xcfg := p.cfg.XRef
	xcfg.Scanner = p.cfg.Scanner
	if xcfg.Decode == nil {
		// Cross-reference and object streams carry direct filter entries.
		xcfg.Decode = func(ctx context.Context, st *raw.StreamObj) ([]byte, error) {
			names, params := filters.ExtractFilters(st.Dict, nil)
			if len(names) == 0 {
				return st.Data, nil
			}
			return pipeline.Decode(ctx, st.Data, names, params)
		}
	}
	table, err := xref.NewResolver(xcfg).Resolve(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("resolve xref: %w", err)
	}

	loader, err := (&ObjectLoaderBuilder{}).
		WithData(data).
		WithXRef(table).
		WithFilters(pipeline).
		WithMaxDepth(p.cfg.MaxIndirect).
		WithCache(p.cfg.Cache).
		WithScanner(p.cfg.Scanner).
		Build()
	if err != nil {
		return nil, err
	}

	_, encrypted := table.Trailer.Get("Encrypt")
	return &Document{
		Data:      data,
		XRef:      table,
		Trailer:   table.Trailer,
		Version:   version,
		Loader:    loader,
		Encrypted: encrypted,
	}, nil
}

// Catalog loads the document catalog named by the trailer's /Root.
func (d *Document) Catalog(ctx context.Context) (*raw.DictObj, error) {
	root, ok := d.Trailer.Get("Root")
	if !ok {
		return nil, errors.New("trailer has no /Root")
	}
	obj, err := d.Loader.Resolve(ctx, root)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	cat, ok := obj.(*raw.DictObj)
	if !ok {
		return nil, fmt.Errorf("catalog is %T, not a dictionary", obj)
	}
	return cat, nil
}

func detectHeaderVersion(data []byte) string {
	// Some producers put junk before the header; readers accept it within
	// the first kilobyte.
	head := data
	if len(head) > 1024 {
		head = head[:1024]
	}
	idx := bytes.Index(head, []byte("%PDF-"))
	if idx < 0 {
		return ""
	}
	line := string(head[idx+5:])
	if end := strings.IndexAny(line, "\r\n \t%"); end >= 0 {
		line = line[:end]
	}
	return strings.TrimSpace(line)
}
