// Package xref locates the cross-reference data of a PDF file: classic
// tables, cross-reference streams, hybrid files and /Prev chains of
// incremental updates. When that data is unusable the table can be rebuilt by
// scanning for object headers.
package xref

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/overview/pdfocr/ir/raw"
	"github.com/overview/pdfocr/scanner"
)

type EntryType int

const (
	EntryFree EntryType = iota
	EntryInUse
	EntryCompressed
)

// Entry locates one object. In-use entries carry a byte offset; compressed
// entries name the object stream and the index within it.
type Entry struct {
	Type   EntryType
	Offset int64
	Gen    int
	Stream int
	Index  int
}

// Kind describes how the newest cross-reference section was stored.
type Kind string

const (
	KindTable    Kind = "table"
	KindStream   Kind = "stream"
	KindRepaired Kind = "repaired"
)

// Table is the merged view of every cross-reference section in a file.
type Table struct {
	entries map[int]Entry
	// Trailer is the newest trailer, completed with keys only older trailers
	// carry.
	Trailer *raw.DictObj
	// Kind is the storage of the newest section. Incremental updates should
	// use the same kind.
	Kind Kind
	// StartXRef is the offset of the newest section; updates link to it via
	// /Prev.
	StartXRef int64
}

func (t *Table) Lookup(objNum int) (Entry, bool) {
	e, ok := t.entries[objNum]
	if !ok || e.Type == EntryFree {
		return Entry{}, false
	}
	return e, true
}

// Objects returns the numbers of all objects in use, sorted.
func (t *Table) Objects() []int {
	out := make([]int, 0, len(t.entries))
	for k, e := range t.entries {
		if e.Type != EntryFree {
			out = append(out, k)
		}
	}
	sort.Ints(out)
	return out
}

// Size is one more than the highest object number the file defines.
func (t *Table) Size() int {
	size := 0
	if t.Trailer != nil {
		if n, ok := t.Trailer.Int("Size"); ok {
			size = int(n)
		}
	}
	for k := range t.entries {
		if k+1 > size {
			size = k + 1
		}
	}
	return size
}

// StreamDecoder returns the decoded payload of a stream.
type StreamDecoder func(ctx context.Context, st *raw.StreamObj) ([]byte, error)

type Resolver interface {
	Resolve(ctx context.Context, data []byte) (*Table, error)
}

type ResolverConfig struct {
	// MaxXRefDepth bounds the number of sections followed through /Prev.
	MaxXRefDepth int
	// Repair rebuilds the table by scanning when the sections are unusable.
	Repair bool
	// Decode decodes cross-reference and object streams.
	Decode  StreamDecoder
	Scanner scanner.Config
}

var (
	ErrNoStartXRef = errors.New("startxref not found")
	ErrNoTrailer   = errors.New("trailer has no /Root")
)

func NewResolver(cfg ResolverConfig) Resolver {
	if cfg.MaxXRefDepth <= 0 {
		cfg.MaxXRefDepth = 64
	}
	return &resolver{cfg: cfg}
}

type resolver struct {
	cfg ResolverConfig
}

func (r *resolver) Resolve(ctx context.Context, data []byte) (*Table, error) {
	t, err := r.resolveSections(ctx, data)
	if err == nil {
		return t, nil
	}
	if !r.cfg.Repair || ctx.Err() != nil {
		return nil, err
	}
	repaired, rerr := repair(ctx, data, r.cfg)
	if rerr != nil {
		return nil, fmt.Errorf("%w (repair: %v)", err, rerr)
	}
	return repaired, nil
}

func (r *resolver) resolveSections(ctx context.Context, data []byte) (*Table, error) {
	start, err := FindStartXRef(data)
	if err != nil {
		return nil, err
	}
	t := &Table{entries: make(map[int]Entry), StartXRef: start}
	s := scanner.New(data, r.cfg.Scanner)
	visited := make(map[int64]bool)
	queue := []int64{start}
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		off := queue[0]
		queue = queue[1:]
		if visited[off] {
			continue
		}
		if len(visited) >= r.cfg.MaxXRefDepth {
			return nil, errors.New("too many cross-reference sections")
		}
		visited[off] = true
		if off < 0 || off >= int64(len(data)) {
			return nil, fmt.Errorf("xref offset %d out of range", off)
		}

		var (
			entries map[int]Entry
			trailer *raw.DictObj
			kind    Kind
		)
		if isTableAt(data, off) {
			entries, trailer, err = parseTableSection(s, off)
			kind = KindTable
		} else {
			entries, trailer, err = r.parseStreamSection(ctx, s, off)
			kind = KindStream
		}
		if err != nil {
			return nil, fmt.Errorf("xref section at %d: %w", off, err)
		}
		if t.Kind == "" {
			t.Kind = kind
		}
		// Sections are visited newest first, so existing entries win.
		for num, e := range entries {
			if _, ok := t.entries[num]; !ok {
				t.entries[num] = e
			}
		}
		t.Trailer = mergeTrailer(t.Trailer, trailer)

		// A hybrid file's XRefStm is consulted before its /Prev.
		if stm, ok := trailer.Int("XRefStm"); ok && kind == KindTable {
			queue = append([]int64{stm}, queue...)
		}
		if prev, ok := trailer.Int("Prev"); ok {
			queue = append(queue, prev)
		}
	}
	if _, ok := t.Trailer.Get("Root"); !ok {
		return nil, ErrNoTrailer
	}
	return t, nil
}

// FindStartXRef returns the offset named by the last startxref keyword.
func FindStartXRef(data []byte) (int64, error) {
	idx := bytes.LastIndex(data, []byte("startxref"))
	if idx < 0 {
		return 0, ErrNoStartXRef
	}
	rest := bytes.TrimLeft(data[idx+len("startxref"):], " \t\r\n\f\x00")
	end := 0
	for end < len(rest) && rest[end] >= '0' && rest[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, fmt.Errorf("%w: no offset after keyword", ErrNoStartXRef)
	}
	off, err := strconv.ParseInt(string(rest[:end]), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse startxref: %w", err)
	}
	return off, nil
}

func isTableAt(data []byte, off int64) bool {
	rest := bytes.TrimLeft(data[off:], " \t\r\n\f\x00")
	return bytes.HasPrefix(rest, []byte("xref"))
}

// parseTableSection reads "xref" subsections up to and including the
// trailer dictionary.
func parseTableSection(s scanner.Scanner, off int64) (map[int]Entry, *raw.DictObj, error) {
	if err := s.Seek(off); err != nil {
		return nil, nil, err
	}
	if tok, err := s.Next(); err != nil || tok.Str != "xref" {
		return nil, nil, errors.New("xref keyword not found at offset")
	}
	entries := make(map[int]Entry)
	for {
		tok, err := s.Next()
		if err != nil {
			return nil, nil, fmt.Errorf("unexpected end of xref section: %w", err)
		}
		if tok.Type == scanner.TokenKeyword && tok.Str == "trailer" {
			obj, err := raw.ParseObject(s)
			if err != nil {
				return nil, nil, fmt.Errorf("trailer: %w", err)
			}
			trailer, ok := obj.(*raw.DictObj)
			if !ok {
				return nil, nil, errors.New("trailer is not a dictionary")
			}
			return entries, trailer, nil
		}
		countTok, err := s.Next()
		if err != nil {
			return nil, nil, err
		}
		if tok.Type != scanner.TokenNumber || !tok.IsInt || countTok.Type != scanner.TokenNumber || !countTok.IsInt {
			return nil, nil, fmt.Errorf("invalid xref subsection header %v %v", tok, countTok)
		}
		first, count := int(tok.Int), int(countTok.Int)
		for i := 0; i < count; i++ {
			offTok, err1 := s.Next()
			genTok, err2 := s.Next()
			typeTok, err3 := s.Next()
			if err := errors.Join(err1, err2, err3); err != nil {
				return nil, nil, fmt.Errorf("truncated xref entry: %w", err)
			}
			if offTok.Type != scanner.TokenNumber || genTok.Type != scanner.TokenNumber || typeTok.Type != scanner.TokenKeyword {
				return nil, nil, fmt.Errorf("invalid xref entry %v %v %v", offTok, genTok, typeTok)
			}
			e := Entry{Type: EntryFree, Gen: int(genTok.Int)}
			if typeTok.Str == "n" {
				e.Type = EntryInUse
				e.Offset = offTok.Int
			}
			if _, dup := entries[first+i]; !dup {
				entries[first+i] = e
			}
		}
	}
}

func (r *resolver) parseStreamSection(ctx context.Context, s scanner.Scanner, off int64) (map[int]Entry, *raw.DictObj, error) {
	_, obj, err := raw.ParseIndirect(s, off, directLength)
	if err != nil {
		return nil, nil, err
	}
	st, ok := obj.(*raw.StreamObj)
	if !ok {
		return nil, nil, errors.New("cross-reference stream expected")
	}
	if typ, _ := st.Dict.Name("Type"); typ != "XRef" {
		return nil, nil, fmt.Errorf("stream type %q is not XRef", typ)
	}
	if r.cfg.Decode == nil {
		return nil, nil, errors.New("no decoder for cross-reference streams")
	}
	data, err := r.cfg.Decode(ctx, st)
	if err != nil {
		return nil, nil, fmt.Errorf("decode xref stream: %w", err)
	}
	entries, err := DecodeStreamEntries(st.Dict, data)
	if err != nil {
		return nil, nil, err
	}
	return entries, st.Dict, nil
}

// DecodeStreamEntries interprets the decoded rows of a cross-reference
// stream according to its /W and /Index arrays.
func DecodeStreamEntries(dict *raw.DictObj, data []byte) (map[int]Entry, error) {
	wObj, _ := dict.Get("W")
	wArr, ok := wObj.(*raw.ArrayObj)
	if !ok || wArr.Len() != 3 {
		return nil, errors.New("xref stream /W must have three entries")
	}
	var w [3]int
	for i := range w {
		v, ok := raw.NumberValue(wArr.Items[i])
		if !ok || v < 0 || v > 8 {
			return nil, errors.New("invalid /W entry")
		}
		w[i] = int(v)
	}
	rowLen := w[0] + w[1] + w[2]
	if rowLen == 0 {
		return nil, errors.New("empty /W")
	}

	var index []int
	if idxObj, ok := dict.Get("Index"); ok {
		arr, ok := idxObj.(*raw.ArrayObj)
		if !ok || arr.Len()%2 != 0 {
			return nil, errors.New("invalid /Index")
		}
		for _, item := range arr.Items {
			v, _ := raw.NumberValue(item)
			index = append(index, int(v))
		}
	} else {
		size, _ := dict.Int("Size")
		index = []int{0, int(size)}
	}

	entries := make(map[int]Entry)
	pos := 0
	for i := 0; i < len(index); i += 2 {
		first, count := index[i], index[i+1]
		for j := 0; j < count; j++ {
			if pos+rowLen > len(data) {
				return entries, nil
			}
			row := data[pos : pos+rowLen]
			pos += rowLen
			typ := int64(1)
			if w[0] > 0 {
				typ = field(row[:w[0]])
			}
			f2 := field(row[w[0] : w[0]+w[1]])
			f3 := field(row[w[0]+w[1]:])
			var e Entry
			switch typ {
			case 0:
				e = Entry{Type: EntryFree, Gen: int(f3)}
			case 1:
				e = Entry{Type: EntryInUse, Offset: f2, Gen: int(f3)}
			case 2:
				e = Entry{Type: EntryCompressed, Stream: int(f2), Index: int(f3)}
			default:
				continue
			}
			entries[first+j] = e
		}
	}
	return entries, nil
}

func field(b []byte) int64 {
	var v int64
	for _, c := range b {
		v = v<<8 | int64(c)
	}
	return v
}

func directLength(d *raw.DictObj) int64 {
	if n, ok := d.Int("Length"); ok {
		return n
	}
	return -1
}

func mergeTrailer(newer, older *raw.DictObj) *raw.DictObj {
	if newer == nil {
		out := older.Clone()
		for _, k := range []string{"Prev", "XRefStm", "W", "Index", "Filter", "DecodeParms", "Length", "Type"} {
			out.Delete(k)
		}
		return out
	}
	for _, k := range []string{"Root", "Info", "ID", "Encrypt"} {
		if _, ok := newer.Get(k); ok {
			continue
		}
		if v, ok := older.Get(k); ok {
			newer.Set(k, v)
		}
	}
	return newer
}
