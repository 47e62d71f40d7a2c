package xref

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"

	"github.com/overview/pdfocr/ir/raw"
	"github.com/overview/pdfocr/scanner"
)

var objectHeader = regexp.MustCompile(`(\d+)\s+(\d+)\s+obj\b`)

// repair rebuilds a table from the object headers found in data. Later
// definitions of an object win, like later incremental updates would.
func repair(ctx context.Context, data []byte, cfg ResolverConfig) (*Table, error) {
	t := &Table{entries: make(map[int]Entry), Kind: KindRepaired, StartXRef: -1}
	for _, m := range objectHeader.FindAllSubmatchIndex(data, -1) {
		if m[0] > 0 && isRegular(data[m[0]-1]) {
			continue
		}
		num, err1 := strconv.Atoi(string(data[m[2]:m[3]]))
		gen, err2 := strconv.Atoi(string(data[m[4]:m[5]]))
		if err1 != nil || err2 != nil {
			continue
		}
		t.entries[num] = Entry{Type: EntryInUse, Offset: int64(m[0]), Gen: gen}
	}
	if len(t.entries) == 0 {
		return nil, errors.New("no objects found")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s := scanner.New(data, cfg.Scanner)
	t.Trailer = lastTrailer(s, data)
	if t.Trailer == nil {
		t.Trailer = raw.Dict()
	}

	var catalog int
	for _, num := range t.Objects() {
		e := t.entries[num]
		_, obj, err := raw.ParseIndirect(s, e.Offset, directLength)
		if err != nil {
			continue
		}
		var dict *raw.DictObj
		switch o := obj.(type) {
		case *raw.DictObj:
			dict = o
		case *raw.StreamObj:
			dict = o.Dict
			if typ, _ := dict.Name("Type"); typ == "ObjStm" && cfg.Decode != nil {
				registerObjectStream(ctx, t, num, o, cfg.Decode)
			}
		}
		if typ, _ := dict.Name("Type"); typ == "Catalog" {
			catalog = num
		}
	}

	if _, ok := t.Trailer.Get("Root"); !ok {
		if catalog == 0 {
			return nil, ErrNoTrailer
		}
		t.Trailer.Set("Root", raw.Ref(catalog, t.entries[catalog].Gen))
	}
	t.Trailer.Set("Size", raw.NumberInt(int64(t.Size())))
	return t, nil
}

// lastTrailer returns the last parsable trailer dictionary in data.
func lastTrailer(s scanner.Scanner, data []byte) *raw.DictObj {
	end := len(data)
	for end > 0 {
		idx := bytes.LastIndex(data[:end], []byte("trailer"))
		if idx < 0 {
			return nil
		}
		end = idx
		if err := s.Seek(int64(idx + len("trailer"))); err != nil {
			continue
		}
		obj, err := raw.ParseObject(s)
		if err != nil {
			continue
		}
		if d, ok := obj.(*raw.DictObj); ok {
			return d
		}
	}
	return nil
}

// registerObjectStream adds the members of an object stream that have no
// direct definition of their own.
func registerObjectStream(ctx context.Context, t *Table, streamNum int, st *raw.StreamObj, decode StreamDecoder) {
	data, err := decode(ctx, st)
	if err != nil {
		return
	}
	n, _ := st.Dict.Int("N")
	members, err := ObjectStreamIndex(data, int(n))
	if err != nil {
		return
	}
	for i, m := range members {
		if _, ok := t.entries[m.Num]; ok {
			continue
		}
		t.entries[m.Num] = Entry{Type: EntryCompressed, Stream: streamNum, Index: i}
	}
}

// Member is one entry of an object stream header: an object number and its
// offset relative to /First.
type Member struct {
	Num    int
	Offset int64
}

// ObjectStreamIndex parses the n integer pairs at the start of a decoded
// object stream.
func ObjectStreamIndex(data []byte, n int) ([]Member, error) {
	if n < 0 {
		return nil, fmt.Errorf("invalid object stream count %d", n)
	}
	s := scanner.New(data, scanner.Config{})
	out := make([]Member, 0, n)
	for i := 0; i < n; i++ {
		numTok, err1 := s.Next()
		offTok, err2 := s.Next()
		if err := errors.Join(err1, err2); err != nil {
			return out, fmt.Errorf("object stream header truncated after %d entries: %w", i, err)
		}
		if numTok.Type != scanner.TokenNumber || offTok.Type != scanner.TokenNumber {
			return out, fmt.Errorf("object stream header entry %d is not numeric", i)
		}
		out = append(out, Member{Num: int(numTok.Int), Offset: offTok.Int})
	}
	return out, nil
}

func isRegular(c byte) bool {
	switch c {
	case ' ', '\t', '\r', '\n', '\f', 0, '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return false
	}
	return true
}
