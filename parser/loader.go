package parser

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/overview/pdfocr/filters"
	"github.com/overview/pdfocr/ir/raw"
	"github.com/overview/pdfocr/scanner"
	"github.com/overview/pdfocr/xref"
)

type Cache interface {
	Get(ref raw.ObjectRef) (raw.Object, bool)
	Put(ref raw.ObjectRef, obj raw.Object)
}

// NewMemoryCache returns an unbounded Cache. Cached objects are shared, so
// callers clone dictionaries before changing them.
func NewMemoryCache() Cache { return &memoryCache{m: make(map[raw.ObjectRef]raw.Object)} }

type memoryCache struct {
	m map[raw.ObjectRef]raw.Object
}

func (c *memoryCache) Get(ref raw.ObjectRef) (raw.Object, bool) {
	v, ok := c.m[ref]
	return v, ok
}

func (c *memoryCache) Put(ref raw.ObjectRef, obj raw.Object) { c.m[ref] = obj }

// ObjectLoader reads indirect objects on demand.
type ObjectLoader interface {
	Load(ctx context.Context, ref raw.ObjectRef) (raw.Object, error)
	// Resolve follows obj while it is a reference. Dangling references
	// resolve to null.
	Resolve(ctx context.Context, obj raw.Object) (raw.Object, error)
	// DecodeStream applies the stream's filters.
	DecodeStream(ctx context.Context, st *raw.StreamObj) ([]byte, error)
}

var ErrObjectNotFound = errors.New("object not found")

type ObjectLoaderBuilder struct {
	data      []byte
	xrefTable *xref.Table
	pipeline  *filters.Pipeline
	maxDepth  int
	cache     Cache
	scanCfg   scanner.Config
}

func (b *ObjectLoaderBuilder) WithXRef(table *xref.Table) *ObjectLoaderBuilder {
	b.xrefTable = table
	return b
}
func (b *ObjectLoaderBuilder) WithData(data []byte) *ObjectLoaderBuilder {
	b.data = data
	return b
}
func (b *ObjectLoaderBuilder) WithFilters(p *filters.Pipeline) *ObjectLoaderBuilder {
	b.pipeline = p
	return b
}
func (b *ObjectLoaderBuilder) WithMaxDepth(n int) *ObjectLoaderBuilder { b.maxDepth = n; return b }
func (b *ObjectLoaderBuilder) WithCache(c Cache) *ObjectLoaderBuilder  { b.cache = c; return b }
func (b *ObjectLoaderBuilder) WithScanner(cfg scanner.Config) *ObjectLoaderBuilder {
	b.scanCfg = cfg
	return b
}

func (b *ObjectLoaderBuilder) Build() (ObjectLoader, error) {
	if b.data == nil || b.xrefTable == nil {
		return nil, errors.New("data and xref table required")
	}
	p := b.pipeline
	if p == nil {
		p = filters.DefaultPipeline(filters.Limits{})
	}
	maxDepth := b.maxDepth
	if maxDepth <= 0 {
		maxDepth = 32
	}
	cache := b.cache
	if cache == nil {
		cache = NewMemoryCache()
	}
	return &objectLoader{
		data:      b.data,
		xrefTable: b.xrefTable,
		pipeline:  p,
		maxDepth:  maxDepth,
		cache:     cache,
		scanner:   scanner.New(b.data, b.scanCfg),
		objstm:    make(map[int]map[int]raw.Object),
		loading:   make(map[int]bool),
	}, nil
}

type objectLoader struct {
	data      []byte
	xrefTable *xref.Table
	pipeline  *filters.Pipeline
	maxDepth  int
	cache     Cache
	scanner   scanner.Scanner

	mu      sync.Mutex
	objstm  map[int]map[int]raw.Object
	loading map[int]bool
}

func (o *objectLoader) Load(ctx context.Context, ref raw.ObjectRef) (raw.Object, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.load(ctx, ref.Num)
}

// load assumes the caller holds the mutex.
func (o *objectLoader) load(ctx context.Context, num int) (raw.Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e, ok := o.xrefTable.Lookup(num)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrObjectNotFound, num)
	}
	ref := raw.ObjectRef{Num: num, Gen: e.Gen}
	if obj, ok := o.cache.Get(ref); ok {
		return obj, nil
	}
	if o.loading[num] {
		return nil, fmt.Errorf("object %d refers to itself while loading", num)
	}
	if len(o.loading) >= o.maxDepth {
		return nil, errors.New("max depth exceeded")
	}
	o.loading[num] = true
	defer delete(o.loading, num)

	var (
		obj raw.Object
		err error
	)
	if e.Type == xref.EntryCompressed {
		obj, err = o.loadFromObjectStream(ctx, num, e.Stream, e.Index)
	} else {
		obj, err = o.loadAtOffset(ctx, num, e.Offset)
	}
	if err != nil {
		return nil, err
	}
	o.cache.Put(ref, obj)
	return obj, nil
}

func (o *objectLoader) loadAtOffset(ctx context.Context, num int, offset int64) (raw.Object, error) {
	got, obj, err := raw.ParseIndirect(o.scanner, offset, func(d *raw.DictObj) int64 {
		return o.streamLength(ctx, d)
	})
	if err != nil {
		return nil, fmt.Errorf("object %d: %w", num, err)
	}
	if got.Num != num {
		return nil, fmt.Errorf("object %d: header names object %d", num, got.Num)
	}
	return obj, nil
}

// streamLength resolves /Length, which may itself be an indirect object.
// -1 lets the scanner search for endstream.
func (o *objectLoader) streamLength(ctx context.Context, d *raw.DictObj) int64 {
	v, ok := d.Get("Length")
	if !ok {
		return -1
	}
	if ref, ok := v.(raw.RefObj); ok {
		pos := o.scanner.Position()
		resolved, err := o.load(ctx, ref.R.Num)
		// Loading moved the shared scanner.
		_ = o.scanner.Seek(pos)
		if err != nil {
			return -1
		}
		v = resolved
	}
	if n, ok := v.(raw.NumberObj); ok && n.Int() >= 0 {
		return n.Int()
	}
	return -1
}

func (o *objectLoader) loadFromObjectStream(ctx context.Context, num, streamNum, idx int) (raw.Object, error) {
	objs, ok := o.objstm[streamNum]
	if !ok {
		var err error
		objs, err = o.readObjectStream(ctx, streamNum)
		if err != nil {
			return nil, fmt.Errorf("object stream %d: %w", streamNum, err)
		}
		o.objstm[streamNum] = objs
	}
	if obj, ok := objs[num]; ok {
		return obj, nil
	}
	return nil, fmt.Errorf("%w: %d in object stream %d at index %d", ErrObjectNotFound, num, streamNum, idx)
}

func (o *objectLoader) readObjectStream(ctx context.Context, streamNum int) (map[int]raw.Object, error) {
	obj, err := o.load(ctx, streamNum)
	if err != nil {
		return nil, err
	}
	st, ok := obj.(*raw.StreamObj)
	if !ok {
		return nil, errors.New("not a stream")
	}
	data, err := o.decode(ctx, st)
	if err != nil {
		return nil, err
	}
	n, _ := st.Dict.Int("N")
	first, _ := st.Dict.Int("First")
	if first < 0 || first > int64(len(data)) {
		return nil, errors.New("/First exceeds the stream length")
	}
	members, err := xref.ObjectStreamIndex(data[:first], int(n))
	if err != nil {
		return nil, err
	}
	body := data[first:]
	s := scanner.New(body, scanner.Config{})
	objs := make(map[int]raw.Object, len(members))
	for _, m := range members {
		if m.Offset < 0 || m.Offset > int64(len(body)) {
			continue
		}
		if err := s.Seek(m.Offset); err != nil {
			continue
		}
		member, err := raw.ParseObject(s)
		if err != nil {
			return nil, fmt.Errorf("member %d: %w", m.Num, err)
		}
		objs[m.Num] = member
	}
	return objs, nil
}

func (o *objectLoader) Resolve(ctx context.Context, obj raw.Object) (raw.Object, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.resolve(ctx, obj)
}

func (o *objectLoader) resolve(ctx context.Context, obj raw.Object) (raw.Object, error) {
	for depth := 0; ; depth++ {
		ref, ok := obj.(raw.RefObj)
		if !ok {
			return obj, nil
		}
		if depth >= o.maxDepth {
			return nil, errors.New("reference chain too long")
		}
		next, err := o.load(ctx, ref.R.Num)
		if errors.Is(err, ErrObjectNotFound) {
			return raw.NullObj{}, nil
		}
		if err != nil {
			return nil, err
		}
		obj = next
	}
}

func (o *objectLoader) DecodeStream(ctx context.Context, st *raw.StreamObj) ([]byte, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.decode(ctx, st)
}

func (o *objectLoader) decode(ctx context.Context, st *raw.StreamObj) ([]byte, error) {
	names, params := filters.ExtractFilters(st.Dict, func(obj raw.Object) raw.Object {
		r, err := o.resolve(ctx, obj)
		if err != nil {
			return raw.NullObj{}
		}
		return r
	})
	if len(names) == 0 {
		return st.Data, nil
	}
	return o.pipeline.Decode(ctx, st.Data, names, params)
}
