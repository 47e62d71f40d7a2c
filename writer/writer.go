// Package writer serializes raw objects and appends incremental updates to
// existing PDF files, leaving the original bytes untouched.
package writer

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/google/uuid"

	"github.com/overview/pdfocr/filters"
	"github.com/overview/pdfocr/ir/raw"
	"github.com/overview/pdfocr/xref"
)

type Config struct {
	// XRefStream writes the cross-reference section as a compressed stream
	// instead of a classic table.
	XRefStream bool
	// Deterministic derives the file identifier from the content instead of
	// drawing a random one.
	Deterministic bool
}

// Update collects the objects of one revision.
type Update struct {
	objects map[raw.ObjectRef]raw.Object
	next    int
}

// NewUpdate starts a revision whose new objects are numbered from size, the
// /Size of the file being updated.
func NewUpdate(size int) *Update {
	if size < 1 {
		size = 1
	}
	return &Update{objects: make(map[raw.ObjectRef]raw.Object), next: size}
}

// Add stores obj under a new object number.
func (u *Update) Add(obj raw.Object) raw.ObjectRef {
	ref := u.Reserve()
	u.objects[ref] = obj
	return ref
}

// Reserve allocates an object number to be filled by Set.
func (u *Update) Reserve() raw.ObjectRef {
	ref := raw.ObjectRef{Num: u.next}
	u.next++
	return ref
}

// Set stores obj under ref, replacing any earlier revision of the object.
func (u *Update) Set(ref raw.ObjectRef, obj raw.Object) {
	u.objects[ref] = obj
	if ref.Num >= u.next {
		u.next = ref.Num + 1
	}
}

func (u *Update) Get(ref raw.ObjectRef) (raw.Object, bool) {
	o, ok := u.objects[ref]
	return o, ok
}

// Size is the /Size of the file after the update.
func (u *Update) Size() int { return u.next }

func (u *Update) Len() int { return len(u.objects) }

// Previous describes the revision an update is appended to.
type Previous struct {
	// StartXRef is the offset of the newest cross-reference section, or -1
	// when the table was rebuilt by scanning and cannot be chained.
	StartXRef int64
	Trailer   *raw.DictObj
	// Table is required when StartXRef is -1: the new section then lists
	// every object of the file.
	Table *xref.Table
}

type Writer struct {
	cfg Config
}

func New(cfg Config) *Writer { return &Writer{cfg: cfg} }

var ErrEmptyUpdate = errors.New("update has no objects")

const binaryComment = "%\xE2\xE3\xCF\xD3\n"

// Write serializes a complete file from u. trailer supplies /Root and /Info.
func (w *Writer) Write(out io.Writer, version string, u *Update, trailer *raw.DictObj) (int64, error) {
	if u.Len() == 0 {
		return 0, ErrEmptyUpdate
	}
	header := []byte("%PDF-" + version + "\n" + binaryComment)
	var buf bytes.Buffer
	buf.Write(header)
	if err := w.appendSection(&buf, 0, u, Previous{StartXRef: -1, Trailer: trailer}); err != nil {
		return 0, err
	}
	n, err := out.Write(buf.Bytes())
	return int64(n), err
}

// WriteIncremental writes base followed by a revision holding u.
func (w *Writer) WriteIncremental(out io.Writer, base []byte, prev Previous, u *Update) (int64, error) {
	if u.Len() == 0 {
		return 0, ErrEmptyUpdate
	}
	var buf bytes.Buffer
	if len(base) > 0 && base[len(base)-1] != '\n' && base[len(base)-1] != '\r' {
		buf.WriteByte('\n')
	}
	if err := w.appendSection(&buf, int64(len(base)), u, prev); err != nil {
		return 0, err
	}
	n1, err := out.Write(base)
	if err != nil {
		return int64(n1), err
	}
	n2, err := out.Write(buf.Bytes())
	return int64(n1 + n2), err
}

type entry struct {
	typ    int
	field2 int64
	gen    int
}

func (w *Writer) appendSection(buf *bytes.Buffer, base int64, u *Update, prev Previous) error {
	entries := make(map[int]entry)
	if prev.StartXRef < 0 && prev.Table != nil {
		for _, num := range prev.Table.Objects() {
			e, _ := prev.Table.Lookup(num)
			switch e.Type {
			case xref.EntryInUse:
				entries[num] = entry{typ: 1, field2: e.Offset, gen: e.Gen}
			case xref.EntryCompressed:
				entries[num] = entry{typ: 2, field2: int64(e.Stream), gen: e.Index}
			}
		}
	}

	refs := make([]raw.ObjectRef, 0, len(u.objects))
	for ref := range u.objects {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Num < refs[j].Num })
	for _, ref := range refs {
		entries[ref.Num] = entry{typ: 1, field2: base + int64(buf.Len()), gen: ref.Gen}
		buf.Write(SerializeObject(ref, u.objects[ref]))
	}

	trailer := w.trailer(u, prev, buf.Bytes())
	useStream := w.cfg.XRefStream
	for _, e := range entries {
		if e.typ == 2 {
			useStream = true
			break
		}
	}
	if useStream {
		return w.appendXRefStream(buf, base, u, entries, trailer)
	}

	xrefOff := base + int64(buf.Len())
	buf.WriteString("xref\n")
	entries[0] = entry{typ: 0, gen: 65535}
	for _, seg := range segments(entries) {
		fmt.Fprintf(buf, "%d %d\n", seg[0], seg[1])
		for num := seg[0]; num < seg[0]+seg[1]; num++ {
			e := entries[num]
			kind := byte('n')
			if e.typ == 0 {
				kind = 'f'
			}
			fmt.Fprintf(buf, "%010d %05d %c \n", e.field2, e.gen, kind)
		}
	}
	buf.WriteString("trailer\n")
	buf.Write(SerializePrimitive(trailer))
	fmt.Fprintf(buf, "\nstartxref\n%d\n%%%%EOF\n", xrefOff)
	return nil
}

func (w *Writer) appendXRefStream(buf *bytes.Buffer, base int64, u *Update, entries map[int]entry, trailer *raw.DictObj) error {
	self := u.Reserve()
	xrefOff := base + int64(buf.Len())
	entries[self.Num] = entry{typ: 1, field2: xrefOff}
	entries[0] = entry{typ: 0, gen: 65535}
	trailer.Set("Size", raw.NumberInt(int64(u.Size())))

	var maxField2 int64
	maxGen := 0
	for _, e := range entries {
		if e.field2 > maxField2 {
			maxField2 = e.field2
		}
		if e.gen > maxGen {
			maxGen = e.gen
		}
	}
	w2, w3 := byteWidth(maxField2), byteWidth(int64(maxGen))

	index := raw.NewArray()
	var rows []byte
	for _, seg := range segments(entries) {
		index.Append(raw.NumberInt(int64(seg[0])))
		index.Append(raw.NumberInt(int64(seg[1])))
		for num := seg[0]; num < seg[0]+seg[1]; num++ {
			e := entries[num]
			rows = append(rows, byte(e.typ))
			rows = appendBigEndian(rows, e.field2, w2)
			rows = appendBigEndian(rows, int64(e.gen), w3)
		}
	}
	data, err := filters.FlateEncode(rows)
	if err != nil {
		return fmt.Errorf("compress xref stream: %w", err)
	}
	dict := trailer
	dict.Set("Type", raw.NameLiteral("XRef"))
	dict.Set("W", raw.NewArray(raw.NumberInt(1), raw.NumberInt(int64(w2)), raw.NumberInt(int64(w3))))
	dict.Set("Index", index)
	dict.Set("Filter", raw.NameLiteral("FlateDecode"))
	buf.Write(SerializeObject(self, raw.NewStream(dict, data)))
	fmt.Fprintf(buf, "startxref\n%d\n%%%%EOF\n", xrefOff)
	return nil
}

// trailer carries /Root, /Info, /Encrypt and the first file identifier over
// from the previous revision and chains it through /Prev.
func (w *Writer) trailer(u *Update, prev Previous, body []byte) *raw.DictObj {
	t := raw.Dict()
	t.Set("Size", raw.NumberInt(int64(u.Size())))
	for _, k := range []string{"Root", "Info", "Encrypt"} {
		if v, ok := prev.Trailer.Get(k); ok {
			t.Set(k, v)
		}
	}
	if prev.StartXRef >= 0 {
		t.Set("Prev", raw.NumberInt(prev.StartXRef))
	}

	fresh := w.fileID(body)
	first := fresh
	if idObj, ok := prev.Trailer.Get("ID"); ok {
		if arr, ok := idObj.(*raw.ArrayObj); ok && arr.Len() == 2 {
			if s, ok := arr.Items[0].(raw.StringObj); ok && len(s.Bytes) > 0 {
				first = s.Bytes
			}
		}
	}
	t.Set("ID", raw.NewArray(raw.HexStr(first), raw.HexStr(fresh)))
	return t
}

func (w *Writer) fileID(body []byte) []byte {
	var id uuid.UUID
	if w.cfg.Deterministic {
		sum := sha256.Sum256(body)
		id = uuid.NewSHA1(uuid.NameSpaceOID, sum[:])
	} else {
		id = uuid.New()
	}
	return id[:]
}

// segments groups object numbers into contiguous [first count] runs.
func segments(entries map[int]entry) [][2]int {
	nums := make([]int, 0, len(entries))
	for n := range entries {
		nums = append(nums, n)
	}
	sort.Ints(nums)
	var out [][2]int
	for _, n := range nums {
		if len(out) > 0 {
			last := &out[len(out)-1]
			if last[0]+last[1] == n {
				last[1]++
				continue
			}
		}
		out = append(out, [2]int{n, 1})
	}
	return out
}

func byteWidth(v int64) int {
	n := 1
	for v > 0xff {
		v >>= 8
		n++
	}
	return n
}

func appendBigEndian(b []byte, v int64, width int) []byte {
	for i := width - 1; i >= 0; i-- {
		b = append(b, byte(v>>(8*i)))
	}
	return b
}
