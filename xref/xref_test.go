package xref_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/overview/pdfocr/ir/raw"
	"github.com/overview/pdfocr/xref"
)

// plainDecode returns stream payloads unchanged; the fixtures below carry no
// filters.
func plainDecode(_ context.Context, st *raw.StreamObj) ([]byte, error) {
	return st.Data, nil
}

func newResolver(repair bool) xref.Resolver {
	return xref.NewResolver(xref.ResolverConfig{Repair: repair, Decode: plainDecode})
}

func buildSimplePDF() ([]byte, map[int]int64) {
	buf := &bytes.Buffer{}
	buf.WriteString("%PDF-1.7\n")

	offsets := make(map[int]int64)

	offsets[1] = int64(buf.Len())
	buf.WriteString("1 0 obj\n<< /Type /Catalog >>\nendobj\n")

	offsets[2] = int64(buf.Len())
	buf.WriteString("2 0 obj\n<< /Type /Pages /Count 0 >>\nendobj\n")

	xrefOffset := buf.Len()
	buf.WriteString("xref\n0 3\n")
	buf.WriteString("0000000000 65535 f \n")
	for i := 1; i <= 2; i++ {
		fmt.Fprintf(buf, "%010d 00000 n \n", offsets[i])
	}
	buf.WriteString("trailer\n<< /Size 3 /Root 1 0 R /Info 9 0 R >>\n")
	fmt.Fprintf(buf, "startxref\n%d\n%%%%EOF\n", xrefOffset)

	return buf.Bytes(), offsets
}

func TestResolverParsesXRefTable(t *testing.T) {
	pdf, offsets := buildSimplePDF()
	table, err := newResolver(false).Resolve(context.Background(), pdf)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if table.Kind != xref.KindTable {
		t.Fatalf("Kind = %s, want table", table.Kind)
	}
	for obj, off := range offsets {
		e, ok := table.Lookup(obj)
		if !ok {
			t.Fatalf("missing object %d", obj)
		}
		if e.Offset != off || e.Gen != 0 {
			t.Fatalf("object %d: expected (%d,0), got (%d,%d)", obj, off, e.Offset, e.Gen)
		}
	}
	if _, ok := table.Lookup(0); ok {
		t.Fatalf("free object 0 reported in use")
	}
	if table.Size() != 3 {
		t.Fatalf("Size() = %d, want 3", table.Size())
	}
}

func TestResolverFollowsPrevChain(t *testing.T) {
	pdf, _ := buildSimplePDF()
	buf := bytes.NewBuffer(append([]byte(nil), pdf...))
	prev, err := xref.FindStartXRef(pdf)
	if err != nil {
		t.Fatalf("FindStartXRef() error = %v", err)
	}

	// Revision 2 replaces object 2 and adds object 3.
	off2 := buf.Len()
	buf.WriteString("2 0 obj\n<< /Type /Pages /Count 0 /Rev 2 >>\nendobj\n")
	off3 := buf.Len()
	buf.WriteString("3 0 obj\n(new)\nendobj\n")
	xrefOff := buf.Len()
	fmt.Fprintf(buf, "xref\n2 2\n%010d 00000 n \n%010d 00000 n \n", off2, off3)
	fmt.Fprintf(buf, "trailer\n<< /Size 4 /Root 1 0 R /Prev %d >>\nstartxref\n%d\n%%%%EOF\n", prev, xrefOff)

	table, err := newResolver(false).Resolve(context.Background(), buf.Bytes())
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if e, _ := table.Lookup(2); e.Offset != int64(off2) {
		t.Fatalf("object 2 offset = %d, want newest %d", e.Offset, off2)
	}
	if _, ok := table.Lookup(1); !ok {
		t.Fatalf("object 1 from the older section missing")
	}
	if table.StartXRef != int64(xrefOff) {
		t.Fatalf("StartXRef = %d, want %d", table.StartXRef, xrefOff)
	}
	if _, ok := table.Trailer.Get("Info"); !ok {
		t.Fatalf("trailer /Info not inherited from the older section")
	}
	if got := table.Objects(); len(got) != 3 {
		t.Fatalf("Objects() = %v", got)
	}
}

func TestResolverStopsOnPrevLoop(t *testing.T) {
	buf := &bytes.Buffer{}
	buf.WriteString("%PDF-1.7\n")
	off1 := buf.Len()
	buf.WriteString("1 0 obj\n<< /Type /Catalog >>\nendobj\n")
	xrefOff := buf.Len()
	fmt.Fprintf(buf, "xref\n0 2\n0000000000 65535 f \n%010d 00000 n \n", off1)
	fmt.Fprintf(buf, "trailer\n<< /Size 2 /Root 1 0 R /Prev %d >>\nstartxref\n%d\n%%%%EOF\n", xrefOff, xrefOff)

	table, err := newResolver(false).Resolve(context.Background(), buf.Bytes())
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if _, ok := table.Lookup(1); !ok {
		t.Fatalf("object 1 missing")
	}
}

func buildXRefStreamEntries(size int, offsets map[int]int, objStreams map[int][2]int) []byte {
	entrySize := 6 // w: [1 4 1]
	total := make([]byte, entrySize*size)
	for obj, off := range offsets {
		idx := obj * entrySize
		total[idx] = 1
		total[idx+1] = byte(off >> 24)
		total[idx+2] = byte(off >> 16)
		total[idx+3] = byte(off >> 8)
		total[idx+4] = byte(off)
	}
	for obj, meta := range objStreams {
		idx := obj * entrySize
		total[idx] = 2
		total[idx+4] = byte(meta[0])
		total[idx+5] = byte(meta[1])
	}
	return total
}

func buildXRefStreamPDF() []byte {
	buf := &bytes.Buffer{}
	buf.WriteString("%PDF-1.7\n")

	off1 := buf.Len()
	buf.WriteString("1 0 obj\n<< /Type /Catalog >>\nendobj\n")
	off2 := buf.Len()
	buf.WriteString("2 0 obj\n<< /Type /Pages /Count 0 >>\nendobj\n")

	objStreamContent := "<< /Val 7 >> 5"
	header := fmt.Sprintf("4 0 5 %d ", len("<< /Val 7 >>")+1)
	decoded := []byte(header + objStreamContent)
	off3 := buf.Len()
	fmt.Fprintf(buf, "3 0 obj\n<< /Type /ObjStm /N 2 /First %d /Length %d >>\nstream\n", len(header), len(decoded))
	buf.Write(decoded)
	buf.WriteString("\nendstream\nendobj\n")

	xrefOffset := buf.Len()
	entries := buildXRefStreamEntries(7,
		map[int]int{1: off1, 2: off2, 3: off3, 6: xrefOffset},
		map[int][2]int{4: {3, 0}, 5: {3, 1}},
	)
	fmt.Fprintf(buf, "6 0 obj\n<< /Type /XRef /Size 7 /Root 1 0 R /W [1 4 1] /Index [0 7] /Length %d >>\nstream\n", len(entries))
	buf.Write(entries)
	buf.WriteString("\nendstream\nendobj\n")
	fmt.Fprintf(buf, "startxref\n%d\n%%%%EOF\n", xrefOffset)
	return buf.Bytes()
}

func TestResolverParsesXRefStream(t *testing.T) {
	table, err := newResolver(false).Resolve(context.Background(), buildXRefStreamPDF())
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if table.Kind != xref.KindStream {
		t.Fatalf("Kind = %s, want stream", table.Kind)
	}
	e, ok := table.Lookup(5)
	if !ok || e.Type != xref.EntryCompressed || e.Stream != 3 || e.Index != 1 {
		t.Fatalf("object 5 = %+v, want compressed in 3 at index 1", e)
	}
	if e, ok := table.Lookup(1); !ok || e.Offset == 0 {
		t.Fatalf("object 1 missing offset")
	}
	if _, ok := table.Trailer.Get("W"); !ok {
		t.Fatalf("trailer of a stream section should be the stream dictionary")
	}
}

func TestResolverParsesHybridFile(t *testing.T) {
	buf := &bytes.Buffer{}
	buf.WriteString("%PDF-1.7\n")
	off1 := buf.Len()
	buf.WriteString("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")
	off2 := buf.Len()
	buf.WriteString("2 0 obj\n<< /Type /Pages /Count 0 >>\nendobj\n")

	streamOff := buf.Len()
	entries := buildXRefStreamEntries(6, map[int]int{1: off1, 2: off2, 4: streamOff}, nil)
	fmt.Fprintf(buf, "4 0 obj\n<< /Type /XRef /Size 6 /Root 1 0 R /W [1 4 1] /Index [0 6] /Length %d >>\nstream\n", len(entries))
	buf.Write(entries)
	buf.WriteString("\nendstream\nendobj\n")
	fmt.Fprintf(buf, "startxref\n%d\n%%%%EOF\n", streamOff)

	obj5Off := buf.Len()
	buf.WriteString("5 0 obj\n<< /Producer (inc) >>\nendobj\n")
	tableOff := buf.Len()
	fmt.Fprintf(buf, "xref\n0 1\n0000000000 65535 f \n5 1\n%010d 00000 n \n", obj5Off)
	fmt.Fprintf(buf, "trailer\n<< /Size 6 /Root 1 0 R /Prev %d /XRefStm %d >>\nstartxref\n%d\n%%%%EOF\n", streamOff, streamOff, tableOff)

	table, err := newResolver(false).Resolve(context.Background(), buf.Bytes())
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if table.Kind != xref.KindTable {
		t.Fatalf("Kind = %s, want table", table.Kind)
	}
	if e, ok := table.Lookup(1); !ok || e.Offset != int64(off1) {
		t.Fatalf("object 1 = %+v, want offset %d", e, off1)
	}
	if e, ok := table.Lookup(5); !ok || e.Offset != int64(obj5Off) {
		t.Fatalf("object 5 = %+v, want offset %d", e, obj5Off)
	}
}

func TestDecodeStreamEntriesDefaultsType(t *testing.T) {
	dict := raw.Dict()
	dict.Set("W", raw.NewArray(raw.NumberInt(0), raw.NumberInt(2), raw.NumberInt(1)))
	dict.Set("Index", raw.NewArray(raw.NumberInt(10), raw.NumberInt(2)))
	data := []byte{0x01, 0x00, 0, 0x02, 0x00, 3}
	got, err := xref.DecodeStreamEntries(dict, data)
	if err != nil {
		t.Fatalf("DecodeStreamEntries() error = %v", err)
	}
	if got[10].Offset != 256 || got[11].Offset != 512 || got[11].Gen != 3 || got[10].Type != xref.EntryInUse {
		t.Fatalf("entries = %+v", got)
	}
}

func TestResolverWithoutStartXRef(t *testing.T) {
	_, err := newResolver(false).Resolve(context.Background(), []byte("%PDF-1.4\n1 0 obj\n<< >>\nendobj\n"))
	if !errors.Is(err, xref.ErrNoStartXRef) {
		t.Fatalf("Resolve() error = %v, want ErrNoStartXRef", err)
	}
}

func TestObjectStreamIndex(t *testing.T) {
	members, err := xref.ObjectStreamIndex([]byte("4 0 5 13 "), 2)
	if err != nil {
		t.Fatalf("ObjectStreamIndex() error = %v", err)
	}
	if len(members) != 2 || members[1].Num != 5 || members[1].Offset != 13 {
		t.Fatalf("members = %+v", members)
	}
	if _, err := xref.ObjectStreamIndex([]byte("4 0 5"), 2); err == nil {
		t.Fatalf("ObjectStreamIndex() accepted a truncated header")
	}
}
