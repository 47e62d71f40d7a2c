package fonts

import (
	"context"
	"strings"
	"testing"

	"github.com/overview/pdfocr/filters"
	"github.com/overview/pdfocr/ir/raw"
	"github.com/overview/pdfocr/writer"
)

func mustDict(t *testing.T, u *writer.Update, o raw.Object) *raw.DictObj {
	t.Helper()
	ref, ok := o.(raw.RefObj)
	if !ok {
		t.Fatalf("expected a reference, got %T", o)
	}
	got, ok := u.Get(ref.Ref())
	if !ok {
		t.Fatalf("object %v not in update", ref.Ref())
	}
	switch v := got.(type) {
	case *raw.DictObj:
		return v
	case *raw.StreamObj:
		return v.Dict
	}
	t.Fatalf("object %v is %T", ref.Ref(), got)
	return nil
}

func TestWriteObjects(t *testing.T) {
	f, err := Default()
	if err != nil {
		t.Fatalf("Default() error = %v", err)
	}
	f.Encode("Hi")
	u := writer.NewUpdate(10)
	ref := u.Reserve()
	if err := f.WriteObjects(u, ref); err != nil {
		t.Fatalf("WriteObjects() error = %v", err)
	}
	if u.Len() != 5 {
		t.Fatalf("Len() = %d, want 5 objects", u.Len())
	}
	obj, ok := u.Get(ref)
	if !ok {
		t.Fatalf("Type0 font not stored at %v", ref)
	}
	top := obj.(*raw.DictObj)
	if enc, _ := top.Name("Encoding"); enc != "Identity-H" {
		t.Fatalf("Encoding = %q", enc)
	}
	base, _ := top.Name("BaseFont")
	if len(base) < 8 || base[6] != '+' || strings.Contains(base, " ") {
		t.Fatalf("BaseFont = %q", base)
	}

	descendants, _ := top.Get("DescendantFonts")
	first, _ := descendants.(*raw.ArrayObj).Get(0)
	cid := mustDict(t, u, first)
	if st, _ := cid.Name("Subtype"); st != "CIDFontType2" {
		t.Fatalf("Subtype = %q", st)
	}
	if m, _ := cid.Name("CIDToGIDMap"); m != "Identity" {
		t.Fatalf("CIDToGIDMap = %q", m)
	}
	fdRef, _ := cid.Get("FontDescriptor")
	fd := mustDict(t, u, fdRef)
	fileRef, _ := fd.Get("FontFile2")
	file := mustDict(t, u, fileRef)
	if n, _ := file.Int("Length1"); n <= 0 {
		t.Fatalf("Length1 = %d", n)
	}

	tuRef, _ := top.Get("ToUnicode")
	st, _ := u.Get(tuRef.(raw.RefObj).Ref())
	cmap, err := filters.NewFlateDecoder(1<<20).Decode(context.Background(), st.(*raw.StreamObj).Data, nil)
	if err != nil {
		t.Fatalf("decode ToUnicode: %v", err)
	}
	if !strings.Contains(string(cmap), "<0048>") || !strings.Contains(string(cmap), "<0069>") {
		t.Fatalf("ToUnicode lacks H or i:\n%s", cmap)
	}
}

func TestWidthArray(t *testing.T) {
	arr := WidthArray([]uint16{3, 4, 5, 9}, map[uint16]int{3: 500, 4: 510, 5: 520, 9: 600})
	got := string(writer.SerializePrimitive(arr))
	if got != "[3 [500 510 520] 9 [600]]" {
		t.Fatalf("WidthArray() = %s", got)
	}
	if WidthArray(nil, nil).Len() != 0 {
		t.Fatalf("WidthArray(nil) not empty")
	}
}

func TestToUnicodeCMapChunks(t *testing.T) {
	gids := make([]uint16, 150)
	runes := make(map[uint16]rune)
	for i := range gids {
		gids[i] = uint16(i + 1)
		runes[gids[i]] = 'a'
	}
	runes[1] = '\U0001F600'
	cmap := string(ToUnicodeCMap(gids, runes))
	if !strings.Contains(cmap, "100 beginbfchar") || !strings.Contains(cmap, "50 beginbfchar") {
		t.Fatalf("unexpected chunking:\n%s", cmap)
	}
	if !strings.Contains(cmap, "<0001> <D83DDE00>") {
		t.Fatalf("surrogate pair missing")
	}
}

func TestSubsetTagIsStable(t *testing.T) {
	a := subsetTag([]uint16{1, 2, 3})
	if a != subsetTag([]uint16{1, 2, 3}) {
		t.Fatalf("subsetTag() not deterministic")
	}
	if len(a) != 6 || strings.Trim(a, "ABCDEFGHIJKLMNOPQRSTUVWXYZ") != "" {
		t.Fatalf("subsetTag() = %q", a)
	}
}
