package xref_test

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/overview/pdfocr/ir/raw"
	"github.com/overview/pdfocr/xref"
)

func TestResolverRepairsMissingXRef(t *testing.T) {
	buf := &bytes.Buffer{}
	buf.WriteString("%PDF-1.7\n")
	off1 := buf.Len()
	buf.WriteString("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")
	off2 := buf.Len()
	buf.WriteString("2 0 obj\n<< /Type /Pages /Count 0 >>\nendobj\n")
	buf.WriteString("trailer\n<< /Size 3 /Root 1 0 R >>\n%%EOF\n")

	if _, err := newResolver(false).Resolve(context.Background(), buf.Bytes()); err == nil {
		t.Fatal("expected error on missing startxref, got nil")
	}

	table, err := newResolver(true).Resolve(context.Background(), buf.Bytes())
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if table.Kind != xref.KindRepaired {
		t.Fatalf("Kind = %s, want repaired", table.Kind)
	}
	if e, ok := table.Lookup(1); !ok || e.Offset != int64(off1) {
		t.Errorf("object 1 = %+v, want offset %d", e, off1)
	}
	if e, ok := table.Lookup(2); !ok || e.Offset != int64(off2) {
		t.Errorf("object 2 = %+v, want offset %d", e, off2)
	}
}

func TestResolverRepairsBadOffsets(t *testing.T) {
	pdf, _ := buildSimplePDF()
	broken := bytes.Replace(pdf, []byte("startxref\n"), []byte("startxref\n9"), 1)
	table, err := newResolver(true).Resolve(context.Background(), broken)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if _, ok := table.Lookup(2); !ok {
		t.Fatalf("object 2 not recovered")
	}
}

func TestRepairSkipsGarbagePrefix(t *testing.T) {
	buf := &bytes.Buffer{}
	buf.WriteString("%PDF-1.7\n999 ")
	off1 := buf.Len()
	buf.WriteString("1 0 obj\n<< >>\nendobj\n")
	buf.WriteString("trailer\n<< /Size 2 /Root 1 0 R >>\n%%EOF\n")

	table, err := newResolver(true).Resolve(context.Background(), buf.Bytes())
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if e, ok := table.Lookup(1); !ok || e.Offset != int64(off1) {
		t.Errorf("object 1 = %+v, want offset %d", e, off1)
	}
}

func TestRepairFindsCatalogWithoutTrailer(t *testing.T) {
	buf := &bytes.Buffer{}
	buf.WriteString("%PDF-1.5\n")
	buf.WriteString("1 0 obj\n<< /Type /Pages /Count 0 >>\nendobj\n")
	buf.WriteString("7 0 obj\n<< /Type /Catalog /Pages 1 0 R >>\nendobj\n")
	header := "8 0 "
	body := "<< /Type /Annot >>"
	fmt.Fprintf(buf, "9 0 obj\n<< /Type /ObjStm /N 1 /First %d /Length %d >>\nstream\n%s%s\nendstream\nendobj\n",
		len(header), len(header)+len(body), header, body)

	table, err := newResolver(true).Resolve(context.Background(), buf.Bytes())
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	root, _ := table.Trailer.Get("Root")
	if ref, ok := root.(raw.RefObj); !ok || ref.R.Num != 7 {
		t.Fatalf("Root = %v, want 7 0 R", root)
	}
	e, ok := table.Lookup(8)
	if !ok || e.Type != xref.EntryCompressed || e.Stream != 9 {
		t.Fatalf("object 8 = %+v, want compressed in 9", e)
	}
	if table.Size() != 10 {
		t.Fatalf("Size() = %d, want 10", table.Size())
	}
}
