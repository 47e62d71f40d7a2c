package document

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/overview/pdfocr/filters"
	"github.com/overview/pdfocr/ir/raw"
	"github.com/overview/pdfocr/observability"
	"github.com/overview/pdfocr/writer"
	"github.com/overview/pdfocr/xref"
)

// WriteTo writes the original file followed by an incremental update holding
// the modified pages and the OCR font. A document without modified pages is
// written unchanged.
func (d *Document) WriteTo(w io.Writer) (int64, error) {
	d.checkOpen()
	// Objects are already in memory; resolution never blocks.
	u, err := d.buildUpdate(context.Background())
	if err != nil {
		return 0, err
	}
	if u == nil {
		n, err := w.Write(d.parsed.Data)
		return int64(n), err
	}
	table := d.parsed.XRef
	wr := writer.New(writer.Config{
		XRefStream:    table.Kind == xref.KindStream,
		Deterministic: d.opts.deterministic,
	})
	prev := writer.Previous{StartXRef: table.StartXRef, Trailer: d.parsed.Trailer, Table: table}
	n, err := wr.WriteIncremental(w, d.parsed.Data, prev, u)
	if err != nil {
		return n, fmt.Errorf("document: write: %w", err)
	}
	return n, nil
}

// Save writes the document to path atomically: the bytes go to a temporary
// file in the same directory, which is synced and then renamed over path.
// On failure path is left untouched.
func (d *Document) Save(path string) (err error) {
	d.checkOpen()
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("document: %w", err)
	}
	tmpName := tmp.Name()
	closed := false
	defer func() {
		if err == nil {
			return
		}
		if !closed {
			_ = tmp.Close()
		}
		_ = os.Remove(tmpName)
	}()

	n, err := d.WriteTo(tmp)
	if err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("document: %w", err)
	}
	closed = true
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("document: %w", err)
	}
	mode := os.FileMode(0o644)
	if info, statErr := os.Stat(d.path); statErr == nil {
		mode = info.Mode().Perm()
	}
	if err = os.Chmod(tmpName, mode); err != nil {
		return fmt.Errorf("document: %w", err)
	}
	if err = os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("document: %w", err)
	}
	d.opts.logger.Info("document saved",
		observability.String("path", path),
		observability.String("temp", tmpName),
		observability.Int64("bytes", n),
	)
	return nil
}

// buildUpdate collects the objects of the new revision, or returns nil when
// nothing changed.
func (d *Document) buildUpdate(ctx context.Context) (*writer.Update, error) {
	var modified []*Page
	for _, p := range d.pages {
		if p.Modified() {
			modified = append(modified, p)
		}
	}
	if len(modified) == 0 {
		return nil, nil
	}

	u := writer.NewUpdate(d.next)
	save := u.Add(raw.NewStream(raw.Dict(), []byte("q\n")))
	restore := u.Add(raw.NewStream(raw.Dict(), []byte("\nQ\n")))

	for _, p := range modified {
		dict := p.src.Dict.Clone()
		existing, err := d.contents(ctx, dict)
		if err != nil {
			return nil, fmt.Errorf("document: page %d: %w", p.index+1, err)
		}
		var items []raw.Object
		if len(existing) > 0 {
			items = append(items, ref(save))
			items = append(items, existing...)
			items = append(items, ref(restore))
		}
		for _, data := range p.appended {
			compressed, err := filters.FlateEncode(data)
			if err != nil {
				return nil, fmt.Errorf("document: page %d: compress content: %w", p.index+1, err)
			}
			sd := raw.Dict()
			sd.Set("Filter", raw.NameLiteral("FlateDecode"))
			items = append(items, ref(u.Add(raw.NewStream(sd, compressed))))
		}
		dict.Set("Contents", raw.NewArray(items...))
		if p.resources != nil {
			dict.Set("Resources", p.resources)
		}
		u.Set(p.src.Ref, dict)
	}

	if d.font != nil {
		if err := d.font.face.WriteObjects(u, d.font.ref); err != nil {
			return nil, fmt.Errorf("document: embed font: %w", err)
		}
		if n := d.font.face.Dropped(); n > 0 {
			d.opts.logger.Warn("characters without a glyph were left out of the text layer",
				observability.Int("count", n))
		}
	}
	return u, nil
}

// contents lists the page's content streams as references.
func (d *Document) contents(ctx context.Context, page *raw.DictObj) ([]raw.Object, error) {
	obj, ok := page.Get("Contents")
	if !ok {
		return nil, nil
	}
	if r, isRef := obj.(raw.RefObj); isRef {
		resolved, err := d.parsed.Loader.Resolve(ctx, r)
		if err != nil {
			return nil, err
		}
		if arr, isArr := resolved.(*raw.ArrayObj); isArr {
			obj = arr
		} else if _, isNull := resolved.(raw.NullObj); isNull {
			return nil, nil
		} else {
			return []raw.Object{r}, nil
		}
	}
	arr, ok := obj.(*raw.ArrayObj)
	if !ok {
		return nil, fmt.Errorf("/Contents is %s", obj.Type())
	}
	out := make([]raw.Object, 0, arr.Len())
	for _, item := range arr.Items {
		if _, isRef := item.(raw.RefObj); isRef {
			out = append(out, item)
		}
	}
	return out, nil
}

func ref(r raw.ObjectRef) raw.RefObj { return raw.Ref(r.Num, r.Gen) }
