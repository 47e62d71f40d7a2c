package parser

import (
	"context"
	"errors"
	"fmt"

	"github.com/overview/pdfocr/coords"
	"github.com/overview/pdfocr/ir/raw"
)

// Page is a leaf of the page tree with its inheritable attributes resolved.
type Page struct {
	Ref  raw.ObjectRef
	Dict *raw.DictObj
	// Resources is the effective resource dictionary, which may be shared
	// with other pages. Nil when neither the page nor an ancestor has one.
	Resources *raw.DictObj
	MediaBox  coords.Rect
	HasMedia  bool
	CropBox   coords.Rect
	HasCrop   bool
	Rotate    int
}

type inherited struct {
	resources raw.Object
	mediaBox  raw.Object
	cropBox   raw.Object
	rotate    raw.Object
}

// Pages walks the page tree in document order.
func (d *Document) Pages(ctx context.Context) ([]Page, error) {
	cat, err := d.Catalog(ctx)
	if err != nil {
		return nil, err
	}
	root, ok := cat.Get("Pages")
	if !ok {
		return nil, errors.New("catalog has no /Pages")
	}
	w := &pageWalker{doc: d, visited: make(map[int]bool)}
	if err := w.walk(ctx, root, inherited{}, 0); err != nil {
		return nil, err
	}
	return w.pages, nil
}

type pageWalker struct {
	doc     *Document
	visited map[int]bool
	pages   []Page
}

const maxTreeDepth = 64

func (w *pageWalker) walk(ctx context.Context, node raw.Object, inh inherited, depth int) error {
	if depth > maxTreeDepth {
		return errors.New("page tree too deep")
	}
	var ref raw.ObjectRef
	if r, ok := node.(raw.RefObj); ok {
		if w.visited[r.R.Num] {
			return fmt.Errorf("page tree cycle at object %d", r.R.Num)
		}
		w.visited[r.R.Num] = true
		ref = r.R
	}
	obj, err := w.doc.Loader.Resolve(ctx, node)
	if err != nil {
		return err
	}
	dict, ok := obj.(*raw.DictObj)
	if !ok {
		return fmt.Errorf("page tree node %v is %T", ref, obj)
	}
	if v, ok := dict.Get("Resources"); ok {
		inh.resources = v
	}
	if v, ok := dict.Get("MediaBox"); ok {
		inh.mediaBox = v
	}
	if v, ok := dict.Get("CropBox"); ok {
		inh.cropBox = v
	}
	if v, ok := dict.Get("Rotate"); ok {
		inh.rotate = v
	}

	kidsObj, hasKids := dict.Get("Kids")
	typ, _ := dict.Name("Type")
	if typ == "Page" || (!hasKids && typ != "Pages") {
		if ref.Num == 0 {
			return errors.New("page is not an indirect object")
		}
		return w.addPage(ctx, ref, dict, inh)
	}
	kids, err := w.doc.Loader.Resolve(ctx, kidsObj)
	if err != nil {
		return err
	}
	arr, ok := kids.(*raw.ArrayObj)
	if !ok {
		return fmt.Errorf("/Kids of %v is %T", ref, kids)
	}
	for _, kid := range arr.Items {
		if err := w.walk(ctx, kid, inh, depth+1); err != nil {
			return err
		}
	}
	return nil
}

func (w *pageWalker) addPage(ctx context.Context, ref raw.ObjectRef, dict *raw.DictObj, inh inherited) error {
	p := Page{Ref: ref, Dict: dict}
	if inh.resources != nil {
		res, err := w.doc.Loader.Resolve(ctx, inh.resources)
		if err != nil {
			return err
		}
		p.Resources, _ = res.(*raw.DictObj)
	}
	p.MediaBox, p.HasMedia = w.rect(ctx, inh.mediaBox)
	p.CropBox, p.HasCrop = w.rect(ctx, inh.cropBox)
	if inh.rotate != nil {
		if v, err := w.doc.Loader.Resolve(ctx, inh.rotate); err == nil {
			if n, ok := raw.NumberValue(v); ok {
				p.Rotate = int(n)
			}
		}
	}
	w.pages = append(w.pages, p)
	return nil
}

func (w *pageWalker) rect(ctx context.Context, obj raw.Object) (coords.Rect, bool) {
	if obj == nil {
		return coords.Rect{}, false
	}
	v, err := w.doc.Loader.Resolve(ctx, obj)
	if err != nil {
		return coords.Rect{}, false
	}
	return RectFromArray(v)
}

// RectFromArray converts a four-number PDF rectangle, normalizing the
// corner order.
func RectFromArray(obj raw.Object) (coords.Rect, bool) {
	arr, ok := obj.(*raw.ArrayObj)
	if !ok || arr.Len() != 4 {
		return coords.Rect{}, false
	}
	var v [4]float64
	for i, item := range arr.Items {
		n, ok := raw.NumberValue(item)
		if !ok {
			return coords.Rect{}, false
		}
		v[i] = n
	}
	r := coords.RectFromCorners(v[0], v[1], v[2], v[3])
	if r.W <= 0 || r.H <= 0 {
		return coords.Rect{}, false
	}
	return r, true
}
