package document

import (
	"fmt"
	"strconv"

	"github.com/overview/pdfocr/fonts"
	"github.com/overview/pdfocr/ir/raw"
)

// sharedFont is the one OCR font of a document. Every page refers to the
// same Type0 object, written at save time with the glyphs all pages used.
type sharedFont struct {
	face *fonts.Face
	ref  raw.ObjectRef
}

// Font is the OCR font as registered in one page's resources.
type Font struct {
	// Name is the resource name to pass to Tf.
	Name string
	Face *fonts.Face
}

func (d *Document) sharedFont() (*sharedFont, error) {
	d.fontOnce.Do(func() {
		face, err := d.opts.font()
		if err != nil {
			d.fontErr = fmt.Errorf("document: load font: %w", err)
			return
		}
		d.font = &sharedFont{face: face, ref: raw.ObjectRef{Num: d.next}}
		d.next++
	})
	return d.font, d.fontErr
}

// uniqueName returns the first "OCR<n>" key not present in dict.
func uniqueName(dict *raw.DictObj) string {
	for i := 1; ; i++ {
		name := "OCR" + strconv.Itoa(i)
		if _, taken := dict.Get(name); !taken {
			return name
		}
	}
}
