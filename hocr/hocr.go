// Package hocr reads the hOCR dialect emitted by Tesseract into lines of
// positioned words.
package hocr

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html/charset"

	"github.com/overview/pdfocr/coords"
)

// Word is a recognized word and its box in image pixels.
type Word struct {
	BBox coords.Rect
	Text string
}

// Line is a recognized line. Words is never empty.
type Line struct {
	BBox  coords.Rect
	Words []Word
}

// MaxWordHeight returns the height of the tallest word box on the line.
func (l Line) MaxWordHeight() float64 {
	var max float64
	for _, w := range l.Words {
		if w.BBox.H > max {
			max = w.BBox.H
		}
	}
	return max
}

// lineClasses are the span classes Tesseract uses for line-level boxes.
var lineClasses = map[string]bool{
	"ocr_line":      true,
	"ocr_header":    true,
	"ocr_caption":   true,
	"ocr_textfloat": true,
}

const wordClass = "ocrx_word"

// Reader yields lines from an hOCR document in document order. It is
// single-pass: once Next returns io.EOF or an error, the Reader is spent.
type Reader struct {
	dec *xml.Decoder
	err error

	lineBox   coords.Rect
	pending   []Word
	wordDepth int // span nesting inside the current word; 0 when outside
	wordBox   coords.Rect
	wordText  strings.Builder
}

// NewReader returns a Reader over r. The document's DOCTYPE is never
// resolved: the decoder has no access to external entities and named HTML
// entities come from a static table.
func NewReader(r io.Reader) *Reader {
	dec := xml.NewDecoder(r)
	dec.Strict = true
	dec.Entity = xml.HTMLEntity
	dec.CharsetReader = charset.NewReaderLabel
	return &Reader{dec: dec}
}

// Next returns the next line with at least one word. It returns io.EOF after
// the last line. Malformed markup is reported as an error.
func (r *Reader) Next() (Line, error) {
	if r.err != nil {
		return Line{}, r.err
	}
	for {
		tok, err := r.dec.Token()
		if err == io.EOF {
			r.err = io.EOF
			return Line{}, io.EOF
		}
		if err != nil {
			r.err = fmt.Errorf("hocr: %w", err)
			return Line{}, r.err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			r.start(t)
		case xml.CharData:
			if r.wordDepth > 0 {
				r.wordText.Write(t)
			}
		case xml.EndElement:
			if line, ok := r.end(t); ok {
				return line, nil
			}
		}
	}
}

func (r *Reader) start(el xml.StartElement) {
	if el.Name.Local != "span" {
		return
	}
	if r.wordDepth > 0 {
		r.wordDepth++
		return
	}
	class, title := attrs(el)
	switch {
	case hasClass(class, wordClass):
		r.wordDepth = 1
		r.wordBox = coords.ParseBBoxTitle(title)
		r.wordText.Reset()
	case lineClasses[firstClass(class)]:
		r.lineBox = coords.ParseBBoxTitle(title)
	}
}

func (r *Reader) end(el xml.EndElement) (Line, bool) {
	if el.Name.Local != "span" {
		return Line{}, false
	}
	if r.wordDepth > 0 {
		r.wordDepth--
		if r.wordDepth == 0 {
			if text := strings.TrimSpace(r.wordText.String()); text != "" {
				r.pending = append(r.pending, Word{BBox: r.wordBox, Text: text})
			}
		}
		return Line{}, false
	}
	if len(r.pending) == 0 {
		return Line{}, false
	}
	line := Line{BBox: r.lineBox, Words: r.pending}
	r.pending = nil
	return line, true
}

// ReadAll drains r and returns every line.
func ReadAll(r io.Reader) ([]Line, error) {
	hr := NewReader(r)
	var out []Line
	for {
		line, err := hr.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, line)
	}
}

func attrs(el xml.StartElement) (class, title string) {
	for _, a := range el.Attr {
		switch a.Name.Local {
		case "class":
			class = a.Value
		case "title":
			title = a.Value
		}
	}
	return class, title
}

func hasClass(class, want string) bool {
	for _, c := range strings.Fields(class) {
		if c == want {
			return true
		}
	}
	return false
}

func firstClass(class string) string {
	if f := strings.Fields(class); len(f) > 0 {
		return f[0]
	}
	return ""
}
