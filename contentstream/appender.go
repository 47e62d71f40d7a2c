// Package contentstream writes and reads page content stream operators.
package contentstream

import (
	"bytes"
	"errors"
	"fmt"
	"math"

	"github.com/overview/pdfocr/coords"
	"github.com/overview/pdfocr/ir/raw"
	"github.com/overview/pdfocr/writer"
)

var (
	ErrClosed       = errors.New("contentstream: appender closed")
	ErrTextObject   = errors.New("contentstream: operator not allowed here")
	ErrNoFont       = errors.New("contentstream: no font selected")
	ErrInvalidValue = errors.New("contentstream: invalid operand")
)

// Appender accumulates operators for a stream that is added to a page after
// its existing content. The stream is handed to the commit function on Close.
type Appender struct {
	buf     bytes.Buffer
	commit  func([]byte) error
	inText  bool
	hasFont bool
	closed  bool
}

// NewAppender returns an Appender whose Close passes the finished stream to
// commit. A nil commit discards it.
func NewAppender(commit func([]byte) error) *Appender {
	return &Appender{commit: commit}
}

// BeginText opens a text object (BT).
func (a *Appender) BeginText() error {
	if err := a.check(false); err != nil {
		return err
	}
	a.inText = true
	a.hasFont = false
	a.buf.WriteString("BT\n")
	return nil
}

// EndText closes the text object (ET).
func (a *Appender) EndText() error {
	if err := a.check(true); err != nil {
		return err
	}
	a.inText = false
	a.buf.WriteString("ET\n")
	return nil
}

// SetFont selects the font resource name at size (Tf).
func (a *Appender) SetFont(name string, size float64) error {
	if err := a.check(true); err != nil {
		return err
	}
	if name == "" || !positive(size) {
		return fmt.Errorf("%w: font %q size %v", ErrInvalidValue, name, size)
	}
	a.hasFont = true
	fmt.Fprintf(&a.buf, "%s %s Tf\n", writer.SerializePrimitive(raw.NameLiteral(name)), writer.FormatReal(size))
	return nil
}

// SetTextRenderingMode sets the text rendering mode (Tr).
func (a *Appender) SetTextRenderingMode(mode TextRenderMode) error {
	if err := a.check(true); err != nil {
		return err
	}
	if !mode.valid() {
		return fmt.Errorf("%w: render mode %d", ErrInvalidValue, mode)
	}
	fmt.Fprintf(&a.buf, "%d Tr\n", mode)
	return nil
}

// SetTextMatrix replaces the text and text line matrices (Tm).
func (a *Appender) SetTextMatrix(m coords.Matrix) error {
	if err := a.check(true); err != nil {
		return err
	}
	if !m.IsFinite() {
		return fmt.Errorf("%w: matrix %v", ErrInvalidValue, m)
	}
	for _, v := range m {
		a.buf.WriteString(writer.FormatReal(v))
		a.buf.WriteByte(' ')
	}
	a.buf.WriteString("Tm\n")
	return nil
}

// ShowText shows two-byte glyph codes (Tj) as a hex string.
func (a *Appender) ShowText(codes []uint16) error {
	if err := a.check(true); err != nil {
		return err
	}
	if !a.hasFont {
		return ErrNoFont
	}
	a.buf.WriteByte('<')
	for _, c := range codes {
		fmt.Fprintf(&a.buf, "%04X", c)
	}
	a.buf.WriteString("> Tj\n")
	return nil
}

// Bytes returns the operators written so far.
func (a *Appender) Bytes() []byte { return a.buf.Bytes() }

// Close commits the stream. A text object left open is an error and nothing
// is committed. Closing twice is a no-op.
func (a *Appender) Close() error {
	if a.closed {
		return nil
	}
	a.closed = true
	if a.inText {
		return fmt.Errorf("%w: text object not ended", ErrTextObject)
	}
	if a.commit == nil {
		return nil
	}
	return a.commit(a.buf.Bytes())
}

func (a *Appender) check(inText bool) error {
	if a.closed {
		return ErrClosed
	}
	if a.inText != inText {
		return ErrTextObject
	}
	return nil
}

func positive(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) && v > 0 }
