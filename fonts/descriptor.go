package fonts

import (
	"fmt"
	"strings"

	xfont "golang.org/x/image/font"
	"golang.org/x/image/font/sfnt"
	"golang.org/x/image/math/fixed"
)

// Descriptor holds the FontDescriptor metrics in glyph space (1/1000 em).
type Descriptor struct {
	PostScriptName string
	Flags          int
	ItalicAngle    float64
	Ascent         float64
	Descent        float64
	CapHeight      float64
	StemV          float64
	BBox           [4]float64
}

// nonSymbolic is FontDescriptor flag bit 6.
const nonSymbolic = 1 << 5

// Describe reads the descriptor metrics from the font file.
func (f *Face) Describe() (Descriptor, error) {
	font, err := sfnt.Parse(f.data)
	if err != nil {
		return Descriptor{}, fmt.Errorf("fonts: parse: %w", err)
	}
	upem := font.UnitsPerEm()
	buf := &sfnt.Buffer{}
	ppem := fixed.Int26_6(upem << 6)

	d := Descriptor{Flags: nonSymbolic, StemV: 80}
	if ps, _ := font.Name(buf, sfnt.NameIDPostScript); strings.TrimSpace(ps) != "" {
		d.PostScriptName = sanitizeName(ps)
	}
	if d.PostScriptName == "" {
		d.PostScriptName = "OCRFont"
	}
	if post := font.PostTable(); post != nil {
		d.ItalicAngle = post.ItalicAngle
	}

	metrics, err := font.Metrics(buf, ppem, xfont.HintingNone)
	if err != nil {
		return Descriptor{}, fmt.Errorf("fonts: metrics: %w", err)
	}
	d.Ascent = scaleFixed(metrics.Ascent, upem)
	// sfnt reports descent as a positive distance below the baseline.
	d.Descent = -scaleFixed(metrics.Descent, upem)
	d.CapHeight = scaleFixed(metrics.CapHeight, upem)
	if d.CapHeight == 0 {
		d.CapHeight = d.Ascent
	}

	bounds, err := font.Bounds(buf, ppem, xfont.HintingNone)
	if err != nil {
		return Descriptor{}, fmt.Errorf("fonts: bounds: %w", err)
	}
	// Bounds has y pointing down.
	d.BBox = [4]float64{
		scaleFixed(bounds.Min.X, upem),
		-scaleFixed(bounds.Max.Y, upem),
		scaleFixed(bounds.Max.X, upem),
		-scaleFixed(bounds.Min.Y, upem),
	}
	return d, nil
}

func scaleFixed(v fixed.Int26_6, upem sfnt.Units) float64 {
	return float64(v) / 64 * 1000 / float64(upem)
}

// sanitizeName keeps the characters allowed in a PDF font name.
func sanitizeName(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r > 0x20 && r < 0x7f && !strings.ContainsRune("()<>[]{}/%#", r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
