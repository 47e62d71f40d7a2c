package coords

import (
	"regexp"
	"strconv"
)

// BaseFontSize is the font size text is set at before the text matrix scales
// it to the recognized word box.
const BaseFontSize = 12

var bboxPattern = regexp.MustCompile(`bbox (\d+) (\d+) (\d+) (\d+)`)

// ParseBBoxTitle extracts the bbox property of an hOCR title attribute, e.g.
// "bbox 10 20 110 40; x_wconf 93". A missing or malformed bbox yields the
// zero Rect.
func ParseBBoxTitle(title string) Rect {
	m := bboxPattern.FindStringSubmatch(title)
	if m == nil {
		return Rect{}
	}
	var v [4]float64
	for i := range v {
		n, err := strconv.ParseInt(m[i+1], 10, 64)
		if err != nil {
			return Rect{}
		}
		v[i] = float64(n)
	}
	return Rect{X: v[0], Y: v[1], W: v[2] - v[0], H: v[3] - v[1]}
}

// LinePlacement holds the vertical metrics shared by every word of a line.
type LinePlacement struct {
	// ScaleY is the vertical text matrix scale.
	ScaleY float64
	// Baseline is the baseline position in PDF coordinates.
	Baseline float64
}

// Valid reports whether words can be placed on the line. A line whose words
// all have zero height has no usable scale.
func (p LinePlacement) Valid() bool { return p.ScaleY > 0 }

// ComputeLinePlacement derives the font scale and baseline of an hOCR line.
// maxWordHeight is the tallest word box on the line; the line box itself is
// only used to center that height vertically. ascent12 is the font ascent at
// BaseFontSize in points.
func ComputeLinePlacement(line Rect, maxWordHeight float64, crop Rect, dpiScale, ascent12 float64) LinePlacement {
	scaleY := maxWordHeight / BaseFontSize * dpiScale
	lineTop := line.Y + (line.H-maxWordHeight)/2
	baseline := crop.H - lineTop*dpiScale - ascent12*scaleY - crop.Y
	return LinePlacement{ScaleY: scaleY, Baseline: baseline}
}

// ComputeWordPlacement returns the text matrix that stretches a run measuring
// width12 points at BaseFontSize over the word box. It reports false when the
// word cannot be placed: zero measured width, zero box width or an unusable
// line.
func ComputeWordPlacement(word Rect, line LinePlacement, crop Rect, dpiScale, width12 float64) (Matrix, bool) {
	if width12 <= 0 || !line.Valid() {
		return Matrix{}, false
	}
	scaleX := word.W / width12 * dpiScale
	if scaleX <= 0 {
		return Matrix{}, false
	}
	leftX := word.X*dpiScale - crop.X
	// The translation is expressed in the unscaled frame.
	m := Translate(leftX/scaleX, line.Baseline/line.ScaleY).Multiply(Scale(scaleX, line.ScaleY))
	if !m.IsFinite() {
		return Matrix{}, false
	}
	return m, true
}
