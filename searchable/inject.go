package searchable

import (
	"github.com/overview/pdfocr/contentstream"
	"github.com/overview/pdfocr/coords"
	"github.com/overview/pdfocr/document"
	"github.com/overview/pdfocr/hocr"
)

// InjectLine writes one recognized line as invisible text. Each word is
// stretched over its box: the tallest word sets the vertical scale for the
// whole line and each word's measured width sets its horizontal scale.
//
// Words that measure zero width (no glyph in the font for any of their
// characters) cannot be scaled and are skipped; the number skipped is
// returned.
func InjectLine(a *contentstream.Appender, line hocr.Line, crop coords.Rect, dpiScale float64, font *document.Font) (int, error) {
	face := font.Face
	placement := coords.ComputeLinePlacement(line.BBox, line.MaxWordHeight(), crop, dpiScale, face.Ascent(coords.BaseFontSize))

	if err := a.BeginText(); err != nil {
		return 0, err
	}
	if err := a.SetFont(font.Name, coords.BaseFontSize); err != nil {
		return 0, err
	}
	if err := a.SetTextRenderingMode(contentstream.TextInvisible); err != nil {
		return 0, err
	}
	skipped := 0
	for _, w := range line.Words {
		gids := face.Encode(w.Text)
		m, ok := coords.ComputeWordPlacement(w.BBox, placement, crop, dpiScale, face.Advance(gids, coords.BaseFontSize))
		if !ok {
			skipped++
			continue
		}
		if err := a.SetTextMatrix(m); err != nil {
			return skipped, err
		}
		if err := a.ShowText(gids); err != nil {
			return skipped, err
		}
	}
	return skipped, a.EndText()
}
