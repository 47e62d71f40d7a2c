package coords

const (
	// DefaultTargetDPI is the resolution pages are rendered at unless the
	// result would exceed MaxResolutionPx.
	DefaultTargetDPI = 300
	// PDFDPI is the number of PDF user-space units per inch.
	PDFDPI = 72
	// MaxResolutionPx caps the rendered width and height in pixels.
	MaxResolutionPx = 4000
)

// DPIPolicy chooses a rendering resolution for a page.
type DPIPolicy struct {
	Target int
	PDF    int
	MaxPx  int
}

// DefaultDPIPolicy renders at 300 DPI capped to 4000 pixels per side.
var DefaultDPIPolicy = DPIPolicy{Target: DefaultTargetDPI, PDF: PDFDPI, MaxPx: MaxResolutionPx}

// Best returns the DPI to render a page whose media box is box. Pages without
// a media box (ok == false) get 1.
//
// Width and height are both checked against the target DPI. When both exceed
// the cap, the height clamp is the one that sticks.
func (p DPIPolicy) Best(box Rect, ok bool) int {
	if !ok {
		return 1
	}
	dpi := p.Target
	if box.W > 0 && box.W*float64(p.Target)/float64(p.PDF) > float64(p.MaxPx) {
		dpi = int(float64(p.MaxPx) * float64(p.PDF) / box.W)
	}
	if box.H > 0 && box.H*float64(p.Target)/float64(p.PDF) > float64(p.MaxPx) {
		dpi = int(float64(p.MaxPx) * float64(p.PDF) / box.H)
	}
	if dpi < 1 {
		dpi = 1
	}
	return dpi
}

// BestDPI applies DefaultDPIPolicy.
func BestDPI(box Rect, ok bool) int { return DefaultDPIPolicy.Best(box, ok) }

// DPIScale converts rendered pixels to PDF points at the given DPI.
func DPIScale(dpi int) float64 { return float64(PDFDPI) / float64(dpi) }
