// Package fonts measures text with a TrueType font and embeds that font as a
// composite (Type0, Identity-H) PDF font holding only the glyphs used.
package fonts

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"unicode"

	gofont "github.com/go-text/typesetting/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/text/unicode/norm"
)

// Face is a parsed TrueType font plus a record of the glyphs encoded with it.
// It is safe for concurrent use.
type Face struct {
	data   []byte
	face   *gofont.Face
	upem   float64
	ascent float64

	mu      sync.Mutex
	used    map[uint16]rune
	dropped int
}

var ErrNoGlyphs = errors.New("font has no glyph outlines")

// Parse reads a TrueType or OpenType (glyf) font file.
func Parse(data []byte) (*Face, error) {
	if len(data) == 0 {
		return nil, errors.New("fonts: empty font data")
	}
	face, err := gofont.ParseTTF(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("fonts: parse: %w", err)
	}
	upem := float64(face.Upem())
	if upem == 0 {
		return nil, errors.New("fonts: unitsPerEm is zero")
	}
	f := &Face{data: data, face: face, upem: upem, used: make(map[uint16]rune)}
	if ext, ok := face.FontHExtents(); ok && ext.Ascender > 0 {
		f.ascent = float64(ext.Ascender)
	} else {
		f.ascent = upem * 0.8
	}
	return f, nil
}

// Load parses the font file at path.
func Load(path string) (*Face, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("fonts: %w", err)
	}
	return Parse(data)
}

// Default returns a fresh Face for the Go Regular font.
func Default() (*Face, error) { return Parse(goregular.TTF) }

// Data returns the font file.
func (f *Face) Data() []byte { return f.data }

func (f *Face) UnitsPerEm() float64 { return f.upem }

// Ascent returns the ascender height at the given font size.
func (f *Face) Ascent(size float64) float64 { return f.ascent * size / f.upem }

// Encode maps text to glyph IDs and records them for embedding. Text is
// NFC-normalized first so precomposed glyphs are preferred. Control
// characters and runes without a glyph are dropped.
func (f *Face) Encode(text string) []uint16 {
	text = norm.NFC.String(text)
	gids := make([]uint16, 0, len(text))
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range text {
		if unicode.IsControl(r) {
			continue
		}
		gid, ok := f.face.NominalGlyph(r)
		if !ok || gid == 0 || gid > 0xffff {
			f.dropped++
			continue
		}
		g := uint16(gid)
		if _, seen := f.used[g]; !seen {
			f.used[g] = r
		}
		gids = append(gids, g)
	}
	return gids
}

// Advance returns the width of gids set at the given size.
func (f *Face) Advance(gids []uint16, size float64) float64 {
	var units float64
	for _, g := range gids {
		units += float64(f.face.HorizontalAdvance(gofont.GID(g)))
	}
	return units * size / f.upem
}

// glyphWidth is the advance of gid in glyph space (1/1000 em).
func (f *Face) glyphWidth(gid uint16) int {
	adv := float64(f.face.HorizontalAdvance(gofont.GID(gid)))
	return int(adv*1000/f.upem + 0.5)
}

// Used returns the glyphs encoded so far, sorted, with the rune each one
// was first encoded from.
func (f *Face) Used() ([]uint16, map[uint16]rune) {
	f.mu.Lock()
	defer f.mu.Unlock()
	gids := make([]uint16, 0, len(f.used))
	runes := make(map[uint16]rune, len(f.used))
	for g, r := range f.used {
		gids = append(gids, g)
		runes[g] = r
	}
	sort.Slice(gids, func(i, j int) bool { return gids[i] < gids[j] })
	return gids, runes
}

// Dropped reports how many runes had no glyph.
func (f *Face) Dropped() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dropped
}
