package fonts

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"unicode/utf16"

	"github.com/overview/pdfocr/filters"
	"github.com/overview/pdfocr/ir/raw"
	"github.com/overview/pdfocr/writer"
)

const bfcharChunk = 100

// WriteObjects adds the font's objects to u, storing the Type0 dictionary at
// the reserved ref type0. Only glyphs returned by Encode are embedded.
func (f *Face) WriteObjects(u *writer.Update, type0 raw.ObjectRef) error {
	gids, runes := f.Used()
	desc, err := f.Describe()
	if err != nil {
		return err
	}
	keep := make(map[uint16]bool, len(gids))
	for _, g := range gids {
		keep[g] = true
	}
	program, err := SubsetTrueType(f.data, keep)
	if err != nil {
		return fmt.Errorf("fonts: subset: %w", err)
	}
	compressed, err := filters.FlateEncode(program)
	if err != nil {
		return fmt.Errorf("fonts: compress: %w", err)
	}
	baseFont := subsetTag(gids) + "+" + desc.PostScriptName

	fileDict := raw.Dict()
	fileDict.Set("Filter", raw.NameLiteral("FlateDecode"))
	fileDict.Set("Length1", raw.NumberInt(int64(len(program))))
	fontFile := u.Add(raw.NewStream(fileDict, compressed))

	fd := raw.Dict()
	fd.Set("Type", raw.NameLiteral("FontDescriptor"))
	fd.Set("FontName", raw.NameLiteral(baseFont))
	fd.Set("Flags", raw.NumberInt(int64(desc.Flags)))
	fd.Set("FontBBox", raw.NewArray(
		raw.NumberFloat(desc.BBox[0]), raw.NumberFloat(desc.BBox[1]),
		raw.NumberFloat(desc.BBox[2]), raw.NumberFloat(desc.BBox[3]),
	))
	fd.Set("ItalicAngle", raw.NumberFloat(desc.ItalicAngle))
	fd.Set("Ascent", raw.NumberFloat(desc.Ascent))
	fd.Set("Descent", raw.NumberFloat(desc.Descent))
	fd.Set("CapHeight", raw.NumberFloat(desc.CapHeight))
	fd.Set("StemV", raw.NumberFloat(desc.StemV))
	fd.Set("FontFile2", raw.Ref(fontFile.Num, fontFile.Gen))
	descriptor := u.Add(fd)

	sysInfo := raw.Dict()
	sysInfo.Set("Registry", raw.Str([]byte("Adobe")))
	sysInfo.Set("Ordering", raw.Str([]byte("Identity")))
	sysInfo.Set("Supplement", raw.NumberInt(0))

	cid := raw.Dict()
	cid.Set("Type", raw.NameLiteral("Font"))
	cid.Set("Subtype", raw.NameLiteral("CIDFontType2"))
	cid.Set("BaseFont", raw.NameLiteral(baseFont))
	cid.Set("CIDSystemInfo", sysInfo)
	cid.Set("FontDescriptor", raw.Ref(descriptor.Num, descriptor.Gen))
	cid.Set("CIDToGIDMap", raw.NameLiteral("Identity"))
	cid.Set("DW", raw.NumberInt(1000))
	widths := make(map[uint16]int, len(gids))
	for _, g := range gids {
		widths[g] = f.glyphWidth(g)
	}
	cid.Set("W", WidthArray(gids, widths))
	descendant := u.Add(cid)

	cmap, err := filters.FlateEncode(ToUnicodeCMap(gids, runes))
	if err != nil {
		return fmt.Errorf("fonts: compress cmap: %w", err)
	}
	cmapDict := raw.Dict()
	cmapDict.Set("Filter", raw.NameLiteral("FlateDecode"))
	toUnicode := u.Add(raw.NewStream(cmapDict, cmap))

	top := raw.Dict()
	top.Set("Type", raw.NameLiteral("Font"))
	top.Set("Subtype", raw.NameLiteral("Type0"))
	top.Set("BaseFont", raw.NameLiteral(baseFont))
	top.Set("Encoding", raw.NameLiteral("Identity-H"))
	top.Set("DescendantFonts", raw.NewArray(raw.Ref(descendant.Num, descendant.Gen)))
	top.Set("ToUnicode", raw.Ref(toUnicode.Num, toUnicode.Gen))
	u.Set(type0, top)
	return nil
}

// WidthArray builds a CIDFont W array, grouping consecutive glyph IDs as
// "first [w1 w2 ...]". gids must be sorted.
func WidthArray(gids []uint16, widths map[uint16]int) *raw.ArrayObj {
	arr := raw.NewArray()
	for i := 0; i < len(gids); {
		j := i + 1
		for j < len(gids) && gids[j] == gids[j-1]+1 {
			j++
		}
		run := raw.NewArray()
		for _, g := range gids[i:j] {
			run.Append(raw.NumberInt(int64(widths[g])))
		}
		arr.Append(raw.NumberInt(int64(gids[i])))
		arr.Append(run)
		i = j
	}
	return arr
}

// ToUnicodeCMap maps each glyph ID back to the rune it was encoded from.
func ToUnicodeCMap(gids []uint16, runes map[uint16]rune) []byte {
	var buf bytes.Buffer
	buf.WriteString("/CIDInit /ProcSet findresource begin\n")
	buf.WriteString("12 dict begin\n")
	buf.WriteString("begincmap\n")
	buf.WriteString("/CIDSystemInfo << /Registry (Adobe) /Ordering (UCS) /Supplement 0 >> def\n")
	buf.WriteString("/CMapName /Adobe-Identity-UCS def\n")
	buf.WriteString("/CMapType 2 def\n")
	buf.WriteString("1 begincodespacerange\n<0000> <FFFF>\nendcodespacerange\n")
	for i := 0; i < len(gids); i += bfcharChunk {
		chunk := gids[i:min(i+bfcharChunk, len(gids))]
		fmt.Fprintf(&buf, "%d beginbfchar\n", len(chunk))
		for _, g := range chunk {
			fmt.Fprintf(&buf, "<%04X> <%s>\n", g, utf16Hex(runes[g]))
		}
		buf.WriteString("endbfchar\n")
	}
	buf.WriteString("endcmap\n")
	buf.WriteString("CMapName currentdict /CMap defineresource pop\n")
	buf.WriteString("end\nend\n")
	return buf.Bytes()
}

func utf16Hex(r rune) string {
	var s string
	for _, u := range utf16.Encode([]rune{r}) {
		s += fmt.Sprintf("%04X", u)
	}
	return s
}

// subsetTag derives the six-letter subset prefix from the glyph set.
func subsetTag(gids []uint16) string {
	h := sha256.New()
	for _, g := range gids {
		h.Write([]byte{byte(g >> 8), byte(g)})
	}
	sum := h.Sum(nil)
	tag := make([]byte, 6)
	for i := range tag {
		tag[i] = 'A' + sum[i]%26
	}
	return string(tag)
}
