package fonts

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
)

// SubsetTrueType empties the outlines of every glyph not in used (or reached
// from a used composite). Glyph IDs are preserved so Identity-H codes stay
// valid. Fonts without glyf outlines are returned unchanged.
func SubsetTrueType(data []byte, used map[uint16]bool) ([]byte, error) {
	p := &ttParser{data: data}
	if err := p.parseDirectory(); err != nil {
		return nil, err
	}
	for _, tag := range []string{"glyf", "loca", "head", "maxp"} {
		if !p.hasTable(tag) {
			return data, nil
		}
	}

	head, err := p.readTable("head")
	if err != nil {
		return nil, err
	}
	if len(head) < 54 {
		return nil, errors.New("fonts: head table truncated")
	}
	maxp, err := p.readTable("maxp")
	if err != nil {
		return nil, err
	}
	if len(maxp) < 6 {
		return nil, errors.New("fonts: maxp table truncated")
	}
	numGlyphs := int(binary.BigEndian.Uint16(maxp[4:6]))
	loc, err := p.locator(int16(binary.BigEndian.Uint16(head[50:52])), numGlyphs)
	if err != nil {
		return nil, err
	}

	keep := map[int]bool{0: true}
	for g := range used {
		keep[int(g)] = true
	}
	p.closeComposites(keep, loc, numGlyphs)

	glyf, locaTable := p.rebuildGlyfLoca(keep, loc, numGlyphs)

	// The rebuilt loca uses 32-bit offsets.
	newHead := append([]byte(nil), head...)
	binary.BigEndian.PutUint16(newHead[50:52], 1)

	w := &ttWriter{}
	w.addTable("glyf", glyf)
	w.addTable("loca", locaTable)
	w.addTable("head", newHead)
	for _, tag := range []string{"hhea", "hmtx", "maxp", "cmap", "name", "OS/2", "post", "cvt ", "fpgm", "prep"} {
		if !p.hasTable(tag) {
			continue
		}
		t, err := p.readTable(tag)
		if err != nil {
			return nil, err
		}
		w.addTable(tag, t)
	}
	return w.bytes(), nil
}

type ttParser struct {
	data   []byte
	tables map[string]tableEntry
	glyf   []byte
}

type tableEntry struct {
	offset uint32
	length uint32
}

func (p *ttParser) parseDirectory() error {
	if len(p.data) < 12 {
		return errors.New("fonts: invalid font header")
	}
	numTables := int(binary.BigEndian.Uint16(p.data[4:6]))
	p.tables = make(map[string]tableEntry, numTables)
	off := 12
	for i := 0; i < numTables; i++ {
		if off+16 > len(p.data) {
			return errors.New("fonts: table directory truncated")
		}
		tag := string(p.data[off : off+4])
		p.tables[tag] = tableEntry{
			offset: binary.BigEndian.Uint32(p.data[off+8 : off+12]),
			length: binary.BigEndian.Uint32(p.data[off+12 : off+16]),
		}
		off += 16
	}
	return nil
}

func (p *ttParser) hasTable(tag string) bool {
	_, ok := p.tables[tag]
	return ok
}

func (p *ttParser) readTable(tag string) ([]byte, error) {
	e, ok := p.tables[tag]
	if !ok {
		return nil, fmt.Errorf("fonts: table %q not found", tag)
	}
	end := uint64(e.offset) + uint64(e.length)
	if end > uint64(len(p.data)) {
		return nil, fmt.Errorf("fonts: table %q out of bounds", tag)
	}
	return p.data[e.offset:end], nil
}

// locator returns the [start, end) range of a glyph in glyf.
func (p *ttParser) locator(format int16, numGlyphs int) (func(gid int) (uint32, uint32), error) {
	loca, err := p.readTable("loca")
	if err != nil {
		return nil, err
	}
	glyf, err := p.readTable("glyf")
	if err != nil {
		return nil, err
	}
	p.glyf = glyf
	width := 2
	if format != 0 {
		width = 4
	}
	if len(loca) < (numGlyphs+1)*width {
		return nil, errors.New("fonts: loca table too short")
	}
	at := func(i int) uint32 {
		if width == 2 {
			return uint32(binary.BigEndian.Uint16(loca[i*2:])) * 2
		}
		return binary.BigEndian.Uint32(loca[i*4:])
	}
	return func(gid int) (uint32, uint32) {
		start, end := at(gid), at(gid+1)
		if start > end || end > uint32(len(glyf)) {
			return 0, 0
		}
		return start, end
	}, nil
}

// Composite glyph flags.
const (
	argsAreWords   = 0x0001
	haveScale      = 0x0008
	moreComponents = 0x0020
	haveXYScale    = 0x0040
	haveTwoByTwo   = 0x0080
)

// closeComposites adds the components of kept composite glyphs.
func (p *ttParser) closeComposites(keep map[int]bool, loc func(int) (uint32, uint32), numGlyphs int) {
	queue := make([]int, 0, len(keep))
	for g := range keep {
		queue = append(queue, g)
	}
	for len(queue) > 0 {
		gid := queue[0]
		queue = queue[1:]
		if gid >= numGlyphs {
			continue
		}
		start, end := loc(gid)
		if end-start < 10 || int16(binary.BigEndian.Uint16(p.glyf[start:])) >= 0 {
			continue
		}
		off := start + 10
		for off+4 <= end {
			flags := binary.BigEndian.Uint16(p.glyf[off:])
			sub := int(binary.BigEndian.Uint16(p.glyf[off+2:]))
			if !keep[sub] {
				keep[sub] = true
				queue = append(queue, sub)
			}
			off += 4
			if flags&argsAreWords != 0 {
				off += 4
			} else {
				off += 2
			}
			switch {
			case flags&haveScale != 0:
				off += 2
			case flags&haveXYScale != 0:
				off += 4
			case flags&haveTwoByTwo != 0:
				off += 8
			}
			if flags&moreComponents == 0 {
				break
			}
		}
	}
}

func (p *ttParser) rebuildGlyfLoca(keep map[int]bool, loc func(int) (uint32, uint32), numGlyphs int) ([]byte, []byte) {
	var glyf bytes.Buffer
	loca := make([]byte, 0, (numGlyphs+1)*4)
	for gid := 0; gid < numGlyphs; gid++ {
		loca = binary.BigEndian.AppendUint32(loca, uint32(glyf.Len()))
		if !keep[gid] {
			continue
		}
		start, end := loc(gid)
		glyf.Write(p.glyf[start:end])
		// Glyph offsets stay 4-byte aligned.
		for glyf.Len()%4 != 0 {
			glyf.WriteByte(0)
		}
	}
	loca = binary.BigEndian.AppendUint32(loca, uint32(glyf.Len()))
	return glyf.Bytes(), loca
}

type ttWriter struct {
	tables []tableData
}

type tableData struct {
	tag  string
	data []byte
}

func (w *ttWriter) addTable(tag string, data []byte) {
	w.tables = append(w.tables, tableData{tag, data})
}

func (w *ttWriter) bytes() []byte {
	sort.Slice(w.tables, func(i, j int) bool { return w.tables[i].tag < w.tables[j].tag })
	numTables := len(w.tables)

	entrySelector := 0
	for (1 << (entrySelector + 1)) <= numTables {
		entrySelector++
	}
	searchRange := (1 << entrySelector) * 16

	buf := make([]byte, 0, 12+16*numTables)
	buf = binary.BigEndian.AppendUint32(buf, 0x00010000)
	buf = binary.BigEndian.AppendUint16(buf, uint16(numTables))
	buf = binary.BigEndian.AppendUint16(buf, uint16(searchRange))
	buf = binary.BigEndian.AppendUint16(buf, uint16(entrySelector))
	buf = binary.BigEndian.AppendUint16(buf, uint16(numTables*16-searchRange))

	offset := 12 + 16*numTables
	headAt := -1
	for _, t := range w.tables {
		if t.tag == "head" {
			// checkSumAdjustment is computed over the finished file.
			binary.BigEndian.PutUint32(t.data[8:12], 0)
			headAt = offset
		}
		buf = append(buf, t.tag...)
		buf = binary.BigEndian.AppendUint32(buf, checksum(t.data))
		buf = binary.BigEndian.AppendUint32(buf, uint32(offset))
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(t.data)))
		offset += (len(t.data) + 3) &^ 3
	}
	for _, t := range w.tables {
		buf = append(buf, t.data...)
		for len(buf)%4 != 0 {
			buf = append(buf, 0)
		}
	}
	if headAt >= 0 {
		binary.BigEndian.PutUint32(buf[headAt+8:], 0xB1B0AFBA-checksum(buf))
	}
	return buf
}

func checksum(data []byte) uint32 {
	var sum uint32
	for i := 0; i < len(data); i += 4 {
		var word [4]byte
		copy(word[:], data[i:])
		sum += binary.BigEndian.Uint32(word[:])
	}
	return sum
}
