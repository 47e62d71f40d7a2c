package writer

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/overview/pdfocr/ir/raw"
)

// SerializeObject renders "num gen obj ... endobj" for obj. Stream /Length
// is set from the payload.
func SerializeObject(ref raw.ObjectRef, obj raw.Object) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%d %d obj\n", ref.Num, ref.Gen)
	buf.Write(SerializePrimitive(obj))
	buf.WriteString("\nendobj\n")
	return buf.Bytes()
}

// SerializePrimitive renders a direct object in PDF syntax.
func SerializePrimitive(o raw.Object) []byte {
	var b bytes.Buffer
	writePrimitive(&b, o)
	return b.Bytes()
}

func writePrimitive(b *bytes.Buffer, o raw.Object) {
	switch v := o.(type) {
	case raw.NameObj:
		b.WriteString("/" + pdfNameLiteral(v.Val))
	case raw.NumberObj:
		if v.IsInteger() {
			b.WriteString(strconv.FormatInt(v.Int(), 10))
		} else {
			b.WriteString(FormatReal(v.Float()))
		}
	case raw.BoolObj:
		b.WriteString(strconv.FormatBool(v.V))
	case raw.NullObj:
		b.WriteString("null")
	case raw.StringObj:
		if v.Hex {
			b.WriteByte('<')
			b.WriteString(strings.ToUpper(hex.EncodeToString(v.Bytes)))
			b.WriteByte('>')
			return
		}
		b.Write(escapeLiteralString(v.Bytes))
	case *raw.ArrayObj:
		b.WriteByte('[')
		for i, it := range v.Items {
			if i > 0 {
				b.WriteByte(' ')
			}
			writePrimitive(b, it)
		}
		b.WriteByte(']')
	case *raw.DictObj:
		b.WriteString("<<")
		for _, k := range v.Keys() {
			b.WriteString("/" + pdfNameLiteral(k) + " ")
			writePrimitive(b, v.KV[k])
		}
		b.WriteString(">>")
	case *raw.StreamObj:
		dict := v.Dict.Clone()
		dict.Set("Length", raw.NumberInt(int64(len(v.Data))))
		writePrimitive(b, dict)
		b.WriteString("\nstream\n")
		b.Write(v.Data)
		b.WriteString("\nendstream")
	case raw.RefObj:
		fmt.Fprintf(b, "%d %d R", v.R.Num, v.R.Gen)
	default:
		b.WriteString("null")
	}
}

// FormatReal writes a real number without exponent, trimming trailing
// zeros. PDF has no syntax for infinities or NaN, so those become 0.
func FormatReal(f float64) string {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "0"
	}
	s := strconv.FormatFloat(f, 'f', 6, 64)
	s = strings.TrimRight(s, "0")
	s = strings.TrimSuffix(s, ".")
	if s == "-0" || s == "" {
		return "0"
	}
	return s
}

func escapeLiteralString(rawBytes []byte) []byte {
	var b bytes.Buffer
	b.WriteByte('(')
	for _, c := range rawBytes {
		switch c {
		case '(', ')', '\\':
			b.WriteByte('\\')
			b.WriteByte(c)
		case '\r':
			b.WriteString(`\r`)
		case '\n':
			b.WriteString(`\n`)
		default:
			b.WriteByte(c)
		}
	}
	b.WriteByte(')')
	return b.Bytes()
}

func pdfNameLiteral(value string) string {
	var b strings.Builder
	for i := 0; i < len(value); i++ {
		ch := value[i]
		if ch > ' ' && ch < 0x7f && !strings.ContainsRune("()<>[]{}/%#", rune(ch)) {
			b.WriteByte(ch)
			continue
		}
		fmt.Fprintf(&b, "#%02X", ch)
	}
	return b.String()
}
