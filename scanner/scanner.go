// Package scanner tokenizes PDF syntax held in memory.
package scanner

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
)

type TokenType int

const (
	TokenDict    TokenType = iota // '<<'
	TokenArray                    // '['
	TokenName                     // '/Name'
	TokenString                   // literal or hex string
	TokenNumber                   // numeric value
	TokenBoolean                  // true/false
	TokenNull                     // null
	TokenRef                      // indirect ref '5 0 R'
	TokenStream                   // 'stream' keyword followed by its payload
	TokenKeyword                  // other keywords (obj, endobj, >>, ], etc.)
)

// Token is a single lexical element. Which value field is set depends on Type.
type Token struct {
	Type  TokenType
	Str   string // names and keywords
	Bytes []byte // strings and stream payloads
	Hex   bool   // string was written in <...> form
	Int   int64
	Float float64
	IsInt bool
	Bool  bool
	Num   int // TokenRef object number
	Gen   int // TokenRef generation
	Pos   int64
}

// Number returns the numeric value of a TokenNumber.
func (t Token) Number() float64 {
	if t.IsInt {
		return float64(t.Int)
	}
	return t.Float
}

func (t Token) String() string {
	switch t.Type {
	case TokenName:
		return "/" + t.Str
	case TokenNumber:
		if t.IsInt {
			return strconv.FormatInt(t.Int, 10)
		}
		return strconv.FormatFloat(t.Float, 'f', -1, 64)
	case TokenRef:
		return fmt.Sprintf("%d %d R", t.Num, t.Gen)
	case TokenString:
		return fmt.Sprintf("(%q)", t.Bytes)
	case TokenStream:
		return fmt.Sprintf("stream[%d]", len(t.Bytes))
	case TokenDict:
		return "<<"
	case TokenArray:
		return "["
	case TokenBoolean:
		return strconv.FormatBool(t.Bool)
	case TokenNull:
		return "null"
	default:
		return t.Str
	}
}

type Scanner interface {
	Next() (Token, error)
	Position() int64
	Seek(offset int64) error
	// SetNextStreamLength tells the scanner how many bytes the next stream
	// payload holds. Without a hint the payload runs to the next endstream.
	SetNextStreamLength(n int64)
}

type Config struct {
	MaxStringLength int64
	MaxStreamLength int64
}

var ErrStreamTooLong = errors.New("stream too long")

type pdfScanner struct {
	data          []byte
	pos           int64
	cfg           Config
	nextStreamLen int64
}

// New returns a scanner over data.
func New(data []byte, cfg Config) Scanner {
	return &pdfScanner{data: data, cfg: cfg, nextStreamLen: -1}
}

func (s *pdfScanner) Position() int64 { return s.pos }

func (s *pdfScanner) Seek(offset int64) error {
	if offset < 0 || offset > int64(len(s.data)) {
		return fmt.Errorf("seek to %d out of range", offset)
	}
	s.pos = offset
	return nil
}

func (s *pdfScanner) SetNextStreamLength(n int64) { s.nextStreamLen = n }

func (s *pdfScanner) Next() (Token, error) {
	s.skipWSAndComments()
	if s.pos >= int64(len(s.data)) {
		return Token{}, io.EOF
	}
	start := s.pos
	c := s.data[s.pos]
	switch c {
	case '<':
		if s.peekAhead(1) == '<' {
			s.pos += 2
			return Token{Type: TokenDict, Str: "<<", Pos: start}, nil
		}
		return s.scanHexString()
	case '>':
		if s.peekAhead(1) == '>' {
			s.pos += 2
			return Token{Type: TokenKeyword, Str: ">>", Pos: start}, nil
		}
		s.pos++
		return Token{Type: TokenKeyword, Str: ">", Pos: start}, nil
	case '[':
		s.pos++
		return Token{Type: TokenArray, Str: "[", Pos: start}, nil
	case ']':
		s.pos++
		return Token{Type: TokenKeyword, Str: "]", Pos: start}, nil
	case '(':
		return s.scanLiteralString()
	case '/':
		return s.scanName(), nil
	}
	if isDigitStart(c) {
		return s.scanNumberOrRef()
	}
	if !isDelimiter(c) {
		return s.scanKeyword()
	}
	s.pos++
	return Token{Type: TokenKeyword, Str: string(c), Pos: start}, nil
}

func (s *pdfScanner) skipWSAndComments() {
	for s.pos < int64(len(s.data)) {
		c := s.data[s.pos]
		if isWhitespace(c) {
			s.pos++
			continue
		}
		if c == '%' {
			for s.pos < int64(len(s.data)) && !isEOL(s.data[s.pos]) {
				s.pos++
			}
			continue
		}
		return
	}
}

func (s *pdfScanner) peekAhead(n int64) byte {
	if s.pos+n >= int64(len(s.data)) {
		return 0
	}
	return s.data[s.pos+n]
}

func (s *pdfScanner) scanName() Token {
	start := s.pos
	s.pos++ // skip '/'
	var out bytes.Buffer
	for s.pos < int64(len(s.data)) {
		c := s.data[s.pos]
		if isDelimiter(c) {
			break
		}
		if c == '#' && s.pos+2 < int64(len(s.data)) && isHex(s.data[s.pos+1]) && isHex(s.data[s.pos+2]) {
			out.WriteByte(fromHex(s.data[s.pos+1])<<4 | fromHex(s.data[s.pos+2]))
			s.pos += 3
			continue
		}
		out.WriteByte(c)
		s.pos++
	}
	return Token{Type: TokenName, Str: out.String(), Pos: start}
}

func (s *pdfScanner) scanLiteralString() (Token, error) {
	start := s.pos
	s.pos++ // skip '('
	var buf bytes.Buffer
	depth := 1
	for s.pos < int64(len(s.data)) {
		c := s.data[s.pos]
		s.pos++
		switch c {
		case '\\':
			if s.pos >= int64(len(s.data)) {
				continue
			}
			esc := s.data[s.pos]
			s.pos++
			switch {
			case esc == '\r':
				// line continuation
				if s.pos < int64(len(s.data)) && s.data[s.pos] == '\n' {
					s.pos++
				}
			case esc == '\n':
			case esc >= '0' && esc <= '7':
				val := int(esc - '0')
				for k := 0; k < 2 && s.pos < int64(len(s.data)); k++ {
					d := s.data[s.pos]
					if d < '0' || d > '7' {
						break
					}
					val = val<<3 + int(d-'0')
					s.pos++
				}
				buf.WriteByte(byte(val))
			default:
				buf.WriteByte(translateEscape(esc))
			}
			continue
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return Token{Type: TokenString, Bytes: buf.Bytes(), Pos: start}, nil
			}
		}
		buf.WriteByte(c)
		if s.cfg.MaxStringLength > 0 && int64(buf.Len()) > s.cfg.MaxStringLength {
			return Token{}, fmt.Errorf("literal string at %d too long", start)
		}
	}
	return Token{}, fmt.Errorf("unterminated literal string at %d", start)
}

func (s *pdfScanner) scanHexString() (Token, error) {
	start := s.pos
	s.pos++ // skip '<'
	var nibbles []byte
	for s.pos < int64(len(s.data)) {
		c := s.data[s.pos]
		s.pos++
		if c == '>' {
			if len(nibbles)%2 == 1 {
				nibbles = append(nibbles, '0')
			}
			if s.cfg.MaxStringLength > 0 && int64(len(nibbles)/2) > s.cfg.MaxStringLength {
				return Token{}, fmt.Errorf("hex string at %d too long", start)
			}
			out := make([]byte, len(nibbles)/2)
			for i := range out {
				out[i] = fromHex(nibbles[2*i])<<4 | fromHex(nibbles[2*i+1])
			}
			return Token{Type: TokenString, Bytes: out, Hex: true, Pos: start}, nil
		}
		if isWhitespace(c) {
			continue
		}
		if !isHex(c) {
			return Token{}, fmt.Errorf("invalid hex digit %q at %d", c, s.pos-1)
		}
		nibbles = append(nibbles, c)
	}
	return Token{}, fmt.Errorf("unterminated hex string at %d", start)
}

func (s *pdfScanner) scanKeyword() (Token, error) {
	start := s.pos
	for s.pos < int64(len(s.data)) && !isDelimiter(s.data[s.pos]) {
		s.pos++
	}
	kw := string(s.data[start:s.pos])
	switch kw {
	case "true", "false":
		return Token{Type: TokenBoolean, Bool: kw == "true", Str: kw, Pos: start}, nil
	case "null":
		return Token{Type: TokenNull, Str: kw, Pos: start}, nil
	case "stream":
		return s.scanStream(start)
	default:
		return Token{Type: TokenKeyword, Str: kw, Pos: start}, nil
	}
}

var endstream = []byte("endstream")

// scanStream reads the payload following the stream keyword. A declared
// length is trusted only when endstream follows it; otherwise the payload
// runs to the next endstream marker.
func (s *pdfScanner) scanStream(start int64) (Token, error) {
	declared := s.nextStreamLen
	s.nextStreamLen = -1
	// The keyword is followed by CRLF or LF; tolerate a bare CR.
	if s.pos < int64(len(s.data)) && s.data[s.pos] == '\r' {
		s.pos++
	}
	if s.pos < int64(len(s.data)) && s.data[s.pos] == '\n' {
		s.pos++
	}
	dataStart := s.pos

	if declared >= 0 {
		if s.cfg.MaxStreamLength > 0 && declared > s.cfg.MaxStreamLength {
			return Token{}, ErrStreamTooLong
		}
		end := dataStart + declared
		if end <= int64(len(s.data)) {
			after := end
			for after < int64(len(s.data)) && isWhitespace(s.data[after]) {
				after++
			}
			if bytes.HasPrefix(s.data[after:], endstream) {
				s.pos = after + int64(len(endstream))
				return Token{Type: TokenStream, Bytes: s.data[dataStart:end], Pos: start}, nil
			}
		}
	}

	idx := bytes.Index(s.data[dataStart:], endstream)
	if idx < 0 {
		return Token{}, fmt.Errorf("stream at %d has no endstream", start)
	}
	end := dataStart + int64(idx)
	s.pos = end + int64(len(endstream))
	// Trim the EOL that precedes the marker.
	if end > dataStart && s.data[end-1] == '\n' {
		end--
	}
	if end > dataStart && s.data[end-1] == '\r' {
		end--
	}
	if s.cfg.MaxStreamLength > 0 && end-dataStart > s.cfg.MaxStreamLength {
		return Token{}, ErrStreamTooLong
	}
	return Token{Type: TokenStream, Bytes: s.data[dataStart:end], Pos: start}, nil
}

func (s *pdfScanner) scanNumberOrRef() (Token, error) {
	start := s.pos
	num1 := s.scanNumberString()
	if num1 == "" {
		s.pos++
		return Token{Type: TokenKeyword, Str: string(s.data[start]), Pos: start}, nil
	}
	// "N G R" is a reference when both numbers are unsigned integers.
	if isUnsignedInt(num1) {
		save := s.pos
		s.skipWSAndComments()
		num2 := s.scanNumberString()
		if isUnsignedInt(num2) {
			s.skipWSAndComments()
			if s.pos < int64(len(s.data)) && s.data[s.pos] == 'R' &&
				(s.pos+1 >= int64(len(s.data)) || isDelimiter(s.data[s.pos+1])) {
				s.pos++
				n1, err1 := strconv.Atoi(num1)
				n2, err2 := strconv.Atoi(num2)
				if err1 == nil && err2 == nil {
					return Token{Type: TokenRef, Num: n1, Gen: n2, Pos: start}, nil
				}
			}
		}
		s.pos = save
	}
	if i, err := strconv.ParseInt(num1, 10, 64); err == nil {
		return Token{Type: TokenNumber, Int: i, IsInt: true, Pos: start}, nil
	}
	f, err := strconv.ParseFloat(normalizeReal(num1), 64)
	if err != nil {
		return Token{}, fmt.Errorf("invalid number %q at %d", num1, start)
	}
	return Token{Type: TokenNumber, Float: f, Pos: start}, nil
}

func (s *pdfScanner) scanNumberString() string {
	start := s.pos
	seenDigit := false
	for s.pos < int64(len(s.data)) {
		c := s.data[s.pos]
		if c >= '0' && c <= '9' {
			seenDigit = true
		} else if c != '+' && c != '-' && c != '.' {
			break
		}
		s.pos++
	}
	if !seenDigit {
		s.pos = start
		return ""
	}
	return string(s.data[start:s.pos])
}

// normalizeReal copes with producers that write "--5" or "5.-".
func normalizeReal(s string) string {
	neg := false
	for len(s) > 0 && (s[0] == '-' || s[0] == '+') {
		neg = neg || s[0] == '-'
		s = s[1:]
	}
	out := make([]byte, 0, len(s)+1)
	if neg {
		out = append(out, '-')
	}
	dot := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
			out = append(out, c)
		case c == '.' && !dot:
			dot = true
			out = append(out, c)
		}
	}
	return string(out)
}

func isUnsignedInt(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func isDigitStart(c byte) bool { return c == '+' || c == '-' || c == '.' || (c >= '0' && c <= '9') }

func isWhitespace(c byte) bool {
	return c == 0x00 || c == 0x09 || c == 0x0A || c == 0x0C || c == 0x0D || c == 0x20
}

func isEOL(c byte) bool { return c == '\r' || c == '\n' }

func isDelimiter(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	default:
		return isWhitespace(c)
	}
}

func isHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func fromHex(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	default:
		return 0
	}
}

func translateEscape(c byte) byte {
	switch c {
	case 'n':
		return '\n'
	case 'r':
		return '\r'
	case 't':
		return '\t'
	case 'b':
		return '\b'
	case 'f':
		return '\f'
	default:
		return c
	}
}
