package raw

import (
	"errors"
	"fmt"

	"github.com/overview/pdfocr/scanner"
)

// MaxNesting bounds array and dictionary nesting while parsing.
const MaxNesting = 256

// ErrNotObject is returned when an indirect object header is missing or does
// not match the expected number.
var ErrNotObject = errors.New("no object header")

// ParseObject reads one direct object from s.
func ParseObject(s scanner.Scanner) (Object, error) {
	tok, err := s.Next()
	if err != nil {
		return nil, err
	}
	return parseFrom(s, tok, 0)
}

// ParseToken builds the object that begins with tok, reading the rest of a
// compound object from s.
func ParseToken(s scanner.Scanner, tok scanner.Token) (Object, error) {
	return parseFrom(s, tok, 0)
}

// ParseIndirect reads "num gen obj ... endobj" starting at offset. lengthOf
// returns the declared length of a stream dictionary, or -1 when unknown.
func ParseIndirect(s scanner.Scanner, offset int64, lengthOf func(*DictObj) int64) (ObjectRef, Object, error) {
	if err := s.Seek(offset); err != nil {
		return ObjectRef{}, nil, err
	}
	num, err := s.Next()
	if err != nil {
		return ObjectRef{}, nil, err
	}
	gen, err := s.Next()
	if err != nil {
		return ObjectRef{}, nil, err
	}
	kw, err := s.Next()
	if err != nil {
		return ObjectRef{}, nil, err
	}
	if num.Type != scanner.TokenNumber || !num.IsInt || gen.Type != scanner.TokenNumber || !gen.IsInt ||
		kw.Type != scanner.TokenKeyword || kw.Str != "obj" {
		return ObjectRef{}, nil, fmt.Errorf("%w at offset %d", ErrNotObject, offset)
	}
	ref := ObjectRef{Num: int(num.Int), Gen: int(gen.Int)}
	obj, err := ParseObject(s)
	if err != nil {
		return ref, nil, fmt.Errorf("object %v: %w", ref, err)
	}
	dict, ok := obj.(*DictObj)
	if !ok {
		return ref, obj, nil
	}
	length := int64(-1)
	if lengthOf != nil {
		length = lengthOf(dict)
	}
	s.SetNextStreamLength(length)
	tok, err := s.Next()
	s.SetNextStreamLength(-1)
	if err != nil || tok.Type != scanner.TokenStream {
		return ref, dict, nil
	}
	return ref, NewStream(dict, tok.Bytes), nil
}

func parseFrom(s scanner.Scanner, tok scanner.Token, depth int) (Object, error) {
	switch tok.Type {
	case scanner.TokenName:
		return NameObj{Val: tok.Str}, nil
	case scanner.TokenNumber:
		if tok.IsInt {
			return NumberObj{I: tok.Int, IsInt: true}, nil
		}
		return NumberObj{F: tok.Float}, nil
	case scanner.TokenBoolean:
		return BoolObj{V: tok.Bool}, nil
	case scanner.TokenNull:
		return NullObj{}, nil
	case scanner.TokenString:
		return StringObj{Bytes: tok.Bytes, Hex: tok.Hex}, nil
	case scanner.TokenRef:
		return RefObj{R: ObjectRef{Num: tok.Num, Gen: tok.Gen}}, nil
	case scanner.TokenArray:
		if depth >= MaxNesting {
			return nil, errors.New("nesting too deep")
		}
		return parseArray(s, depth+1)
	case scanner.TokenDict:
		if depth >= MaxNesting {
			return nil, errors.New("nesting too deep")
		}
		return parseDict(s, depth+1)
	}
	return nil, fmt.Errorf("unexpected token %v at offset %d", tok, tok.Pos)
}

func parseArray(s scanner.Scanner, depth int) (Object, error) {
	arr := &ArrayObj{}
	for {
		tok, err := s.Next()
		if err != nil {
			return nil, fmt.Errorf("unterminated array: %w", err)
		}
		if tok.Type == scanner.TokenKeyword && tok.Str == "]" {
			return arr, nil
		}
		item, err := parseFrom(s, tok, depth)
		if err != nil {
			return nil, err
		}
		arr.Append(item)
	}
}

func parseDict(s scanner.Scanner, depth int) (Object, error) {
	d := Dict()
	for {
		tok, err := s.Next()
		if err != nil {
			return nil, fmt.Errorf("unterminated dictionary: %w", err)
		}
		if tok.Type == scanner.TokenKeyword && tok.Str == ">>" {
			return d, nil
		}
		if tok.Type != scanner.TokenName {
			return nil, fmt.Errorf("expected name in dict, got %v at offset %d", tok, tok.Pos)
		}
		valTok, err := s.Next()
		if err != nil {
			return nil, fmt.Errorf("unterminated dictionary: %w", err)
		}
		val, err := parseFrom(s, valTok, depth)
		if err != nil {
			return nil, err
		}
		// A null value is equivalent to an absent key.
		if _, isNull := val.(NullObj); !isNull {
			d.Set(tok.Str, val)
		}
	}
}
