package contentstream

import (
	"errors"
	"fmt"
	"io"

	"github.com/overview/pdfocr/ir/raw"
	"github.com/overview/pdfocr/scanner"
)

// Operation is one operator with its operands.
type Operation struct {
	Operator string
	Operands []raw.Object
}

// Parse splits a content stream into operations. Inline images are not
// supported.
func Parse(data []byte) ([]Operation, error) {
	s := scanner.New(data, scanner.Config{})
	var ops []Operation
	var operands []raw.Object
	for {
		tok, err := s.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("contentstream: %w", err)
		}
		if tok.Type == scanner.TokenKeyword {
			if tok.Str == "BI" {
				return nil, fmt.Errorf("contentstream: inline image at offset %d", tok.Pos)
			}
			ops = append(ops, Operation{Operator: tok.Str, Operands: operands})
			operands = nil
			continue
		}
		obj, err := raw.ParseToken(s, tok)
		if err != nil {
			return nil, fmt.Errorf("contentstream: offset %d: %w", tok.Pos, err)
		}
		operands = append(operands, obj)
	}
	if len(operands) > 0 {
		return nil, errors.New("contentstream: operands without operator at end of stream")
	}
	return ops, nil
}

// TextMatrices returns the matrices set by each Tm operator, in order.
func TextMatrices(ops []Operation) [][6]float64 {
	var out [][6]float64
	for _, op := range ops {
		if op.Operator != "Tm" || len(op.Operands) != 6 {
			continue
		}
		var m [6]float64
		for i, o := range op.Operands {
			m[i], _ = raw.NumberValue(o)
		}
		out = append(out, m)
	}
	return out
}
