package ot

import "fmt"

// Compose merges two consecutive operations into one so that
// Apply(Apply(s, a), b) == Apply(s, Compose(a, b)).
func Compose(a, b TextOperation) (TextOperation, error) {
	if a.targetLength != b.baseLength {
		return TextOperation{}, fmt.Errorf("%w: compose target length %d with base length %d",
			ErrIncompatibleLengths, a.targetLength, b.baseLength)
	}
	var out Builder
	s1, s2 := newStream(a.ops), newStream(b.ops)
	for !s1.eof() || !s2.eof() {
		if !s1.eof() && s1.kind() == DeleteOp {
			out.Delete(s1.read(0).N)
			continue
		}
		if !s2.eof() && s2.kind() == InsertOp {
			op := s2.read(0)
			out.Insert(op.Text, op.Attrs)
			continue
		}
		if s1.eof() {
			return TextOperation{}, fmt.Errorf("%w: first operation is too short", ErrIncompatibleLengths)
		}
		if s2.eof() {
			return TextOperation{}, fmt.Errorf("%w: first operation is too long", ErrIncompatibleLengths)
		}
		n := min(s1.remaining(), s2.remaining())
		op1, op2 := s1.read(n), s2.read(n)
		switch {
		case op1.IsRetain() && op2.IsRetain():
			out.Retain(n, composeAttributes(op1.Attrs, op2.Attrs, false))
		case op1.IsInsert() && op2.IsDelete():
			// Inserted then deleted: nothing survives.
		case op1.IsInsert() && op2.IsRetain():
			out.Insert(op1.Text, composeAttributes(op1.Attrs, op2.Attrs, true))
		case op1.IsRetain() && op2.IsDelete():
			out.Delete(n)
		}
	}
	return out.Build(), nil
}

// Compose is shorthand for Compose(o, other).
func (o TextOperation) Compose(other TextOperation) (TextOperation, error) {
	return Compose(o, other)
}

func composeAttributes(first, second Attributes, firstIsInsert bool) Attributes {
	merged := Attributes{}
	for k, v := range first {
		merged[k] = v
	}
	for k, v := range second {
		if firstIsInsert && v == false {
			delete(merged, k)
		} else {
			merged[k] = v
		}
	}
	return merged
}
