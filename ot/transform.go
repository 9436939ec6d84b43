package ot

import (
	"fmt"
	"reflect"
)

// Transform takes two concurrent operations a and b with the same base length
// and returns (a', b') such that Apply(Apply(s, a), b') == Apply(Apply(s, b), a').
//
// Inserts at the same position are ordered by argument: a's insert goes first.
// On retain/retain attribute conflicts a's value wins.
func Transform(a, b TextOperation) (TextOperation, TextOperation, error) {
	if a.baseLength != b.baseLength {
		return TextOperation{}, TextOperation{}, fmt.Errorf("%w: transform base lengths %d and %d",
			ErrIncompatibleLengths, a.baseLength, b.baseLength)
	}
	var aPrime, bPrime Builder
	s1, s2 := newStream(a.ops), newStream(b.ops)
	for !s1.eof() || !s2.eof() {
		if !s1.eof() && s1.kind() == InsertOp {
			op := s1.read(0)
			aPrime.Insert(op.Text, op.Attrs)
			bPrime.Retain(op.Len(), nil)
			continue
		}
		if !s2.eof() && s2.kind() == InsertOp {
			op := s2.read(0)
			aPrime.Retain(op.Len(), nil)
			bPrime.Insert(op.Text, op.Attrs)
			continue
		}
		if s1.eof() {
			return TextOperation{}, TextOperation{}, fmt.Errorf("%w: first operation is too short", ErrIncompatibleLengths)
		}
		if s2.eof() {
			return TextOperation{}, TextOperation{}, fmt.Errorf("%w: first operation is too long", ErrIncompatibleLengths)
		}
		n := min(s1.remaining(), s2.remaining())
		op1, op2 := s1.read(n), s2.read(n)
		switch {
		case op1.IsRetain() && op2.IsRetain():
			attrs1, attrs2 := transformAttributes(op1.Attrs, op2.Attrs)
			aPrime.Retain(n, attrs1)
			bPrime.Retain(n, attrs2)
		case op1.IsDelete() && op2.IsDelete():
			// Both deleted the same characters.
		case op1.IsDelete() && op2.IsRetain():
			aPrime.Delete(n)
		case op1.IsRetain() && op2.IsDelete():
			bPrime.Delete(n)
		}
	}
	return aPrime.Build(), bPrime.Build(), nil
}

// Transform is shorthand for Transform(o, other).
func (o TextOperation) Transform(other TextOperation) (TextOperation, TextOperation, error) {
	return Transform(o, other)
}

func transformAttributes(attrs1, attrs2 Attributes) (Attributes, Attributes) {
	prime1, prime2 := Attributes{}, Attributes{}
	for k, v1 := range attrs1 {
		v2, ok := attrs2[k]
		if !ok || !reflect.DeepEqual(v1, v2) {
			prime1[k] = v1
		}
	}
	for k, v2 := range attrs2 {
		if _, ok := attrs1[k]; !ok {
			prime2[k] = v2
		}
	}
	return prime1, prime2
}
