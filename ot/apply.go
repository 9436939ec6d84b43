package ot

import (
	"fmt"
	"strings"
)

// Apply applies the operation to s.
func (o TextOperation) Apply(s string) (string, error) {
	out, _, err := o.apply(s, nil, false)
	return out, err
}

// ApplyWithAttributes applies the operation to s whose characters carry
// oldAttrs (missing entries are treated as empty). It returns the new string
// and a parallel slice of attributes for each of its characters.
func (o TextOperation) ApplyWithAttributes(s string, oldAttrs []Attributes) (string, []Attributes, error) {
	return o.apply(s, oldAttrs, true)
}

func (o TextOperation) apply(s string, oldAttrs []Attributes, withAttrs bool) (string, []Attributes, error) {
	rs := []rune(s)
	if len(rs) != o.baseLength {
		return "", nil, fmt.Errorf("%w: string has length %d, operation base length is %d",
			ErrLengthMismatch, len(rs), o.baseLength)
	}
	var (
		sb       strings.Builder
		newAttrs []Attributes
		index    int
	)
	if withAttrs {
		newAttrs = make([]Attributes, 0, o.targetLength)
	}
	for _, op := range o.ops {
		switch op.Kind {
		case RetainOp:
			if index+op.N > len(rs) {
				return "", nil, fmt.Errorf("%w: retain %d at %d of %d", ErrRetainOverrun, op.N, index, len(rs))
			}
			sb.WriteString(string(rs[index : index+op.N]))
			if withAttrs {
				for k := 0; k < op.N; k++ {
					var current Attributes
					if index+k < len(oldAttrs) {
						current = oldAttrs[index+k]
					}
					newAttrs = append(newAttrs, mergeRetained(current, op.Attrs))
				}
			}
			index += op.N
		case InsertOp:
			sb.WriteString(op.Text)
			if withAttrs {
				for k := op.Len(); k > 0; k-- {
					newAttrs = append(newAttrs, insertedAttributes(op.Attrs))
				}
			}
		case DeleteOp:
			if index+op.N > len(rs) {
				return "", nil, fmt.Errorf("%w: delete %d at %d of %d", ErrRetainOverrun, op.N, index, len(rs))
			}
			index += op.N
		}
	}
	if index != len(rs) {
		return "", nil, fmt.Errorf("%w: operation consumed %d of %d characters", ErrLengthMismatch, index, len(rs))
	}
	return sb.String(), newAttrs, nil
}

func mergeRetained(current, update Attributes) Attributes {
	merged := Attributes{}
	for k, v := range current {
		merged[k] = v
	}
	for k, v := range update {
		if v == false {
			delete(merged, k)
		} else {
			merged[k] = v
		}
	}
	return merged
}

func insertedAttributes(attrs Attributes) Attributes {
	inserted := Attributes{}
	for k, v := range attrs {
		if v != false {
			inserted[k] = v
		}
	}
	return inserted
}

// Invert returns the operation that undoes o. s must be the string o was
// applied to.
func (o TextOperation) Invert(s string) (TextOperation, error) {
	rs := []rune(s)
	if len(rs) != o.baseLength {
		return TextOperation{}, fmt.Errorf("%w: invert against string of length %d, operation base length is %d",
			ErrLengthMismatch, len(rs), o.baseLength)
	}
	var b Builder
	index := 0
	for _, op := range o.ops {
		switch op.Kind {
		case RetainOp:
			b.Retain(op.N, nil)
			index += op.N
		case InsertOp:
			b.Delete(op.Len())
		case DeleteOp:
			b.Insert(string(rs[index:index+op.N]), nil)
			index += op.N
		}
	}
	return b.Build(), nil
}
