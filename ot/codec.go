package ot

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
)

// ToWire encodes the operation as a JSON-compatible array. Attribute objects
// precede the op they modify and are emitted only when non-empty.
func (o TextOperation) ToWire() []any {
	wire := make([]any, 0, len(o.ops))
	for _, op := range o.ops {
		if len(op.Attrs) > 0 {
			wire = append(wire, map[string]any(op.Attrs.Clone()))
		}
		switch op.Kind {
		case RetainOp:
			wire = append(wire, op.N)
		case InsertOp:
			wire = append(wire, op.Text)
		case DeleteOp:
			wire = append(wire, -op.N)
		}
	}
	// Empty lists are indistinguishable from null in some stores.
	if len(wire) == 0 {
		wire = append(wire, 0)
	}
	return wire
}

// FromWire decodes an operation produced by ToWire, as it appears after a
// JSON or structpb round trip. Errors wrap ErrMalformedOperation.
func FromWire(v any) (TextOperation, error) {
	list, ok := v.([]any)
	if !ok {
		return TextOperation{}, fmt.Errorf("%w: expected array, got %T", ErrMalformedOperation, v)
	}
	var b Builder
	for i := 0; i < len(list); i++ {
		var attrs Attributes
		if m, ok := list[i].(map[string]any); ok {
			attrs = Attributes(m)
			i++
			if i == len(list) {
				return TextOperation{}, fmt.Errorf("%w: attributes without op", ErrMalformedOperation)
			}
		}
		switch x := list[i].(type) {
		case string:
			b.Insert(x, attrs)
		default:
			n, err := wireInt(x)
			if err != nil {
				return TextOperation{}, err
			}
			// Zero only appears as the whole encoding of the empty operation.
			if n == 0 && len(list) != 1 {
				return TextOperation{}, fmt.Errorf("%w: zero count at %d", ErrMalformedOperation, i)
			}
			if n > 0 {
				b.Retain(n, attrs)
			} else {
				b.Delete(-n)
			}
		}
	}
	return b.Build(), nil
}

// wireInt reads a count. Counts beyond MaxInt32 are rejected.
func wireInt(v any) (int, error) {
	var n int64
	switch x := v.(type) {
	case int:
		n = int64(x)
	case int32:
		n = int64(x)
	case int64:
		n = x
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) || x != math.Trunc(x) || math.Abs(x) > math.MaxInt32 {
			return 0, fmt.Errorf("%w: bad count %v", ErrMalformedOperation, x)
		}
		n = int64(x)
	case json.Number:
		i, err := x.Int64()
		if err != nil {
			return 0, fmt.Errorf("%w: bad count %q", ErrMalformedOperation, x.String())
		}
		n = i
	default:
		return 0, fmt.Errorf("%w: unexpected element %T", ErrMalformedOperation, v)
	}
	if n > math.MaxInt32 || n < -math.MaxInt32 {
		return 0, fmt.Errorf("%w: count %d out of range", ErrMalformedOperation, n)
	}
	return int(n), nil
}

func (o TextOperation) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.ToWire())
}

func (o *TextOperation) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedOperation, err)
	}
	op, err := FromWire(v)
	if err != nil {
		return err
	}
	*o = op
	return nil
}
