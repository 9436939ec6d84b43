package ot

import (
	"encoding/json"
	"errors"
	"math"
	"math/rand"
	"testing"
	"unicode/utf8"

	"github.com/go-playground/assert/v2"
)

const randomIterations = 500

var alphabet = []rune("abcdefghij xyzé世\n")

func randomString(r *rand.Rand, n int) string {
	rs := make([]rune, n)
	for i := range rs {
		rs[i] = alphabet[r.Intn(len(alphabet))]
	}
	return string(rs)
}

func randomAttributes(r *rand.Rand) Attributes {
	switch r.Intn(4) {
	case 0:
		return Attributes{"bold": true}
	case 1:
		return Attributes{"color": "red"}
	default:
		return nil
	}
}

// randomOperation returns an operation that applies to s.
func randomOperation(r *rand.Rand, s string) TextOperation {
	var b Builder
	left := utf8.RuneCountInString(s)
	for left > 0 {
		n := 1 + r.Intn(min(left, 20))
		switch x := r.Float64(); {
		case x < 0.2:
			b.Insert(randomString(r, 1+r.Intn(10)), randomAttributes(r))
		case x < 0.4:
			b.Delete(n)
			left -= n
		default:
			b.Retain(n, randomAttributes(r))
			left -= n
		}
	}
	if r.Float64() < 0.3 {
		b.Insert("1"+randomString(r, 10), nil)
	}
	return b.Build()
}

func mustApply(t *testing.T, op TextOperation, s string) string {
	t.Helper()
	out, err := op.Apply(s)
	if err != nil {
		t.Fatalf("apply %s to %q: %v", op, s, err)
	}
	return out
}

func TestBuilderMerges(t *testing.T) {
	op := NewBuilder().
		Retain(1, nil).
		Retain(2, nil).
		Insert("ab", nil).
		Insert("c", nil).
		Delete(1).
		Delete(2).
		Build()
	assert.Equal(t, op.String(), "retain 3, insert 'abc', delete 3")
	assert.Equal(t, op.BaseLength(), 6)
	assert.Equal(t, op.TargetLength(), 6)
	assert.Equal(t, op.Len(), 3)
}

func TestBuilderDropsEmpty(t *testing.T) {
	op := NewBuilder().Retain(0, nil).Insert("", nil).Delete(0).Build()
	assert.Equal(t, op.Len(), 0)
	assert.Equal(t, op.IsNoop(), true)
}

func TestBuilderInsertBeforeDelete(t *testing.T) {
	a := NewBuilder().Retain(1, nil).Delete(2).Insert("xy", nil).Build()
	b := NewBuilder().Retain(1, nil).Insert("xy", nil).Delete(2).Build()
	assert.Equal(t, a.String(), "retain 1, insert 'xy', delete 2")
	assert.Equal(t, a.Equal(b), true)

	// A trailing insert after a delete merges with an earlier insert.
	c := NewBuilder().Insert("a", nil).Delete(1).Insert("b", nil).Build()
	assert.Equal(t, c.String(), "insert 'ab', delete 1")
}

func TestBuilderAttributesSplitOps(t *testing.T) {
	op := NewBuilder().
		Retain(2, Attributes{"bold": true}).
		Retain(2, Attributes{"bold": true}).
		Retain(1, nil).
		Insert("a", Attributes{"color": "red"}).
		Insert("b", nil).
		Build()
	assert.Equal(t, op.Len(), 4)
	ops := op.Ops()
	assert.Equal(t, ops[0].N, 4)
	assert.Equal(t, ops[2].Text, "a")
	assert.Equal(t, ops[3].Text, "b")
}

func TestBuilderIsolatesCallerAttributes(t *testing.T) {
	attrs := Attributes{"bold": true}
	op := NewBuilder().Retain(1, attrs).Build()
	attrs["bold"] = false
	assert.Equal(t, op.Ops()[0].Attrs["bold"], true)
}

func TestIsNoop(t *testing.T) {
	assert.Equal(t, NewBuilder().Retain(5, nil).Build().IsNoop(), true)
	assert.Equal(t, NewBuilder().Retain(5, Attributes{"bold": true}).Build().IsNoop(), false)
	assert.Equal(t, NewBuilder().Retain(5, nil).Insert("a", nil).Build().IsNoop(), false)
}

func TestApply(t *testing.T) {
	op := NewBuilder().Retain(5, nil).Insert(" world", nil).Build()
	assert.Equal(t, mustApply(t, op, "Hello"), "Hello world")

	op = NewBuilder().Delete(3).Retain(3, nil).Insert("ball", nil).Build()
	assert.Equal(t, mustApply(t, op, "foobar"), "barball")

	// Lengths count code points.
	op = NewBuilder().Retain(1, nil).Delete(1).Insert("界", nil).Build()
	assert.Equal(t, mustApply(t, op, "世é"), "世界")
}

func TestApplyLengthMismatch(t *testing.T) {
	op := NewBuilder().Retain(5, nil).Build()
	_, err := op.Apply("abc")
	assert.Equal(t, errors.Is(err, ErrLengthMismatch), true)
}

func TestApplyRetainOverrun(t *testing.T) {
	op := TextOperation{ops: []Op{{Kind: RetainOp, N: 5}}, baseLength: 3, targetLength: 3}
	_, err := op.Apply("abc")
	assert.Equal(t, errors.Is(err, ErrRetainOverrun), true)
}

func TestApplyWithAttributes(t *testing.T) {
	old := []Attributes{{"bold": true}, nil, {"color": "blue"}}
	op := NewBuilder().
		Retain(1, Attributes{"bold": false}).
		Retain(1, Attributes{"italic": true}).
		Insert("X", Attributes{"color": "red"}).
		Retain(1, nil).
		Build()
	out, attrs, err := op.ApplyWithAttributes("abc", old)
	assert.Equal(t, err, nil)
	assert.Equal(t, out, "abXc")
	assert.Equal(t, len(attrs), 4)
	assert.Equal(t, len(attrs[0]), 0)
	assert.Equal(t, attrs[1].Equal(Attributes{"italic": true}), true)
	assert.Equal(t, attrs[2].Equal(Attributes{"color": "red"}), true)
	assert.Equal(t, attrs[3].Equal(Attributes{"color": "blue"}), true)
}

func TestInvert(t *testing.T) {
	s := "Hello world"
	op := NewBuilder().Retain(6, nil).Delete(5).Insert("there", nil).Build()
	inv, err := op.Invert(s)
	assert.Equal(t, err, nil)
	assert.Equal(t, inv.String(), "retain 6, insert 'world', delete 5")
	assert.Equal(t, inv.BaseLength(), op.TargetLength())
	assert.Equal(t, inv.TargetLength(), op.BaseLength())
	assert.Equal(t, mustApply(t, inv, mustApply(t, op, s)), s)

	_, err = op.Invert("short")
	assert.Equal(t, errors.Is(err, ErrLengthMismatch), true)
}

func TestInvertProperty(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	for i := 0; i < randomIterations; i++ {
		s := randomString(r, r.Intn(50))
		op := randomOperation(r, s)
		inv, err := op.Invert(s)
		assert.Equal(t, err, nil)
		assert.Equal(t, mustApply(t, inv, mustApply(t, op, s)), s)
	}
}

func TestCompose(t *testing.T) {
	a := NewBuilder().Retain(3, nil).Insert("abc", nil).Build()
	b := NewBuilder().Retain(4, nil).Delete(1).Retain(1, nil).Insert("!", nil).Build()
	c, err := Compose(a, b)
	assert.Equal(t, err, nil)
	assert.Equal(t, c.String(), "retain 3, insert 'ac!'")
	assert.Equal(t, mustApply(t, c, "xyz"), "xyzac!")
}

func TestComposeIncompatible(t *testing.T) {
	a := NewBuilder().Insert("abc", nil).Build()
	b := NewBuilder().Retain(2, nil).Build()
	_, err := a.Compose(b)
	assert.Equal(t, errors.Is(err, ErrIncompatibleLengths), true)
	assert.Equal(t, errors.Is(err, ErrLengthMismatch), true)
}

func TestComposeProperty(t *testing.T) {
	r := rand.New(rand.NewSource(2))
	for i := 0; i < randomIterations; i++ {
		s := randomString(r, r.Intn(50))
		a := randomOperation(r, s)
		afterA := mustApply(t, a, s)
		b := randomOperation(r, afterA)
		ab, err := Compose(a, b)
		assert.Equal(t, err, nil)
		assert.Equal(t, ab.BaseLength(), a.BaseLength())
		assert.Equal(t, ab.TargetLength(), b.TargetLength())
		assert.Equal(t, mustApply(t, ab, s), mustApply(t, b, afterA))
	}
}

func TestComposeAttributes(t *testing.T) {
	// An explicit false after an insert drops the inherited attribute.
	a := NewBuilder().Insert("ab", Attributes{"bold": true, "color": "red"}).Build()
	b := NewBuilder().Retain(2, Attributes{"bold": false, "color": "blue"}).Build()
	c, err := Compose(a, b)
	assert.Equal(t, err, nil)
	assert.Equal(t, c.Ops()[0].Attrs.Equal(Attributes{"color": "blue"}), true)

	// Between retains the false survives so it still removes on apply.
	a = NewBuilder().Retain(2, Attributes{"bold": true}).Build()
	c, err = Compose(a, b)
	assert.Equal(t, err, nil)
	assert.Equal(t, c.Ops()[0].Attrs.Equal(Attributes{"bold": false, "color": "blue"}), true)
}

func TestTransformInsertPriority(t *testing.T) {
	a := NewBuilder().Insert("Hi", nil).Build()
	b := NewBuilder().Insert("Yo", nil).Build()
	aPrime, bPrime, err := Transform(a, b)
	assert.Equal(t, err, nil)
	assert.Equal(t, aPrime.String(), "insert 'Hi', retain 2")
	assert.Equal(t, bPrime.String(), "retain 2, insert 'Yo'")
	assert.Equal(t, mustApply(t, bPrime, mustApply(t, a, "")), "HiYo")
	assert.Equal(t, mustApply(t, aPrime, mustApply(t, b, "")), "HiYo")

	// Swapping the arguments swaps the order.
	bPrime, aPrime, err = Transform(b, a)
	assert.Equal(t, err, nil)
	assert.Equal(t, mustApply(t, bPrime, mustApply(t, a, "")), "YoHi")
	assert.Equal(t, mustApply(t, aPrime, mustApply(t, b, "")), "YoHi")
}

func TestTransformOverlappingDeletes(t *testing.T) {
	s := "abcdef"
	a := NewBuilder().Retain(1, nil).Delete(3).Retain(2, nil).Build()
	b := NewBuilder().Retain(2, nil).Delete(3).Retain(1, nil).Build()
	aPrime, bPrime, err := Transform(a, b)
	assert.Equal(t, err, nil)
	assert.Equal(t, aPrime.String(), "retain 1, delete 1, retain 1")
	assert.Equal(t, bPrime.String(), "retain 1, delete 1, retain 1")
	assert.Equal(t, mustApply(t, bPrime, mustApply(t, a, s)), "af")
	assert.Equal(t, mustApply(t, aPrime, mustApply(t, b, s)), "af")
}

func TestTransformAttributeConflict(t *testing.T) {
	s := "ab"
	old := []Attributes{{"bold": true}, nil}
	a := NewBuilder().Retain(2, Attributes{"color": "red", "bold": true}).Build()
	b := NewBuilder().Retain(2, Attributes{"color": "blue", "bold": false}).Build()
	aPrime, bPrime, err := Transform(a, b)
	assert.Equal(t, err, nil)
	assert.Equal(t, aPrime.Ops()[0].Attrs.Equal(Attributes{"color": "red", "bold": true}), true)
	assert.Equal(t, bPrime.IsNoop(), true)

	s1, attrs1, _ := a.ApplyWithAttributes(s, old)
	s1, attrs1, _ = bPrime.ApplyWithAttributes(s1, attrs1)
	s2, attrs2, _ := b.ApplyWithAttributes(s, old)
	s2, attrs2, _ = aPrime.ApplyWithAttributes(s2, attrs2)
	assert.Equal(t, s1, s2)
	for i := range attrs1 {
		assert.Equal(t, attrs1[i].Equal(attrs2[i]), true)
	}
}

func TestTransformIncompatible(t *testing.T) {
	a := NewBuilder().Retain(3, nil).Build()
	b := NewBuilder().Retain(4, nil).Build()
	_, _, err := Transform(a, b)
	assert.Equal(t, errors.Is(err, ErrIncompatibleLengths), true)
}

func TestTransformConvergence(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	for i := 0; i < randomIterations; i++ {
		s := randomString(r, r.Intn(50))
		a := randomOperation(r, s)
		b := randomOperation(r, s)
		aPrime, bPrime, err := a.Transform(b)
		assert.Equal(t, err, nil)
		assert.Equal(t, mustApply(t, bPrime, mustApply(t, a, s)), mustApply(t, aPrime, mustApply(t, b, s)))

		// compose(a, b') == compose(b, a')
		abPrime, err := Compose(a, bPrime)
		assert.Equal(t, err, nil)
		baPrime, err := Compose(b, aPrime)
		assert.Equal(t, err, nil)
		assert.Equal(t, mustApply(t, abPrime, s), mustApply(t, baPrime, s))
	}
}

func TestWireEncoding(t *testing.T) {
	op := NewBuilder().
		Retain(2, nil).
		Insert("hi", Attributes{"bold": true}).
		Delete(3).
		Build()
	data, err := json.Marshal(op)
	assert.Equal(t, err, nil)
	assert.Equal(t, string(data), `[2,{"bold":true},"hi",-3]`)

	var decoded TextOperation
	assert.Equal(t, json.Unmarshal(data, &decoded), nil)
	assert.Equal(t, decoded.Equal(op), true)

	empty, err := json.Marshal(TextOperation{})
	assert.Equal(t, err, nil)
	assert.Equal(t, string(empty), `[0]`)
	assert.Equal(t, json.Unmarshal(empty, &decoded), nil)
	assert.Equal(t, decoded.Len(), 0)
}

func TestFromWireFloatCounts(t *testing.T) {
	// Shape produced by encoding/json into interface{} and by structpb.
	op, err := FromWire([]any{float64(3), "x", float64(-2)})
	assert.Equal(t, err, nil)
	assert.Equal(t, op.String(), "retain 3, insert 'x', delete 2")
}

func TestFromWireMalformed(t *testing.T) {
	cases := []any{
		map[string]any{"x": 1},
		"insert",
		[]any{1.5},
		[]any{map[string]any{"bold": true}},
		[]any{true},
		[]any{nil},
		[]any{float64(1 << 40)},
		[]any{int64(math.MinInt64)},
		[]any{json.Number("-9223372036854775808")},
		[]any{json.Number("4294967296"), "x"},
		[]any{json.Number("99999999999999999999")},
		[]any{float64(2), float64(0), "x"},
	}
	for _, c := range cases {
		_, err := FromWire(c)
		assert.Equal(t, errors.Is(err, ErrMalformedOperation), true)
	}
	for _, raw := range []string{
		`{"o":1}`,
		`[-9223372036854775808]`,
		`[9223372036854775807,"x"]`,
		`[1e300]`,
		`[3,0,-1]`,
	} {
		var op TextOperation
		assert.Equal(t, errors.Is(json.Unmarshal([]byte(raw), &op), ErrMalformedOperation), true)
	}

	// The largest allowed count still decodes.
	var op TextOperation
	assert.Equal(t, json.Unmarshal([]byte(`[2147483647]`), &op), nil)
	assert.Equal(t, op.BaseLength(), math.MaxInt32)
}

func TestShouldBeComposedWith(t *testing.T) {
	// Typing "a" then "b".
	a := NewBuilder().Insert("a", nil).Build()
	b := NewBuilder().Retain(1, nil).Insert("b", nil).Build()
	assert.Equal(t, a.ShouldBeComposedWith(b), true)

	// Typing somewhere else.
	c := NewBuilder().Insert("b", nil).Retain(1, nil).Build()
	assert.Equal(t, a.ShouldBeComposedWith(c), false)

	// Backspace: "abc" -> "ab" -> "a".
	d1 := NewBuilder().Retain(2, nil).Delete(1).Build()
	d2 := NewBuilder().Retain(1, nil).Delete(1).Build()
	assert.Equal(t, d1.ShouldBeComposedWith(d2), true)

	// Delete key: "abc" -> "ac" -> "a".
	k1 := NewBuilder().Retain(1, nil).Delete(1).Retain(1, nil).Build()
	k2 := NewBuilder().Retain(1, nil).Delete(1).Build()
	assert.Equal(t, k1.ShouldBeComposedWith(k2), true)

	// Insert then delete never groups.
	assert.Equal(t, a.ShouldBeComposedWith(d2), false)

	// No-ops always group.
	assert.Equal(t, NewBuilder().Retain(3, nil).Build().ShouldBeComposedWith(c), true)
}

func TestShouldBeComposedWithInverted(t *testing.T) {
	s := "abc"
	pairs := [][2]TextOperation{
		{NewBuilder().Retain(3, nil).Insert("d", nil).Build(), NewBuilder().Retain(4, nil).Insert("e", nil).Build()},
		{NewBuilder().Retain(2, nil).Delete(1).Build(), NewBuilder().Retain(1, nil).Delete(1).Build()},
		{NewBuilder().Retain(1, nil).Delete(1).Retain(1, nil).Build(), NewBuilder().Retain(1, nil).Delete(1).Build()},
		{NewBuilder().Insert("x", nil).Retain(3, nil).Build(), NewBuilder().Retain(4, nil).Insert("y", nil).Build()},
	}
	for _, p := range pairs {
		a, b := p[0], p[1]
		afterA := mustApply(t, a, s)
		invA, err := a.Invert(s)
		assert.Equal(t, err, nil)
		invB, err := b.Invert(afterA)
		assert.Equal(t, err, nil)
		assert.Equal(t, invB.ShouldBeComposedWithInverted(invA), a.ShouldBeComposedWith(b))
	}
}

func TestCursorTransform(t *testing.T) {
	c := NewCursor(3, 3)
	insertBefore := NewBuilder().Insert("xx", nil).Retain(6, nil).Build()
	assert.Equal(t, c.Transform(insertBefore), NewCursor(5, 5))

	insertAfter := NewBuilder().Retain(4, nil).Insert("xx", nil).Retain(2, nil).Build()
	assert.Equal(t, c.Transform(insertAfter), NewCursor(3, 3))

	deleteBefore := NewBuilder().Retain(1, nil).Delete(1).Retain(4, nil).Build()
	assert.Equal(t, c.Transform(deleteBefore), NewCursor(2, 2))

	deleteAround := NewBuilder().Retain(2, nil).Delete(3).Retain(1, nil).Build()
	assert.Equal(t, c.Transform(deleteAround), NewCursor(2, 2))

	sel := NewCursor(1, 4)
	assert.Equal(t, sel.Transform(insertBefore), NewCursor(3, 6))
}

type cursorMeta struct {
	before, after Cursor
}

func (m cursorMeta) Invert() any { return cursorMeta{m.after, m.before} }

func (m cursorMeta) Compose(other any) any {
	return cursorMeta{m.before, other.(cursorMeta).after}
}

func (m cursorMeta) Transform(op TextOperation) any {
	return cursorMeta{m.before.Transform(op), m.after.Transform(op)}
}

func TestWrappedOperation(t *testing.T) {
	s := "abc"
	a := Wrap(NewBuilder().Retain(3, nil).Insert("d", nil).Build(), cursorMeta{NewCursor(3, 3), NewCursor(4, 4)})
	b := Wrap(NewBuilder().Insert("x", nil).Retain(3, nil).Build(), cursorMeta{NewCursor(0, 0), NewCursor(1, 1)})

	aPrime, bPrime, err := TransformWrapped(a, b)
	assert.Equal(t, err, nil)
	assert.Equal(t, aPrime.Meta, cursorMeta{NewCursor(4, 4), NewCursor(5, 5)})
	assert.Equal(t, bPrime.Meta, cursorMeta{NewCursor(0, 0), NewCursor(1, 1)})

	next := Wrap(NewBuilder().Retain(4, nil).Insert("e", nil).Build(), cursorMeta{NewCursor(4, 4), NewCursor(5, 5)})
	ac, err := a.Compose(next)
	assert.Equal(t, err, nil)
	assert.Equal(t, ac.Meta, cursorMeta{NewCursor(3, 3), NewCursor(5, 5)})
	out, err := ac.Apply(s)
	assert.Equal(t, err, nil)
	assert.Equal(t, out, "abcde")

	inv, err := a.Invert(s)
	assert.Equal(t, err, nil)
	assert.Equal(t, inv.Meta, cursorMeta{NewCursor(4, 4), NewCursor(3, 3)})
	assert.Equal(t, inv.Operation.String(), "retain 3, delete 1")
}

func TestWrappedOperationMapMeta(t *testing.T) {
	a := Wrap(NewBuilder().Insert("a", nil).Build(), map[string]any{"x": 1, "y": 1})
	b := Wrap(NewBuilder().Retain(1, nil).Insert("b", nil).Build(), map[string]any{"y": 2})
	c, err := a.Compose(b)
	assert.Equal(t, err, nil)
	assert.Equal(t, c.Meta, map[string]any{"x": 1, "y": 2})

	d := Wrap(NewBuilder().Insert("a", nil).Build(), nil)
	e, err := d.Compose(b)
	assert.Equal(t, err, nil)
	assert.Equal(t, e.Meta, map[string]any{"y": 2})

	inv, err := a.Invert("")
	assert.Equal(t, err, nil)
	assert.Equal(t, inv.Meta, map[string]any{"x": 1, "y": 1})
}
