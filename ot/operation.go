package ot

import (
	"fmt"
	"reflect"
	"strings"
	"unicode/utf8"
)

// Attributes are opaque per-character formatting values. A value of false on
// a retain means "remove this attribute".
type Attributes map[string]any

// Equal reports whether a and b hold the same keys and values. Nil and empty
// attributes are equal.
func (a Attributes) Equal(b Attributes) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		w, ok := b[k]
		if !ok || !reflect.DeepEqual(v, w) {
			return false
		}
	}
	return true
}

// Clone returns a shallow copy, or nil for empty attributes.
func (a Attributes) Clone() Attributes {
	if len(a) == 0 {
		return nil
	}
	c := make(Attributes, len(a))
	for k, v := range a {
		c[k] = v
	}
	return c
}

// Kind identifies the type of an Op.
type Kind int

const (
	RetainOp Kind = iota + 1
	InsertOp
	DeleteOp
)

func (k Kind) String() string {
	switch k {
	case RetainOp:
		return "retain"
	case InsertOp:
		return "insert"
	case DeleteOp:
		return "delete"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Op is a single retain, insert or delete.
type Op struct {
	Kind  Kind
	N     int    // retain and delete count
	Text  string // insert text
	Attrs Attributes
}

// Len returns the number of characters the op covers.
func (o Op) Len() int {
	if o.Kind == InsertOp {
		return utf8.RuneCountInString(o.Text)
	}
	return o.N
}

func (o Op) IsRetain() bool { return o.Kind == RetainOp }
func (o Op) IsInsert() bool { return o.Kind == InsertOp }
func (o Op) IsDelete() bool { return o.Kind == DeleteOp }

// Equal compares kind, length, text and attributes.
func (o Op) Equal(p Op) bool {
	return o.Kind == p.Kind && o.N == p.N && o.Text == p.Text && o.Attrs.Equal(p.Attrs)
}

func (o Op) clone() Op {
	o.Attrs = o.Attrs.Clone()
	return o
}

// TextOperation is an immutable sequence of ops in canonical form.
type TextOperation struct {
	ops          []Op
	baseLength   int
	targetLength int
}

// BaseLength is the length of every string the operation applies to.
func (o TextOperation) BaseLength() int { return o.baseLength }

// TargetLength is the length of every string the operation produces.
func (o TextOperation) TargetLength() int { return o.targetLength }

// Len returns the number of ops.
func (o TextOperation) Len() int { return len(o.ops) }

// Ops returns a copy of the ops.
func (o TextOperation) Ops() []Op {
	ops := make([]Op, len(o.ops))
	for i, op := range o.ops {
		ops[i] = op.clone()
	}
	return ops
}

// IsNoop reports whether applying the operation changes nothing.
func (o TextOperation) IsNoop() bool {
	return len(o.ops) == 0 ||
		(len(o.ops) == 1 && o.ops[0].IsRetain() && len(o.ops[0].Attrs) == 0)
}

// Equal reports whether o and p consist of the same ops.
func (o TextOperation) Equal(p TextOperation) bool {
	if o.baseLength != p.baseLength || o.targetLength != p.targetLength || len(o.ops) != len(p.ops) {
		return false
	}
	for i := range o.ops {
		if !o.ops[i].Equal(p.ops[i]) {
			return false
		}
	}
	return true
}

func (o TextOperation) String() string {
	parts := make([]string, len(o.ops))
	for i, op := range o.ops {
		switch op.Kind {
		case RetainOp:
			parts[i] = fmt.Sprintf("retain %d", op.N)
		case InsertOp:
			parts[i] = fmt.Sprintf("insert '%s'", op.Text)
		case DeleteOp:
			parts[i] = fmt.Sprintf("delete %d", op.N)
		}
	}
	return strings.Join(parts, ", ")
}

// Builder accumulates ops into a TextOperation, merging eagerly. The zero
// value is ready to use.
type Builder struct {
	op TextOperation
}

func NewBuilder() *Builder {
	return &Builder{}
}

// Retain skips n characters, applying attrs to them. Panics if n < 0.
func (b *Builder) Retain(n int, attrs Attributes) *Builder {
	if n < 0 {
		panic(fmt.Sprintf("ot: retain expects a non-negative count, got %d", n))
	}
	if n == 0 {
		return b
	}
	b.op.baseLength += n
	b.op.targetLength += n
	if last := b.last(); last != nil && last.IsRetain() && last.Attrs.Equal(attrs) {
		last.N += n
		return b
	}
	b.op.ops = append(b.op.ops, Op{Kind: RetainOp, N: n, Attrs: attrs.Clone()})
	return b
}

// Insert inserts s at the current position.
func (b *Builder) Insert(s string, attrs Attributes) *Builder {
	if s == "" {
		return b
	}
	b.op.targetLength += utf8.RuneCountInString(s)
	ops := b.op.ops
	n := len(ops)
	switch {
	case n > 0 && ops[n-1].IsInsert() && ops[n-1].Attrs.Equal(attrs):
		ops[n-1].Text += s
	case n > 0 && ops[n-1].IsDelete():
		// Inserts always precede deletes at the same position.
		if n > 1 && ops[n-2].IsInsert() && ops[n-2].Attrs.Equal(attrs) {
			ops[n-2].Text += s
		} else {
			del := ops[n-1]
			ops[n-1] = Op{Kind: InsertOp, Text: s, Attrs: attrs.Clone()}
			b.op.ops = append(ops, del)
		}
	default:
		b.op.ops = append(ops, Op{Kind: InsertOp, Text: s, Attrs: attrs.Clone()})
	}
	return b
}

// Delete removes n characters. Panics if n < 0.
func (b *Builder) Delete(n int) *Builder {
	if n < 0 {
		panic(fmt.Sprintf("ot: delete expects a non-negative count, got %d", n))
	}
	if n == 0 {
		return b
	}
	b.op.baseLength += n
	if last := b.last(); last != nil && last.IsDelete() {
		last.N += n
		return b
	}
	b.op.ops = append(b.op.ops, Op{Kind: DeleteOp, N: n})
	return b
}

// DeleteString removes len(s) characters.
func (b *Builder) DeleteString(s string) *Builder {
	return b.Delete(utf8.RuneCountInString(s))
}

// Append adds op through the corresponding builder call.
func (b *Builder) Append(op Op) *Builder {
	switch op.Kind {
	case RetainOp:
		return b.Retain(op.N, op.Attrs)
	case InsertOp:
		return b.Insert(op.Text, op.Attrs)
	case DeleteOp:
		return b.Delete(op.N)
	}
	return b
}

// Build returns the accumulated operation and resets the builder.
func (b *Builder) Build() TextOperation {
	op := b.op
	b.op = TextOperation{}
	return op
}

func (b *Builder) last() *Op {
	if len(b.op.ops) == 0 {
		return nil
	}
	return &b.op.ops[len(b.op.ops)-1]
}
