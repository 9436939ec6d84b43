package ot

// ShouldBeComposedWith reports whether other, applied right after o, continues
// the same edit: consecutive typing, or deleting at the same spot with either
// backspace or the delete key. Undo managers use it to group keystrokes.
func (o TextOperation) ShouldBeComposedWith(other TextOperation) bool {
	if o.IsNoop() || other.IsNoop() {
		return true
	}
	startA, startB := o.startIndex(), other.startIndex()
	simpleA, okA := o.simpleOp()
	simpleB, okB := other.simpleOp()
	if !okA || !okB {
		return false
	}
	if simpleA.IsInsert() && simpleB.IsInsert() {
		return startA+simpleA.Len() == startB
	}
	if simpleA.IsDelete() && simpleB.IsDelete() {
		return startB+simpleB.N == startA || startA == startB
	}
	return false
}

// ShouldBeComposedWithInverted is ShouldBeComposedWith for inverse
// operations: a.ShouldBeComposedWith(b) == inv(b).ShouldBeComposedWithInverted(inv(a)).
func (o TextOperation) ShouldBeComposedWithInverted(other TextOperation) bool {
	if o.IsNoop() || other.IsNoop() {
		return true
	}
	startA, startB := o.startIndex(), other.startIndex()
	simpleA, okA := o.simpleOp()
	simpleB, okB := other.simpleOp()
	if !okA || !okB {
		return false
	}
	if simpleA.IsInsert() && simpleB.IsInsert() {
		return startA+simpleA.Len() == startB || startA == startB
	}
	if simpleA.IsDelete() && simpleB.IsDelete() {
		return startB+simpleB.N == startA
	}
	return false
}

// simpleOp returns the single non-retain op of operations shaped like
// [op], [retain, op], [op, retain] or [retain, op, retain].
func (o TextOperation) simpleOp() (Op, bool) {
	ops := o.ops
	switch len(ops) {
	case 1:
		return ops[0], true
	case 2:
		if ops[0].IsRetain() {
			return ops[1], true
		}
		if ops[1].IsRetain() {
			return ops[0], true
		}
	case 3:
		if ops[0].IsRetain() && ops[2].IsRetain() {
			return ops[1], true
		}
	}
	return Op{}, false
}

func (o TextOperation) startIndex() int {
	if len(o.ops) > 0 && o.ops[0].IsRetain() {
		return o.ops[0].N
	}
	return 0
}
