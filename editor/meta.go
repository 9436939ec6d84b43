package editor

import (
	"collabtext/ot"
)

// SelfMeta travels with undo entries: the cursor to restore before and
// after the entry is applied.
type SelfMeta struct {
	Before ot.Cursor
	After  ot.Cursor
}

func (m SelfMeta) Invert() any {
	return SelfMeta{Before: m.After, After: m.Before}
}

func (m SelfMeta) Compose(other any) any {
	if o, ok := other.(SelfMeta); ok {
		return SelfMeta{Before: m.Before, After: o.After}
	}
	return m
}

func (m SelfMeta) Transform(op ot.TextOperation) any {
	return SelfMeta{Before: m.Before.Transform(op), After: m.After.Transform(op)}
}
