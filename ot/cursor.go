package ot

// Cursor is a caret or selection, in characters.
type Cursor struct {
	Position     int `json:"position"`
	SelectionEnd int `json:"selectionEnd"`
}

func NewCursor(position, selectionEnd int) Cursor {
	return Cursor{Position: position, SelectionEnd: selectionEnd}
}

// Transform moves the cursor through op, so it points at the same text in
// the document op produces.
func (c Cursor) Transform(op TextOperation) Cursor {
	pos := transformIndex(c.Position, op)
	if c.Position == c.SelectionEnd {
		return Cursor{Position: pos, SelectionEnd: pos}
	}
	return Cursor{Position: pos, SelectionEnd: transformIndex(c.SelectionEnd, op)}
}

func transformIndex(index int, op TextOperation) int {
	newIndex := index
	for _, o := range op.ops {
		switch o.Kind {
		case RetainOp:
			index -= o.N
		case InsertOp:
			newIndex += o.Len()
		case DeleteOp:
			newIndex -= min(index, o.N)
			index -= o.N
		}
		if index < 0 {
			break
		}
	}
	return newIndex
}
