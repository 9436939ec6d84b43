package editor

import (
	"fmt"
	"unicode/utf8"

	"collabtext/ot"
)

// Adapter is the text widget an editor Client drives.
type Adapter interface {
	Cursor() ot.Cursor
	SetCursor(c ot.Cursor)
	// ApplyOperation applies a remote (or undo/redo) operation without
	// reporting it as a local change.
	ApplyOperation(op ot.TextOperation) error
	Text() string
	// OnLocalChange registers the callback for edits made in the widget.
	OnLocalChange(fn func(op, inverse ot.TextOperation) error)
}

// Buffer is an in-memory Adapter. Like every Adapter it is driven from the
// session loop only.
type Buffer struct {
	text     []rune
	cursor   ot.Cursor
	onChange func(op, inverse ot.TextOperation) error
}

func NewBuffer() *Buffer {
	return &Buffer{}
}

func (b *Buffer) Cursor() ot.Cursor { return b.cursor }

func (b *Buffer) SetCursor(c ot.Cursor) {
	b.cursor = ot.NewCursor(b.clamp(c.Position), b.clamp(c.SelectionEnd))
}

func (b *Buffer) Text() string { return string(b.text) }

// Len is the text length in characters.
func (b *Buffer) Len() int { return len(b.text) }

func (b *Buffer) OnLocalChange(fn func(op, inverse ot.TextOperation) error) {
	b.onChange = fn
}

func (b *Buffer) ApplyOperation(op ot.TextOperation) error {
	text, err := op.Apply(string(b.text))
	if err != nil {
		return err
	}
	b.text = []rune(text)
	b.cursor = b.cursor.Transform(op)
	return nil
}

// Insert types s at pos and leaves the cursor after it.
func (b *Buffer) Insert(pos int, s string) error {
	if pos < 0 || pos > len(b.text) {
		return fmt.Errorf("editor: insert at %d outside text of length %d", pos, len(b.text))
	}
	op := ot.NewBuilder().
		Retain(pos, nil).
		Insert(s, nil).
		Retain(len(b.text)-pos, nil).
		Build()
	end := pos + utf8.RuneCountInString(s)
	return b.local(op, ot.NewCursor(end, end))
}

// Delete removes n characters starting at pos.
func (b *Buffer) Delete(pos, n int) error {
	if pos < 0 || n < 0 || pos+n > len(b.text) {
		return fmt.Errorf("editor: delete %d at %d outside text of length %d", n, pos, len(b.text))
	}
	op := ot.NewBuilder().
		Retain(pos, nil).
		Delete(n).
		Retain(len(b.text)-pos-n, nil).
		Build()
	return b.local(op, ot.NewCursor(pos, pos))
}

// SetText replaces the whole text.
func (b *Buffer) SetText(s string) error {
	op := ot.NewBuilder().Delete(len(b.text)).Insert(s, nil).Build()
	end := utf8.RuneCountInString(s)
	return b.local(op, ot.NewCursor(end, end))
}

func (b *Buffer) local(op ot.TextOperation, cursor ot.Cursor) error {
	before := string(b.text)
	inverse, err := op.Invert(before)
	if err != nil {
		return err
	}
	after, err := op.Apply(before)
	if err != nil {
		return err
	}
	b.text = []rune(after)
	b.cursor = cursor
	if b.onChange != nil {
		return b.onChange(op, inverse)
	}
	return nil
}

func (b *Buffer) clamp(i int) int {
	return max(0, min(i, len(b.text)))
}
