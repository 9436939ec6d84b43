package undo

import (
	"errors"
	"testing"

	"github.com/go-playground/assert/v2"

	"collabtext/ot"
)

// doc is a tiny editor: every edit records its inverse in the manager.
type doc struct {
	t    *testing.T
	text string
	m    *Manager
}

func (d *doc) edit(op ot.TextOperation, compose bool) {
	d.t.Helper()
	inv, err := op.Invert(d.text)
	assert.Equal(d.t, err, nil)
	d.text, err = op.Apply(d.text)
	assert.Equal(d.t, err, nil)
	assert.Equal(d.t, d.m.Add(ot.Wrap(inv, nil), compose), nil)
}

func (d *doc) apply(w ot.WrappedOperation) error {
	d.edit(w.Operation, false)
	return nil
}

func newDoc(t *testing.T, text string, cfg *Config) *doc {
	return &doc{t: t, text: text, m: NewManager(cfg)}
}

func TestUndoRedo(t *testing.T) {
	d := newDoc(t, "abc", nil)
	d.edit(ot.NewBuilder().Retain(3, nil).Insert("d", nil).Build(), false)
	d.edit(ot.NewBuilder().Delete(1).Retain(3, nil).Build(), false)
	assert.Equal(t, d.text, "bcd")
	assert.Equal(t, d.m.CanUndo(), true)
	assert.Equal(t, d.m.CanRedo(), false)

	assert.Equal(t, d.m.PerformUndo(d.apply), nil)
	assert.Equal(t, d.text, "abcd")
	assert.Equal(t, d.m.CanRedo(), true)

	assert.Equal(t, d.m.PerformUndo(d.apply), nil)
	assert.Equal(t, d.text, "abc")
	assert.Equal(t, d.m.CanUndo(), false)
	assert.Equal(t, errors.Is(d.m.PerformUndo(d.apply), ErrNothingToUndo), true)

	assert.Equal(t, d.m.PerformRedo(d.apply), nil)
	assert.Equal(t, d.text, "abcd")
	assert.Equal(t, d.m.PerformRedo(d.apply), nil)
	assert.Equal(t, d.text, "bcd")
	assert.Equal(t, errors.Is(d.m.PerformRedo(d.apply), ErrNothingToRedo), true)

	assert.Equal(t, d.m.PerformUndo(d.apply), nil)
	assert.Equal(t, d.text, "abcd")
}

func TestNewEditClearsRedo(t *testing.T) {
	d := newDoc(t, "abc", nil)
	d.edit(ot.NewBuilder().Retain(3, nil).Insert("d", nil).Build(), false)
	assert.Equal(t, d.m.PerformUndo(d.apply), nil)
	assert.Equal(t, d.m.CanRedo(), true)

	d.edit(ot.NewBuilder().Insert("x", nil).Retain(3, nil).Build(), false)
	assert.Equal(t, d.m.CanRedo(), false)
}

func TestStateDuringPerform(t *testing.T) {
	m := NewManager(nil)
	assert.Equal(t, m.Add(ot.Wrap(ot.NewBuilder().Delete(1).Build(), nil), false), nil)
	err := m.PerformUndo(func(ot.WrappedOperation) error {
		assert.Equal(t, m.IsUndoing(), true)
		assert.Equal(t, m.IsRedoing(), false)
		return nil
	})
	assert.Equal(t, err, nil)
	assert.Equal(t, m.IsUndoing(), false)

	fnErr := errors.New("apply failed")
	assert.Equal(t, m.Add(ot.Wrap(ot.NewBuilder().Delete(1).Build(), nil), false), nil)
	assert.Equal(t, m.PerformUndo(func(ot.WrappedOperation) error { return fnErr }), fnErr)
	assert.Equal(t, m.IsUndoing(), false)
}

func TestComposeGroupsEdits(t *testing.T) {
	d := newDoc(t, "abc", nil)
	d.edit(ot.NewBuilder().Retain(3, nil).Insert("d", nil).Build(), false)
	d.edit(ot.NewBuilder().Retain(4, nil).Insert("e", nil).Build(), true)
	assert.Equal(t, d.text, "abcde")

	last, ok := d.m.Last()
	assert.Equal(t, ok, true)
	assert.Equal(t, last.Operation.String(), "retain 3, delete 2")

	assert.Equal(t, d.m.PerformUndo(d.apply), nil)
	assert.Equal(t, d.text, "abc")
	assert.Equal(t, d.m.CanUndo(), false)
}

func TestNoComposeAfterUndo(t *testing.T) {
	d := newDoc(t, "abc", nil)
	d.edit(ot.NewBuilder().Retain(3, nil).Insert("d", nil).Build(), false)
	d.edit(ot.NewBuilder().Retain(4, nil).Insert("e", nil).Build(), false)
	assert.Equal(t, d.m.PerformUndo(d.apply), nil)
	assert.Equal(t, d.text, "abcd")

	// The first edit after an undo starts a new group even when asked to compose.
	d.edit(ot.NewBuilder().Retain(4, nil).Insert("f", nil).Build(), true)
	assert.Equal(t, d.m.PerformUndo(d.apply), nil)
	assert.Equal(t, d.text, "abcd")
}

func TestMaxItems(t *testing.T) {
	d := newDoc(t, "", &Config{MaxItems: 2})
	d.edit(ot.NewBuilder().Insert("a", nil).Build(), false)
	d.edit(ot.NewBuilder().Retain(1, nil).Insert("b", nil).Build(), false)
	d.edit(ot.NewBuilder().Retain(2, nil).Insert("c", nil).Build(), false)

	assert.Equal(t, d.m.PerformUndo(d.apply), nil)
	assert.Equal(t, d.m.PerformUndo(d.apply), nil)
	assert.Equal(t, d.text, "a")
	assert.Equal(t, errors.Is(d.m.PerformUndo(d.apply), ErrNothingToUndo), true)
}

func TestTransformRebasesStacks(t *testing.T) {
	d := newDoc(t, "abc", nil)
	d.edit(ot.NewBuilder().Retain(3, nil).Insert("d", nil).Build(), false)

	// Someone else inserts at the front.
	remote := ot.NewBuilder().Insert("X", nil).Retain(4, nil).Build()
	var err error
	d.text, err = remote.Apply(d.text)
	assert.Equal(t, err, nil)
	assert.Equal(t, d.m.Transform(ot.Wrap(remote, nil)), nil)

	assert.Equal(t, d.m.PerformUndo(d.apply), nil)
	assert.Equal(t, d.text, "Xabc")
	assert.Equal(t, d.m.PerformRedo(d.apply), nil)
	assert.Equal(t, d.text, "Xabcd")
}

func TestTransformDropsNoops(t *testing.T) {
	d := newDoc(t, "abc", nil)
	d.edit(ot.NewBuilder().Retain(1, nil).Insert("x", nil).Retain(2, nil).Build(), false)
	d.edit(ot.NewBuilder().Retain(4, nil).Insert("y", nil).Build(), false)
	assert.Equal(t, d.text, "axbcy")

	// Someone else deletes the "y"; undoing it has nothing left to do.
	remote := ot.NewBuilder().Retain(4, nil).Delete(1).Build()
	var err error
	d.text, err = remote.Apply(d.text)
	assert.Equal(t, err, nil)
	assert.Equal(t, d.m.Transform(ot.Wrap(remote, nil)), nil)

	assert.Equal(t, d.m.PerformUndo(d.apply), nil)
	assert.Equal(t, d.text, "abc")
	assert.Equal(t, d.m.CanUndo(), false)
}
