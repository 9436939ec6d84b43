// Package undo keeps the undo and redo stacks of a collaborative editor. The
// stacks hold inverse operations and are transformed against every remote
// operation so they stay applicable to the current document.
package undo

import (
	"errors"

	"collabtext/ot"
)

var (
	ErrNothingToUndo = errors.New("undo: nothing to undo")
	ErrNothingToRedo = errors.New("undo: nothing to redo")
)

type Config struct {
	// MaxItems bounds each stack. The oldest entry is evicted first.
	MaxItems int
}

func DefaultConfig() *Config {
	return &Config{
		MaxItems: 50,
	}
}

type state int

const (
	normal state = iota
	undoing
	redoing
)

// Manager is not safe for concurrent use. Editors drive it from their
// session loop.
type Manager struct {
	cfg         *Config
	state       state
	dontCompose bool
	undoStack   []ot.WrappedOperation
	redoStack   []ot.WrappedOperation
}

func NewManager(cfg *Config) *Manager {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Manager{cfg: cfg}
}

// Add records the inverse of an edit. Inside PerformUndo the entry goes to the
// redo stack, inside PerformRedo to the undo stack. Otherwise it is composed
// onto the newest undo entry when compose is set, or pushed, and the redo
// stack is cleared.
func (m *Manager) Add(op ot.WrappedOperation, compose bool) error {
	switch m.state {
	case undoing:
		m.redoStack = m.push(m.redoStack, op)
		m.dontCompose = true
	case redoing:
		m.undoStack = m.push(m.undoStack, op)
		m.dontCompose = true
	default:
		if !m.dontCompose && compose && len(m.undoStack) > 0 {
			last := m.undoStack[len(m.undoStack)-1]
			composed, err := op.Compose(last)
			if err != nil {
				return err
			}
			m.undoStack[len(m.undoStack)-1] = composed
		} else {
			m.undoStack = m.push(m.undoStack, op)
		}
		m.dontCompose = false
		m.redoStack = nil
	}
	return nil
}

func (m *Manager) push(stack []ot.WrappedOperation, op ot.WrappedOperation) []ot.WrappedOperation {
	stack = append(stack, op)
	if m.cfg.MaxItems > 0 && len(stack) > m.cfg.MaxItems {
		stack = stack[len(stack)-m.cfg.MaxItems:]
	}
	return stack
}

// Transform rebases both stacks on op, an operation applied to the document
// by someone else.
func (m *Manager) Transform(op ot.WrappedOperation) error {
	undoStack, err := transformStack(m.undoStack, op)
	if err != nil {
		return err
	}
	redoStack, err := transformStack(m.redoStack, op)
	if err != nil {
		return err
	}
	m.undoStack, m.redoStack = undoStack, redoStack
	return nil
}

// transformStack walks from the newest entry down. Each entry is transformed
// against op, and op against the entry, before moving to the next older one.
func transformStack(stack []ot.WrappedOperation, op ot.WrappedOperation) ([]ot.WrappedOperation, error) {
	out := make([]ot.WrappedOperation, 0, len(stack))
	for i := len(stack) - 1; i >= 0; i-- {
		entry, next, err := ot.TransformWrapped(stack[i], op)
		if err != nil {
			return nil, err
		}
		if !entry.IsNoop() {
			out = append(out, entry)
		}
		op = next
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// PerformUndo pops the newest undo entry and hands it to fn. Whatever fn adds
// to the manager lands on the redo stack.
func (m *Manager) PerformUndo(fn func(ot.WrappedOperation) error) error {
	if len(m.undoStack) == 0 {
		return ErrNothingToUndo
	}
	op := m.undoStack[len(m.undoStack)-1]
	m.undoStack = m.undoStack[:len(m.undoStack)-1]
	m.state = undoing
	defer func() { m.state = normal }()
	return fn(op)
}

// PerformRedo is PerformUndo for the redo stack.
func (m *Manager) PerformRedo(fn func(ot.WrappedOperation) error) error {
	if len(m.redoStack) == 0 {
		return ErrNothingToRedo
	}
	op := m.redoStack[len(m.redoStack)-1]
	m.redoStack = m.redoStack[:len(m.redoStack)-1]
	m.state = redoing
	defer func() { m.state = normal }()
	return fn(op)
}

func (m *Manager) CanUndo() bool   { return len(m.undoStack) > 0 }
func (m *Manager) CanRedo() bool   { return len(m.redoStack) > 0 }
func (m *Manager) IsUndoing() bool { return m.state == undoing }
func (m *Manager) IsRedoing() bool { return m.state == redoing }

// Last returns the newest undo entry.
func (m *Manager) Last() (ot.WrappedOperation, bool) {
	if len(m.undoStack) == 0 {
		return ot.WrappedOperation{}, false
	}
	return m.undoStack[len(m.undoStack)-1], true
}
