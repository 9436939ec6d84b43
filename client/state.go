// Package client is the per-peer synchronization state machine. It decides
// when a local edit can be sent, when it has to wait behind the operation
// already in flight, and how remote edits are rebased on top of both.
package client

import (
	"errors"
	"fmt"

	"collabtext/ot"
)

var ErrInvalidStateTransition = errors.New("client: invalid state transition")

type Kind int

const (
	// Synchronized: nothing in flight.
	Synchronized Kind = iota
	// AwaitingConfirm: Outstanding was sent and is not acknowledged yet.
	AwaitingConfirm
	// AwaitingWithBuffer: as AwaitingConfirm, with later local edits
	// composed into Buffer.
	AwaitingWithBuffer
)

func (k Kind) String() string {
	switch k {
	case Synchronized:
		return "Synchronized"
	case AwaitingConfirm:
		return "AwaitingConfirm"
	case AwaitingWithBuffer:
		return "AwaitingWithBuffer"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// State is replaced on every transition, never mutated.
type State struct {
	Kind        Kind
	Outstanding ot.TextOperation
	Buffer      ot.TextOperation
}

func (s State) String() string {
	switch s.Kind {
	case AwaitingConfirm:
		return fmt.Sprintf("AwaitingConfirm(%s)", s.Outstanding)
	case AwaitingWithBuffer:
		return fmt.Sprintf("AwaitingWithBuffer(%s | %s)", s.Outstanding, s.Buffer)
	default:
		return s.Kind.String()
	}
}

type EffectKind int

const (
	NoEffect EffectKind = iota
	// SendEffect: transmit Operation to the revision log.
	SendEffect
	// ApplyEffect: apply Operation to the local document.
	ApplyEffect
)

type Effect struct {
	Kind      EffectKind
	Operation ot.TextOperation
}

func send(op ot.TextOperation) Effect  { return Effect{Kind: SendEffect, Operation: op} }
func apply(op ot.TextOperation) Effect { return Effect{Kind: ApplyEffect, Operation: op} }

func synchronized() State { return State{Kind: Synchronized} }

func awaitingConfirm(outstanding ot.TextOperation) State {
	return State{Kind: AwaitingConfirm, Outstanding: outstanding}
}

func awaitingWithBuffer(outstanding, buffer ot.TextOperation) State {
	return State{Kind: AwaitingWithBuffer, Outstanding: outstanding, Buffer: buffer}
}

// ApplyClient handles an edit made locally.
func (s State) ApplyClient(op ot.TextOperation) (State, Effect, error) {
	switch s.Kind {
	case Synchronized:
		return awaitingConfirm(op), send(op), nil
	case AwaitingConfirm:
		return awaitingWithBuffer(s.Outstanding, op), Effect{}, nil
	case AwaitingWithBuffer:
		buffer, err := s.Buffer.Compose(op)
		if err != nil {
			return s, Effect{}, err
		}
		return awaitingWithBuffer(s.Outstanding, buffer), Effect{}, nil
	}
	return s, Effect{}, fmt.Errorf("%w: unknown state %s", ErrInvalidStateTransition, s.Kind)
}

// ApplyServer handles an edit committed by someone else. The pending local
// operations are always the first transform argument, so their inserts win
// ties at the same position.
func (s State) ApplyServer(op ot.TextOperation) (State, Effect, error) {
	switch s.Kind {
	case Synchronized:
		return s, apply(op), nil
	case AwaitingConfirm:
		outstanding, remote, err := ot.Transform(s.Outstanding, op)
		if err != nil {
			return s, Effect{}, err
		}
		return awaitingConfirm(outstanding), apply(remote), nil
	case AwaitingWithBuffer:
		outstanding, remote, err := ot.Transform(s.Outstanding, op)
		if err != nil {
			return s, Effect{}, err
		}
		buffer, remote, err := ot.Transform(s.Buffer, remote)
		if err != nil {
			return s, Effect{}, err
		}
		return awaitingWithBuffer(outstanding, buffer), apply(remote), nil
	}
	return s, Effect{}, fmt.Errorf("%w: unknown state %s", ErrInvalidStateTransition, s.Kind)
}

// ServerAck handles the acknowledgement of the outstanding operation.
func (s State) ServerAck() (State, Effect, error) {
	switch s.Kind {
	case AwaitingConfirm:
		return synchronized(), Effect{}, nil
	case AwaitingWithBuffer:
		return awaitingConfirm(s.Buffer), send(s.Buffer), nil
	}
	return s, Effect{}, fmt.Errorf("%w: ack in state %s", ErrInvalidStateTransition, s.Kind)
}

// ServerRetry handles a lost commit race. Everything pending is sent again as
// one operation.
func (s State) ServerRetry() (State, Effect, error) {
	switch s.Kind {
	case AwaitingConfirm:
		return s, send(s.Outstanding), nil
	case AwaitingWithBuffer:
		outstanding, err := s.Outstanding.Compose(s.Buffer)
		if err != nil {
			return s, Effect{}, err
		}
		return awaitingConfirm(outstanding), send(outstanding), nil
	}
	return s, Effect{}, fmt.Errorf("%w: retry in state %s", ErrInvalidStateTransition, s.Kind)
}

// TransformCursor maps a cursor from the server's document into the local
// one by passing it through the pending operations.
func (s State) TransformCursor(c ot.Cursor) ot.Cursor {
	switch s.Kind {
	case AwaitingConfirm:
		return c.Transform(s.Outstanding)
	case AwaitingWithBuffer:
		return c.Transform(s.Outstanding).Transform(s.Buffer)
	}
	return c
}
