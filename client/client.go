package client

import (
	"collabtext/ot"
)

// Handler carries out the effects of state transitions.
type Handler interface {
	// SendOperation transmits op to the revision log.
	SendOperation(op ot.TextOperation) error
	// ApplyOperation applies a remote op to the local document.
	ApplyOperation(op ot.TextOperation) error
}

// Client owns the current State and runs each transition's effect through
// its Handler. Not safe for concurrent use.
type Client struct {
	state   State
	handler Handler
}

func New(handler Handler) *Client {
	return &Client{
		state:   synchronized(),
		handler: handler,
	}
}

func (c *Client) State() State {
	return c.state
}

func (c *Client) ApplyClient(op ot.TextOperation) error {
	return c.step(c.state.ApplyClient(op))
}

func (c *Client) ApplyServer(op ot.TextOperation) error {
	return c.step(c.state.ApplyServer(op))
}

func (c *Client) ServerAck() error {
	return c.step(c.state.ServerAck())
}

func (c *Client) ServerRetry() error {
	return c.step(c.state.ServerRetry())
}

// The new state is in place before the effect runs so that handlers observe
// it and may feed further events back in.
func (c *Client) step(next State, effect Effect, err error) error {
	if err != nil {
		return err
	}
	c.state = next
	switch effect.Kind {
	case SendEffect:
		return c.handler.SendOperation(effect.Operation)
	case ApplyEffect:
		return c.handler.ApplyOperation(effect.Operation)
	}
	return nil
}
