// Package editor binds a text widget to a shared document: local edits go
// through the client state machine and the undo manager, remote edits come
// back from the revision log session.
package editor

import (
	"context"

	"github.com/golang/glog"
	"github.com/oklog/ulid/v2"

	"collabtext/client"
	"collabtext/ot"
	"collabtext/revlog"
	"collabtext/undo"
)

type Config struct {
	// Author identifies this participant in the log. A fresh ULID when empty.
	Author string
	// DefaultText is written once the session is ready if the document has
	// no history yet.
	DefaultText string
	Undo        *undo.Config
	Session     *revlog.Config
	OnReady     func()
	// OnSynced reports whether every local edit has been committed. It is
	// called after each send and each acknowledgement.
	OnSynced func(synced bool)
}

// Client is the editing participant for one Adapter. Its methods other than
// Run and Do must run on the session loop.
type Client struct {
	cfg     Config
	adapter Adapter
	session *revlog.Session
	state   *client.Client
	undo    *undo.Manager
	cursor  ot.Cursor
	focused bool
}

func New(store revlog.Store, adapter Adapter, cfg Config) *Client {
	if cfg.Author == "" {
		cfg.Author = ulid.Make().String()
	}
	c := &Client{
		cfg:     cfg,
		adapter: adapter,
		undo:    undo.NewManager(cfg.Undo),
	}
	c.state = client.New(stateHandler{c})
	c.session = revlog.NewSession(store, cfg.Author, revlog.HandlerFuncs{
		OnReady:     c.ready,
		OnOperation: c.state.ApplyServer,
		OnAck:       c.ack,
		OnRetry:     c.state.ServerRetry,
	}, cfg.Session)
	adapter.OnLocalChange(c.localChange)
	return c
}

// stateHandler carries out state machine effects.
type stateHandler struct{ c *Client }

func (h stateHandler) SendOperation(op ot.TextOperation) error {
	if err := h.c.session.SendOperation(op, nil); err != nil {
		return err
	}
	h.c.emitSynced()
	return nil
}

func (h stateHandler) ApplyOperation(op ot.TextOperation) error {
	c := h.c
	if err := c.adapter.ApplyOperation(op); err != nil {
		return err
	}
	c.cursor = c.adapter.Cursor()
	return c.undo.Transform(ot.Wrap(op, nil))
}

// Run follows the document until ctx ends or the session fails.
func (c *Client) Run(ctx context.Context) error {
	return c.session.Run(ctx)
}

// Do runs fn on the session loop, where the adapter may be used.
func (c *Client) Do(fn func()) error {
	return c.session.Do(fn)
}

func (c *Client) Author() string { return c.cfg.Author }

func (c *Client) Session() *revlog.Session { return c.session }

func (c *Client) State() client.State { return c.state.State() }

func (c *Client) CanUndo() bool { return c.undo.CanUndo() }

func (c *Client) CanRedo() bool { return c.undo.CanRedo() }

func (c *Client) ready() {
	if err := c.session.SetColor(ColorFromUserID(c.cfg.Author)); err != nil {
		glog.Warningf("[editor] %s: publishing color: %v", c.cfg.Author, err)
	}
	if c.cfg.DefaultText != "" && c.session.IsHistoryEmpty() {
		if err := c.setText(c.cfg.DefaultText); err != nil {
			glog.Errorf("[editor] %s: writing default text: %v", c.cfg.Author, err)
		}
	}
	if c.cfg.OnReady != nil {
		c.cfg.OnReady()
	}
}

// setText replaces the adapter's text as if it had been typed.
func (c *Client) setText(text string) error {
	current := c.adapter.Text()
	op := ot.NewBuilder().DeleteString(current).Insert(text, nil).Build()
	inverse, err := op.Invert(current)
	if err != nil {
		return err
	}
	if err := c.adapter.ApplyOperation(op); err != nil {
		return err
	}
	return c.localChange(op, inverse)
}

func (c *Client) ack() error {
	if err := c.state.ServerAck(); err != nil {
		return err
	}
	if c.focused && c.state.State().Kind == client.Synchronized {
		c.cursor = c.adapter.Cursor()
		c.sendCursor(&c.cursor)
	}
	c.emitSynced()
	return nil
}

func (c *Client) emitSynced() {
	if c.cfg.OnSynced != nil {
		c.cfg.OnSynced(c.state.State().Kind == client.Synchronized)
	}
}

// localChange records the inverse for undo, grouping it with the previous
// entry when the two edits read as one, and hands op to the state machine.
func (c *Client) localChange(op, inverse ot.TextOperation) error {
	before := c.cursor
	c.cursor = c.adapter.Cursor()
	last, ok := c.undo.Last()
	compose := ok && inverse.ShouldBeComposedWithInverted(last.Operation)
	meta := SelfMeta{Before: c.cursor, After: before}
	if err := c.undo.Add(ot.Wrap(inverse, meta), compose); err != nil {
		return err
	}
	return c.state.ApplyClient(op)
}

// Undo reverts the newest undo entry. It returns undo.ErrNothingToUndo when
// there is none.
func (c *Client) Undo() error {
	return c.undo.PerformUndo(c.applyUnredo)
}

// Redo reapplies the newest undone entry. It returns undo.ErrNothingToRedo
// when there is none.
func (c *Client) Redo() error {
	return c.undo.PerformRedo(c.applyUnredo)
}

func (c *Client) applyUnredo(w ot.WrappedOperation) error {
	inverse, err := w.Invert(c.adapter.Text())
	if err != nil {
		return err
	}
	if err := c.undo.Add(inverse, false); err != nil {
		return err
	}
	if err := c.adapter.ApplyOperation(w.Operation); err != nil {
		return err
	}
	if meta, ok := w.Meta.(SelfMeta); ok {
		c.cursor = meta.After
		c.adapter.SetCursor(c.cursor)
	}
	return c.state.ApplyClient(w.Operation)
}

// CursorMoved publishes the adapter's cursor if it changed while focused.
func (c *Client) CursorMoved() {
	old := c.cursor
	c.cursor = c.adapter.Cursor()
	if !c.focused || c.cursor == old {
		return
	}
	c.sendCursor(&c.cursor)
}

func (c *Client) Focus() {
	c.focused = true
	c.cursor = c.adapter.Cursor()
	c.sendCursor(&c.cursor)
}

// Blur clears our published cursor.
func (c *Client) Blur() {
	c.focused = false
	c.sendCursor(nil)
}

// No cursor goes out while local edits are buffered.
func (c *Client) sendCursor(cursor *ot.Cursor) {
	if c.state.State().Kind == client.AwaitingWithBuffer {
		return
	}
	if err := c.session.SendCursor(cursor); err != nil {
		glog.Warningf("[editor] %s: publishing cursor: %v", c.cfg.Author, err)
	}
}
