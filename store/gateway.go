package store

import (
	"context"
	"errors"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"collabtext/revlog"
)

const gatewaySendBuffer = 256

// ServeGateway answers the frames read from conn with calls on backend,
// and pushes backend appends to the peer once it subscribed. It returns
// when the connection fails or ctx ends.
func ServeGateway(ctx context.Context, conn *websocket.Conn, backend revlog.Store) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	send := make(chan Frame, gatewaySendBuffer)
	reply := func(f Frame) {
		select {
		case send <- f:
		case <-ctx.Done():
		}
	}
	go func() {
		defer cancel()
		writePump(ctx, conn, send)
	}()
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	subscribed := false
	for {
		var f Frame
		if err := conn.ReadJSON(&f); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		switch f.Type {
		case FrameCommit:
			if f.Record == nil {
				reply(Frame{Type: FrameError, Seq: f.Seq, Error: "commit without record"})
				continue
			}
			go func(f Frame) {
				outcome, err := backend.TryCommit(ctx, f.ID, *f.Record)
				if err != nil {
					glog.Errorf("[gateway] commit %s: %v", f.ID, err)
					reply(Frame{Type: FrameError, Seq: f.Seq, Error: err.Error()})
					return
				}
				reply(Frame{Type: FrameCommitResult, Seq: f.Seq, Outcome: outcome.String()})
			}(f)

		case FrameSubscribe:
			if subscribed {
				reply(Frame{Type: FrameError, Seq: f.Seq, Error: "already subscribed"})
				continue
			}
			subscribed = true
			sub, err := backend.SubscribeAppends(ctx, f.ID)
			if err != nil {
				reply(Frame{Type: FrameError, Seq: f.Seq, Error: err.Error()})
				continue
			}
			entries := make([]FrameEntry, len(sub.Backlog))
			for i, e := range sub.Backlog {
				entries[i] = FrameEntry{ID: e.ID, Record: e.Record}
			}
			reply(Frame{Type: FrameBacklog, Seq: f.Seq, Entries: entries})
			go func() {
				defer sub.Close()
				for e := range sub.Live {
					rec := e.Record
					reply(Frame{Type: FrameAppend, ID: e.ID, Record: &rec})
				}
			}()

		case FrameRead:
			go func(f Frame) {
				value, err := backend.ReadOnce(ctx, f.Path)
				switch {
				case errors.Is(err, revlog.ErrNotFound):
					reply(Frame{Type: FrameValue, Seq: f.Seq, Path: f.Path})
				case err != nil:
					reply(Frame{Type: FrameError, Seq: f.Seq, Error: err.Error()})
				default:
					reply(Frame{Type: FrameValue, Seq: f.Seq, Path: f.Path, Value: value, Found: true})
				}
			}(f)

		case FrameWrite:
			go func(f Frame) {
				if err := backend.Write(ctx, f.Path, f.Value); err != nil {
					reply(Frame{Type: FrameError, Seq: f.Seq, Error: err.Error()})
					return
				}
				reply(Frame{Type: FrameWritten, Seq: f.Seq, Path: f.Path})
			}(f)

		default:
			glog.Warningf("[gateway] unknown frame type %q", f.Type)
			reply(Frame{Type: FrameError, Seq: f.Seq, Error: "unknown frame type " + f.Type})
		}
	}
}

func writePump(ctx context.Context, conn *websocket.Conn, send <-chan Frame) {
	for {
		select {
		case f := <-send:
			if err := conn.WriteJSON(f); err != nil {
				glog.V(1).Infof("[gateway] write: %v", err)
				return
			}
		case <-ctx.Done():
			conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}
