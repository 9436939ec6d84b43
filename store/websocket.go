package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"collabtext/revlog"
)

var ErrGatewayClosed = errors.New("store: gateway connection closed")

// WebSocketStore is a revlog.Store served by a gateway over one websocket
// connection. It backs a single session: closing its subscription closes
// the connection.
type WebSocketStore struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	mu      sync.Mutex
	seq     uint64
	waiting map[uint64]chan Frame
	live    chan revlog.Entry

	closed    chan struct{}
	closeOnce sync.Once
}

// DialWebSocket connects to a gateway document URL such as
// ws://host:8081/docs/notes/ws.
func DialWebSocket(ctx context.Context, url string) (*WebSocketStore, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("store: dial %s: %w", url, err)
	}
	s := &WebSocketStore{
		conn:    conn,
		waiting: map[uint64]chan Frame{},
		closed:  make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

func (s *WebSocketStore) readLoop() {
	defer s.shutdown()
	for {
		var f Frame
		if err := s.conn.ReadJSON(&f); err != nil {
			select {
			case <-s.closed:
			default:
				glog.Warningf("[store] gateway read: %v", err)
			}
			return
		}
		if f.Type == FrameAppend {
			if f.Record == nil {
				continue
			}
			s.mu.Lock()
			live := s.live
			s.mu.Unlock()
			if live == nil {
				continue
			}
			select {
			case live <- revlog.Entry{ID: f.ID, Record: *f.Record}:
			case <-s.closed:
				return
			}
			continue
		}
		s.mu.Lock()
		ch, ok := s.waiting[f.Seq]
		delete(s.waiting, f.Seq)
		s.mu.Unlock()
		if ok {
			ch <- f
		}
	}
}

// shutdown fails every request still waiting and ends the subscription.
func (s *WebSocketStore) shutdown() {
	s.Close()
	s.mu.Lock()
	defer s.mu.Unlock()
	for seq, ch := range s.waiting {
		close(ch)
		delete(s.waiting, seq)
	}
	if s.live != nil {
		close(s.live)
		s.live = nil
	}
}

// Close closes the connection.
func (s *WebSocketStore) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.conn.Close()
	})
}

func (s *WebSocketStore) request(ctx context.Context, f Frame) (Frame, error) {
	ch := make(chan Frame, 1)
	s.mu.Lock()
	select {
	case <-s.closed:
		s.mu.Unlock()
		return Frame{}, ErrGatewayClosed
	default:
	}
	s.seq++
	f.Seq = s.seq
	s.waiting[f.Seq] = ch
	s.mu.Unlock()

	s.writeMu.Lock()
	err := s.conn.WriteJSON(f)
	s.writeMu.Unlock()
	if err != nil {
		s.mu.Lock()
		delete(s.waiting, f.Seq)
		s.mu.Unlock()
		return Frame{}, fmt.Errorf("%w: %v", ErrGatewayClosed, err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return Frame{}, ErrGatewayClosed
		}
		if resp.Type == FrameError {
			return Frame{}, fmt.Errorf("store: gateway: %s", resp.Error)
		}
		return resp, nil
	case <-ctx.Done():
		s.mu.Lock()
		delete(s.waiting, f.Seq)
		s.mu.Unlock()
		return Frame{}, ctx.Err()
	}
}

func (s *WebSocketStore) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// TryCommit reports Disconnected when the connection drops while the commit
// is in flight, since it may or may not have landed. Once the connection is
// gone every commit fails with ErrGatewayClosed; this store never redials.
func (s *WebSocketStore) TryCommit(ctx context.Context, id string, rec revlog.Record) (revlog.Outcome, error) {
	if s.isClosed() {
		return 0, fmt.Errorf("store: commit %s: %w", id, ErrGatewayClosed)
	}
	resp, err := s.request(ctx, Frame{Type: FrameCommit, ID: id, Record: &rec})
	if errors.Is(err, ErrGatewayClosed) {
		return revlog.Disconnected, nil
	}
	if err != nil {
		return 0, err
	}
	outcome, ok := parseOutcome(resp.Outcome)
	if !ok {
		return 0, fmt.Errorf("store: gateway sent outcome %q", resp.Outcome)
	}
	return outcome, nil
}

func (s *WebSocketStore) SubscribeAppends(ctx context.Context, fromID string) (*revlog.Subscription, error) {
	live := make(chan revlog.Entry, 64)
	s.mu.Lock()
	if s.live != nil {
		s.mu.Unlock()
		return nil, errors.New("store: gateway connection already subscribed")
	}
	s.live = live
	s.mu.Unlock()

	resp, err := s.request(ctx, Frame{Type: FrameSubscribe, ID: fromID})
	if err != nil {
		return nil, err
	}
	backlog := make([]revlog.Entry, len(resp.Entries))
	for i, e := range resp.Entries {
		backlog[i] = revlog.Entry{ID: e.ID, Record: e.Record}
	}
	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.closed:
		}
	}()
	return revlog.NewSubscription(backlog, live, s.Close), nil
}

func (s *WebSocketStore) ReadOnce(ctx context.Context, path string) ([]byte, error) {
	resp, err := s.request(ctx, Frame{Type: FrameRead, Path: path})
	if err != nil {
		return nil, err
	}
	if !resp.Found {
		return nil, revlog.ErrNotFound
	}
	return resp.Value, nil
}

func (s *WebSocketStore) Write(ctx context.Context, path string, value []byte) error {
	_, err := s.request(ctx, Frame{Type: FrameWrite, Path: path, Value: value})
	return err
}
