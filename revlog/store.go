// Package revlog linearizes concurrent edits through a shared append-only
// revision log. Each revision lives under a sortable id; a client claims the
// next id with a write-only-if-empty commit and learns whether it won by
// watching the log.
package revlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

var (
	ErrNotFound           = errors.New("revlog: not found")
	ErrClosed             = errors.New("revlog: session closed")
	ErrCorruptRevisionID  = errors.New("revlog: corrupt revision id")
	ErrMissingAuthor      = errors.New("revlog: revision has no author")
	ErrSubscriptionClosed = errors.New("revlog: subscription closed")
	ErrCommitAbandoned    = errors.New("revlog: commit abandoned after repeated disconnects")
)

const CheckpointPath = "checkpoint"

// UserPath is where per-user presence values are written.
func UserPath(author, field string) string {
	return fmt.Sprintf("users/%s/%s", author, field)
}

// Record is the persisted form of a revision. Operation holds the wire form
// and is only decoded, and validated, by the session that replays it.
type Record struct {
	Author    string          `json:"a"`
	Operation json.RawMessage `json:"o"`
	Timestamp int64           `json:"t,omitempty"`
}

// Checkpoint is a whole-document operation summarizing every revision up to
// and including ID.
type Checkpoint struct {
	ID        string          `json:"id"`
	Author    string          `json:"a"`
	Operation json.RawMessage `json:"o"`
}

type Entry struct {
	ID     string
	Record Record
}

type Outcome int

const (
	// Committed: the slot was empty and now holds the record.
	Committed Outcome = iota + 1
	// Occupied: another record already holds the slot.
	Occupied
	// Disconnected: the attempt was cut off and may or may not have landed.
	// Resubmitting the identical record is safe.
	Disconnected
)

func (o Outcome) String() string {
	switch o {
	case Committed:
		return "committed"
	case Occupied:
		return "occupied"
	case Disconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Store is the append-only log a document is kept in. A non-nil error from
// TryCommit is fatal; transient failures are reported as Disconnected.
type Store interface {
	TryCommit(ctx context.Context, id string, rec Record) (Outcome, error)
	// SubscribeAppends returns every entry with an id at or after fromID,
	// sorted, followed by a live feed of later appends. The live channel is
	// closed when the subscription ends.
	SubscribeAppends(ctx context.Context, fromID string) (*Subscription, error)
	// ReadOnce returns ErrNotFound when nothing was written at path.
	ReadOnce(ctx context.Context, path string) ([]byte, error)
	Write(ctx context.Context, path string, value []byte) error
}

type Subscription struct {
	Backlog []Entry
	Live    <-chan Entry

	closeOnce sync.Once
	closeFn   func()
}

func NewSubscription(backlog []Entry, live <-chan Entry, closeFn func()) *Subscription {
	return &Subscription{
		Backlog: backlog,
		Live:    live,
		closeFn: closeFn,
	}
}

func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		if s.closeFn != nil {
			s.closeFn()
		}
	})
}
