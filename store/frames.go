package store

import (
	"collabtext/revlog"
)

// Frame types exchanged between WebSocketStore and the gateway. Requests
// carry a Seq that the matching response repeats; append frames are pushed
// without one.
const (
	FrameCommit       = "commit"
	FrameCommitResult = "commitResult"
	FrameSubscribe    = "subscribe"
	FrameBacklog      = "backlog"
	FrameAppend       = "append"
	FrameRead         = "read"
	FrameValue        = "value"
	FrameWrite        = "write"
	FrameWritten      = "written"
	FrameError        = "error"
)

type Frame struct {
	Type    string         `json:"type"`
	Seq     uint64         `json:"seq,omitempty"`
	ID      string         `json:"id,omitempty"`
	Record  *revlog.Record `json:"record,omitempty"`
	Entries []FrameEntry   `json:"entries,omitempty"`
	Outcome string         `json:"outcome,omitempty"`
	Path    string         `json:"path,omitempty"`
	Value   []byte         `json:"value,omitempty"`
	Found   bool           `json:"found,omitempty"`
	Error   string         `json:"error,omitempty"`
}

type FrameEntry struct {
	ID     string        `json:"id"`
	Record revlog.Record `json:"record"`
}

func parseOutcome(s string) (revlog.Outcome, bool) {
	for _, o := range []revlog.Outcome{revlog.Committed, revlog.Occupied, revlog.Disconnected} {
		if o.String() == s {
			return o, true
		}
	}
	return 0, false
}
