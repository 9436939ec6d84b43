package main

import (
	"fmt"

	"collabtext/editor"
)

// Edit is a change requested by a browser tab or an HTTP caller. Positions
// and counts are in characters.
type Edit struct {
	Action string `json:"action"` // "insert", "delete" or "set"
	Index  int    `json:"index"`
	Text   string `json:"text,omitempty"`
	Count  int    `json:"count,omitempty"` // for "delete", defaults to 1
}

func (e Edit) apply(b *editor.Buffer) error {
	switch e.Action {
	case "insert":
		return b.Insert(e.Index, e.Text)
	case "delete":
		n := e.Count
		if n == 0 {
			n = 1
		}
		return b.Delete(e.Index, n)
	case "set":
		return b.SetText(e.Text)
	}
	return fmt.Errorf("unknown edit action %q", e.Action)
}
