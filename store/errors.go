package store

import (
	"errors"
	"io"
	"net"
	"syscall"

	"collabtext/revlog"
)

// isDisconnect reports whether err means the connection went away, in which
// case a commit may or may not have landed.
func isDisconnect(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE)
}

// commitFailure maps a failed commit attempt to its outcome.
func commitFailure(err error) (revlog.Outcome, error) {
	if isDisconnect(err) {
		return revlog.Disconnected, nil
	}
	return 0, err
}
