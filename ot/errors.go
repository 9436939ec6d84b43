package ot

import (
	"errors"
	"fmt"
)

var (
	// ErrLengthMismatch is returned when a string or operation does not have the
	// length an operation expects.
	ErrLengthMismatch = errors.New("ot: length mismatch")

	// ErrIncompatibleLengths is returned by Compose and Transform. It matches
	// ErrLengthMismatch under errors.Is.
	ErrIncompatibleLengths = fmt.Errorf("%w: incompatible operation lengths", ErrLengthMismatch)

	// ErrRetainOverrun is returned when a retain or delete reads past the end of
	// the input string.
	ErrRetainOverrun = errors.New("ot: operation reads past end of string")

	// ErrMalformedOperation is returned when decoding an invalid wire operation.
	ErrMalformedOperation = errors.New("ot: malformed operation")
)
