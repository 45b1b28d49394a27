package link

import (
	"errors"
	"fmt"
)

var (
	// ErrReservedMagic indicates MagicNone is used as a message type.
	ErrReservedMagic = errors.New("reserved magic")
	// ErrOverflow indicates a length exceeds the destination capacity.
	ErrOverflow = errors.New("buffer overflow")
	// ErrDiscardLimit indicates too many frames were discarded while
	// waiting for a specific type.
	ErrDiscardLimit = errors.New("discard limit reached")
	// ErrClosed indicates the channel is closed.
	ErrClosed = errors.New("channel closed")
)

// FramingError reports a length which doesn't fit the destination.
type FramingError struct {
	Op  string
	Len int
	Cap int
}

// Error implements error.
func (e *FramingError) Error() string {
	return fmt.Sprintf("%s: length %d exceeds capacity %d", e.Op, e.Len, e.Cap)
}

// Unwrap makes errors.Is(err, ErrOverflow) work.
func (e *FramingError) Unwrap() error {
	return ErrOverflow
}

// ErrTruncated indicates a frame was abandoned after its magic or length
// byte was consumed, e.g. on timeout. The stream is left mid-frame.
var ErrTruncated = errors.New("truncated frame")

// TruncatedError reports how much of an abandoned frame was read.
type TruncatedError struct {
	Len  int // payload length, -1 if the length byte was not read
	Read int // payload bytes read
	Err  error
}

// Error implements error.
func (e *TruncatedError) Error() string {
	if e.Len < 0 {
		return fmt.Sprintf("%v: read length: %v", ErrTruncated, e.Err)
	}
	return fmt.Sprintf("%v: read payload %d/%d: %v", ErrTruncated, e.Read, e.Len, e.Err)
}

// Unwrap returns the cause, e.g. context.DeadlineExceeded.
func (e *TruncatedError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrTruncated) work.
func (e *TruncatedError) Is(target error) bool {
	return target == ErrTruncated
}

// Remaining is the number of bytes left in the frame, -1 if unknown.
func (e *TruncatedError) Remaining() int {
	if e.Len < 0 {
		return -1
	}
	return e.Len - e.Read
}
