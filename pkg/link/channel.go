package link

import (
	"context"
	"io"
	"os"
	"sync"
)

// Channel is the duplex byte channel between two boards.
// Reads and writes block until done, ctx expires or the channel fails.
type Channel interface {
	ReadByte(ctx context.Context) (byte, error)
	WriteByte(ctx context.Context, b byte) error
	// Flush discards pending input.
	Flush() error
}

// InputResetter is implemented by streams able to discard
// input already queued by the driver, e.g. serial ports.
type InputResetter interface {
	ResetInputBuffer() error
}

// StreamChannel adapts an io.ReadWriter to Channel.
type StreamChannel struct {
	ReadWriter  io.ReadWriter
	ReadTimeout bool // set to true if ReadWriter already supports timeout with Read

	buf [1]byte

	pumpOnce sync.Once
	byteCh   chan byte
	doneCh   chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
	pumpErr  error
}

// NewStreamChannel creates a StreamChannel.
func NewStreamChannel(rw io.ReadWriter) *StreamChannel {
	return &StreamChannel{ReadWriter: rw, stopCh: make(chan struct{})}
}

// ReadByte implements Channel.
func (s *StreamChannel) ReadByte(ctx context.Context) (byte, error) {
	if s.ReadTimeout {
		return s.pollByte(ctx)
	}
	s.startPump()
	select {
	case b := <-s.byteCh:
		return b, nil
	case <-s.doneCh:
		return 0, s.pumpErr
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// WriteByte implements Channel.
func (s *StreamChannel) WriteByte(ctx context.Context, b byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n, err := s.ReadWriter.Write([]byte{b})
	if err == nil && n != 1 {
		err = io.ErrShortWrite
	}
	return err
}

// Flush implements Channel.
func (s *StreamChannel) Flush() error {
	if s.byteCh != nil {
		select {
		case <-s.byteCh:
		default:
		}
	}
	if r, ok := s.ReadWriter.(InputResetter); ok {
		return r.ResetInputBuffer()
	}
	return nil
}

// Close stops reading and closes the underlying stream if possible.
func (s *StreamChannel) Close() (err error) {
	s.stopOnce.Do(func() {
		if s.stopCh != nil {
			close(s.stopCh)
		}
		if closer, ok := s.ReadWriter.(io.Closer); ok {
			err = closer.Close()
		}
	})
	return
}

// pollByte is used when Read returns on timeout: zero bytes or a
// timeout error only give ctx a chance to be checked.
func (s *StreamChannel) pollByte(ctx context.Context) (byte, error) {
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		n, err := s.ReadWriter.Read(s.buf[:])
		if n > 0 {
			return s.buf[0], nil
		}
		if err != nil {
			if os.IsTimeout(err) {
				continue
			}
			return 0, err
		}
	}
}

func (s *StreamChannel) startPump() {
	s.pumpOnce.Do(func() {
		if s.stopCh == nil {
			s.stopCh = make(chan struct{})
		}
		s.byteCh, s.doneCh = make(chan byte), make(chan struct{})
		go s.readLoop()
	})
}

// readLoop reads ahead at most one byte, which stays pending
// in byteCh until the next ReadByte.
func (s *StreamChannel) readLoop() {
	defer close(s.doneCh)
	buf := make([]byte, 1)
	for {
		select {
		case <-s.stopCh:
			s.pumpErr = ErrClosed
			return
		default:
		}
		n, err := s.ReadWriter.Read(buf)
		// a byte may come along with an error, e.g. io.EOF.
		if n > 0 {
			select {
			case s.byteCh <- buf[0]:
			case <-s.stopCh:
				s.pumpErr = ErrClosed
				return
			}
		}
		if err != nil {
			select {
			case <-s.stopCh:
				err = ErrClosed
			default:
			}
			s.pumpErr = err
			return
		}
	}
}
