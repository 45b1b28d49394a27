package link

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang/glog"
)

// DiscardHandler is called with every frame dropped by ReceiveByType.
type DiscardHandler interface {
	HandleDiscard(context.Context, *Message)
}

// HandleDiscardFunc is func type of DiscardHandler.
type HandleDiscardFunc func(context.Context, *Message)

// HandleDiscard implements DiscardHandler.
func (f HandleDiscardFunc) HandleDiscard(ctx context.Context, msg *Message) {
	f(ctx, msg)
}

// Codec sends and receives framed messages over a Channel.
// It performs no locking: at most one send and one receive may be
// in flight at a time.
type Codec struct {
	Channel Channel
	// Timeout bounds every operation if not zero,
	// otherwise operations block until ctx is done.
	Timeout time.Duration
	// MaxDiscard bounds the frames dropped by ReceiveByType, 0 for unlimited.
	MaxDiscard int
	Discarder  DiscardHandler
}

// NewCodec creates a Codec over the channel.
func NewCodec(ch Channel) *Codec {
	return &Codec{Channel: ch}
}

// Send writes magic, length and payload, one byte at a time.
// It returns the number of payload bytes written.
func (c *Codec) Send(ctx context.Context, msg *Message) (int, error) {
	if !msg.Magic.IsValid() {
		return 0, ErrReservedMagic
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	payload := msg.Buffer.Bytes()
	if err := c.Channel.WriteByte(ctx, byte(msg.Magic)); err != nil {
		return 0, fmt.Errorf("write magic: %w", err)
	}
	if err := c.Channel.WriteByte(ctx, byte(len(payload))); err != nil {
		return 0, fmt.Errorf("write length: %w", err)
	}
	for i, b := range payload {
		if err := c.Channel.WriteByte(ctx, b); err != nil {
			return i, fmt.Errorf("write payload[%d]: %w", i, err)
		}
	}
	glog.V(3).Infof("SND %s len=%d", msg.Magic, len(payload))
	return len(payload), nil
}

// Receive reads one frame into msg and returns the payload length.
// On the sentinel magic it returns 0 immediately with msg.Magic set to
// MagicNone and the payload untouched. A length exceeding the capacity
// of msg fails with a *FramingError before any payload byte is read.
func (c *Codec) Receive(ctx context.Context, msg *Message) (int, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return c.receive(ctx, msg)
}

// ReceiveNonce reads a nonce packet which has no magic byte.
func (c *Codec) ReceiveNonce(ctx context.Context, nonce *Nonce) (int, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return c.readPayload(ctx, &nonce.Buffer)
}

// ReceiveByType receives frames until one of the wanted type arrives.
// Other frames are dropped. Timeout applies to the whole operation.
func (c *Codec) ReceiveByType(ctx context.Context, msg *Message, want Magic) (int, error) {
	if !want.IsValid() {
		return 0, ErrReservedMagic
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	filter := TypeFilter{Want: want, MaxDiscard: c.MaxDiscard}
	for {
		n, err := c.receive(ctx, msg)
		if err != nil {
			return 0, err
		}
		state, err := filter.Feed(msg.Magic)
		if state == FilterMatched {
			return n, nil
		}
		c.discard(ctx, msg, n)
		if err != nil {
			return 0, fmt.Errorf("waiting for %s: %w", want, err)
		}
	}
}

func (c *Codec) receive(ctx context.Context, msg *Message) (int, error) {
	b, err := c.Channel.ReadByte(ctx)
	if err != nil {
		return 0, fmt.Errorf("read magic: %w", err)
	}
	if msg.Magic = Magic(b); msg.IsNone() {
		glog.V(3).Info("RCV none")
		return 0, nil
	}
	n, err := c.readPayload(ctx, &msg.Buffer)
	if err != nil {
		var fe *FramingError
		if !errors.As(err, &fe) && !errors.Is(err, ErrTruncated) {
			err = &TruncatedError{Len: -1, Err: err}
		}
		return 0, err
	}
	glog.V(3).Infof("RCV %s len=%d", msg.Magic, n)
	return n, nil
}

func (c *Codec) readPayload(ctx context.Context, buf *Buffer) (int, error) {
	b, err := c.Channel.ReadByte(ctx)
	if err != nil {
		return 0, fmt.Errorf("read length: %w", err)
	}
	n := int(b)
	if !buf.Fits(n) {
		return 0, &FramingError{Op: "receive", Len: n, Cap: buf.Cap()}
	}
	err = buf.fill(n, func() (byte, error) {
		return c.Channel.ReadByte(ctx)
	})
	if err != nil {
		return 0, &TruncatedError{Len: n, Read: buf.Len(), Err: err}
	}
	return n, nil
}

// Skip reads and drops n bytes. It ignores Timeout as a skip
// abandoned halfway would lose the frame boundary again.
func (c *Codec) Skip(ctx context.Context, n int) (int, error) {
	for i := 0; i < n; i++ {
		if _, err := c.Channel.ReadByte(ctx); err != nil {
			return i, fmt.Errorf("skip[%d]: %w", i, err)
		}
	}
	return n, nil
}

// Resync consumes the rest of the frame abandoned with err by a previous
// receive, so the next one starts at a frame boundary. It does nothing
// if err is neither a *FramingError nor a *TruncatedError.
func (c *Codec) Resync(ctx context.Context, err error) error {
	var (
		fe *FramingError
		te *TruncatedError
		n  int
	)
	switch {
	case errors.As(err, &fe):
		n = fe.Len
	case errors.As(err, &te):
		if n = te.Remaining(); n < 0 {
			b, err := c.Channel.ReadByte(ctx)
			if err != nil {
				return fmt.Errorf("resync length: %w", err)
			}
			n = int(b)
		}
	default:
		return nil
	}
	glog.V(2).Infof("resync: skip %d", n)
	_, err = c.Skip(ctx, n)
	return err
}

func (c *Codec) discard(ctx context.Context, msg *Message, n int) {
	if msg.IsNone() {
		glog.V(2).Info("discard none")
	} else {
		glog.V(2).Infof("discard %s len=%d", msg.Magic, n)
	}
	if h := c.Discarder; h != nil {
		h.HandleDiscard(ctx, msg)
	}
}

func (c *Codec) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.Timeout > 0 {
		return context.WithTimeout(ctx, c.Timeout)
	}
	return context.WithCancel(ctx)
}
