package link

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type testChannel struct {
	in   []byte
	out  []byte
	read int
}

func newTestChannel(in ...byte) *testChannel {
	return &testChannel{in: in}
}

func (c *testChannel) ReadByte(ctx context.Context) (byte, error) {
	if c.read >= len(c.in) {
		<-ctx.Done()
		return 0, ctx.Err()
	}
	b := c.in[c.read]
	c.read++
	return b, nil
}

func (c *testChannel) WriteByte(ctx context.Context, b byte) error {
	c.out = append(c.out, b)
	return nil
}

func (c *testChannel) Flush() error {
	c.read = len(c.in)
	return nil
}

func frame(magic byte, payload ...byte) []byte {
	return append([]byte{magic, byte(len(payload))}, payload...)
}

func frames(fs ...[]byte) (b []byte) {
	for _, f := range fs {
		b = append(b, f...)
	}
	return
}

func testCodec(in ...byte) (*Codec, *testChannel) {
	ch := newTestChannel(in...)
	c := NewCodec(ch)
	c.Timeout = 100 * time.Millisecond
	return c, ch
}

func TestSend(t *testing.T) {
	c, ch := testCodec()
	msg, err := NewMessageWith(3, 0xaa, 0xbb, 0xcc, 0xdd)
	require.NoError(t, err)
	n, err := c.Send(context.TODO(), msg)
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.Equal(t, []byte{0x03, 0x04, 0xaa, 0xbb, 0xcc, 0xdd}, ch.out)

	rc, _ := testCodec(ch.out...)
	recv := NewMessage(MagicNone, 16)
	n, err = rc.Receive(context.TODO(), recv)
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.Equal(t, Magic(3), recv.Magic)
	require.Equal(t, []byte{0xaa, 0xbb, 0xcc, 0xdd}, recv.Buffer.Bytes())
}

func TestSendReservedMagic(t *testing.T) {
	c, ch := testCodec()
	n, err := c.Send(context.TODO(), NewMessage(MagicNone, 4))
	require.Equal(t, ErrReservedMagic, err)
	require.Zero(t, n)
	require.Empty(t, ch.out)
}

func TestRoundTrip(t *testing.T) {
	long := make([]byte, MaxPayloadLen)
	for i := range long {
		long[i] = byte(i)
	}
	testCases := []struct {
		name    string
		magic   Magic
		payload []byte
	}{
		{"empty", 1, nil},
		{"one byte", 2, []byte{0}},
		{"high magic", 0xff, []byte{1, 2, 3}},
		{"full", 0x42, long},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			sender, wire := testCodec()
			msg, err := NewMessageWith(tc.magic, tc.payload...)
			require.NoError(t, err)
			_, err = sender.Send(context.TODO(), msg)
			require.NoError(t, err)
			require.Equal(t, msg.Encode(), wire.out)

			receiver, ch := testCodec(wire.out...)
			recv := NewMessage(MagicNone, MaxPayloadLen)
			n, err := receiver.Receive(context.TODO(), recv)
			require.NoError(t, err)
			require.Equal(t, len(tc.payload), n)
			require.Equal(t, tc.magic, recv.Magic)
			require.Equal(t, msg.Buffer.Bytes(), recv.Buffer.Bytes())
			require.Equal(t, len(wire.out), ch.read)
		})
	}
}

func TestReceiveSentinel(t *testing.T) {
	c, ch := testCodec(0, 9, 9, 9)
	msg, err := NewMessageWith(3, 1, 2)
	require.NoError(t, err)
	n, err := c.Receive(context.TODO(), msg)
	require.NoError(t, err)
	require.Zero(t, n)
	require.True(t, msg.IsNone())
	require.Equal(t, 2, msg.Len())
	require.Equal(t, []byte{1, 2}, msg.Buffer.Bytes())
	require.Equal(t, 1, ch.read)
}

func TestReceiveConsumption(t *testing.T) {
	for _, n := range []int{0, 1, 7, 64} {
		payload := make([]byte, n)
		c, ch := testCodec(append(frame(5, payload...), 0xee, 0xee)...)
		msg := NewMessage(MagicNone, 64)
		l, err := c.Receive(context.TODO(), msg)
		require.NoError(t, err)
		require.Equal(t, n, l)
		require.Equalf(t, n+2, ch.read, "len %d", n)
	}
}

func TestReceiveNonce(t *testing.T) {
	for _, n := range []int{0, 1, 16} {
		payload := make([]byte, n)
		for i := range payload {
			payload[i] = byte(i + 1)
		}
		c, ch := testCodec(append(append([]byte{byte(n)}, payload...), 0xee)...)
		nonce := NewNonce(16)
		l, err := c.ReceiveNonce(context.TODO(), nonce)
		require.NoError(t, err)
		require.Equal(t, n, l)
		require.Equal(t, n+1, ch.read)
		if n > 0 {
			require.Equal(t, payload, nonce.Buffer.Bytes())
		} else {
			require.Empty(t, nonce.Buffer.Bytes())
		}
	}
}

func TestReceiveOverflow(t *testing.T) {
	c, ch := testCodec(frame(7, 1, 2, 3, 4, 5)...)
	msg := NewMessage(MagicNone, 4)
	require.NoError(t, msg.Set([]byte{9, 9}))
	n, err := c.Receive(context.TODO(), msg)
	require.Error(t, err)
	require.Zero(t, n)
	require.True(t, errors.Is(err, ErrOverflow))
	var fe *FramingError
	require.True(t, errors.As(err, &fe))
	require.Equal(t, 5, fe.Len)
	require.Equal(t, 4, fe.Cap)
	require.Equal(t, []byte{9, 9}, msg.Buffer.Bytes())
	require.Equal(t, 2, ch.read)

	nc, nch := testCodec(5, 1, 2, 3, 4, 5)
	_, err = nc.ReceiveNonce(context.TODO(), NewNonce(4))
	require.True(t, errors.Is(err, ErrOverflow))
	require.Equal(t, 1, nch.read)
}

func TestReceiveTimeout(t *testing.T) {
	c, _ := testCodec(frame(7, 1, 2)[:3]...)
	c.Timeout = 10 * time.Millisecond
	_, err := c.Receive(context.TODO(), NewMessage(MagicNone, 4))
	require.True(t, errors.Is(err, context.DeadlineExceeded))

	c, _ = testCodec()
	c.Timeout = 0
	ctx, cancel := context.WithCancel(context.TODO())
	cancel()
	_, err = c.ReceiveNonce(ctx, NewNonce(4))
	require.True(t, errors.Is(err, context.Canceled))
}

func TestReceiveTruncated(t *testing.T) {
	tests := []struct {
		name      string
		in        []byte
		len, read int
	}{
		{"length", []byte{7}, -1, 0},
		{"payload", []byte{7, 3, 1}, 3, 1},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			c, _ := testCodec(test.in...)
			c.Timeout = 10 * time.Millisecond
			_, err := c.Receive(context.TODO(), NewMessage(MagicNone, 4))
			require.True(t, errors.Is(err, ErrTruncated))
			require.True(t, errors.Is(err, context.DeadlineExceeded))
			var te *TruncatedError
			require.True(t, errors.As(err, &te))
			require.Equal(t, test.len, te.Len)
			require.Equal(t, test.read, te.Read)
		})
	}

	// nothing consumed while waiting for magic.
	c, _ := testCodec()
	c.Timeout = 10 * time.Millisecond
	_, err := c.Receive(context.TODO(), NewMessage(MagicNone, 4))
	require.True(t, errors.Is(err, context.DeadlineExceeded))
	require.False(t, errors.Is(err, ErrTruncated))
}

func TestResync(t *testing.T) {
	next := frame(9, 1, 1)
	tests := []struct {
		name   string
		in     []byte
		rest   []byte
		cap    int
		remain int
	}{
		{"overflow", frames(frame(3, 5, 1, 0xbb, 0xcc)), nil, 2, 0},
		{"truncated-payload", []byte{3, 3, 7}, []byte{1, 0xee}, 4, 2},
		{"truncated-length", []byte{3}, []byte{2, 1, 0xee}, 4, -1},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			c, ch := testCodec(test.in...)
			c.Timeout = 10 * time.Millisecond
			msg := NewMessage(MagicNone, test.cap)
			_, err := c.Receive(context.TODO(), msg)
			require.Error(t, err)
			var te *TruncatedError
			if errors.As(err, &te) {
				require.Equal(t, test.remain, te.Remaining())
			}
			ch.in = append(append(ch.in, test.rest...), next...)
			require.NoError(t, c.Resync(context.TODO(), err))
			n, err := c.Receive(context.TODO(), msg)
			require.NoError(t, err)
			require.Equal(t, 1, n)
			require.Equal(t, Magic(9), msg.Magic)
			require.Equal(t, []byte{1}, msg.Buffer.Bytes())
			require.Equal(t, len(ch.in), ch.read)
		})
	}

	c, ch := testCodec(1, 2)
	require.NoError(t, c.Resync(context.TODO(), ErrDiscardLimit))
	require.Zero(t, ch.read)
}

func TestSkip(t *testing.T) {
	c, ch := testCodec(1, 2, 3)
	n, err := c.Skip(context.TODO(), 2)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, 2, ch.read)

	ctx, cancel := context.WithTimeout(context.TODO(), 10*time.Millisecond)
	defer cancel()
	n, err = c.Skip(ctx, 3)
	require.True(t, errors.Is(err, context.DeadlineExceeded))
	require.Equal(t, 1, n)
}

func TestReceiveByType(t *testing.T) {
	in := frames(frame(5, 1), frame(7, 2, 2), frame(7, 3), frame(2), frame(7, 4, 4, 4))
	c, ch := testCodec(in...)
	var discarded []Magic
	c.Discarder = HandleDiscardFunc(func(ctx context.Context, msg *Message) {
		discarded = append(discarded, msg.Magic)
	})
	msg := NewMessage(MagicNone, 8)

	n, err := c.ReceiveByType(context.TODO(), msg, 7)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, Magic(7), msg.Magic)
	require.Equal(t, []byte{2, 2}, msg.Buffer.Bytes())
	require.Equal(t, []Magic{5}, discarded)
	require.Equal(t, 3+4, ch.read)

	n, err = c.ReceiveByType(context.TODO(), msg, 2)
	require.NoError(t, err)
	require.Zero(t, n)
	require.Equal(t, Magic(2), msg.Magic)
	require.Equal(t, []Magic{5, 7}, discarded)

	n, err = c.ReceiveByType(context.TODO(), msg, 7)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Equal(t, []byte{4, 4, 4}, msg.Buffer.Bytes())
	require.Equal(t, len(in), ch.read)
}

func TestReceiveByTypeSentinel(t *testing.T) {
	c, ch := testCodec(append([]byte{0, 0}, frame(9, 1)...)...)
	var nones int
	c.Discarder = HandleDiscardFunc(func(ctx context.Context, msg *Message) {
		if msg.IsNone() {
			nones++
		}
	})
	msg := NewMessage(MagicNone, 4)
	n, err := c.ReceiveByType(context.TODO(), msg, 9)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, 2, nones)
	require.Equal(t, 5, ch.read)
}

func TestReceiveByTypeErrors(t *testing.T) {
	c, ch := testCodec(frame(1)...)
	_, err := c.ReceiveByType(context.TODO(), NewMessage(MagicNone, 4), MagicNone)
	require.Equal(t, ErrReservedMagic, err)
	require.Zero(t, ch.read)

	c, _ = testCodec(frames(frame(1), frame(2), frame(3), frame(4))...)
	c.MaxDiscard = 2
	_, err = c.ReceiveByType(context.TODO(), NewMessage(MagicNone, 4), 4)
	require.True(t, errors.Is(err, ErrDiscardLimit))

	c, _ = testCodec(frames(frame(1), frame(2, 1, 2, 3))...)
	_, err = c.ReceiveByType(context.TODO(), NewMessage(MagicNone, 2), 2)
	require.True(t, errors.Is(err, ErrOverflow))

	c, _ = testCodec(frames(frame(1), frame(2))...)
	c.Timeout = 10 * time.Millisecond
	_, err = c.ReceiveByType(context.TODO(), NewMessage(MagicNone, 2), 3)
	require.True(t, errors.Is(err, context.DeadlineExceeded))
}
