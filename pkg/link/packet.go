package link

import (
	"fmt"
	"io"
)

// Magic is the type byte leading a message frame.
type Magic byte

// MagicNone is reserved as the "no message" sentinel.
// It must never be used as an application type.
const MagicNone Magic = 0

// IsValid checks if the magic can be used as a message type.
func (m Magic) IsValid() bool {
	return m != MagicNone
}

// String implements fmt.Stringer.
func (m Magic) String() string {
	return fmt.Sprintf("0x%02x", byte(m))
}

// Message is a typed, length-delimited message.
type Message struct {
	Magic Magic
	Buffer
}

// NewMessage creates an empty Message with the payload capacity.
func NewMessage(magic Magic, capacity int) *Message {
	m := &Message{Magic: magic}
	m.init(capacity)
	return m
}

// NewMessageWith creates a Message holding the payload.
// The capacity is sized to the payload.
func NewMessageWith(magic Magic, payload ...byte) (*Message, error) {
	if !magic.IsValid() {
		return nil, ErrReservedMagic
	}
	if len(payload) > MaxPayloadLen {
		return nil, &FramingError{Op: "message", Len: len(payload), Cap: MaxPayloadLen}
	}
	m := NewMessage(magic, len(payload))
	if err := m.Set(payload); err != nil {
		return nil, err
	}
	return m, nil
}

// IsNone indicates the last receive got the sentinel.
func (m *Message) IsNone() bool {
	return m.Magic == MagicNone
}

// Encode returns encoded bytes for sending.
func (m *Message) Encode() []byte {
	b := make([]byte, m.Len()+2)
	b[0], b[1] = byte(m.Magic), byte(m.Len())
	copy(b[2:], m.Buffer.Bytes())
	return b
}

// WriteTo writes encoded bytes.
func (m *Message) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(m.Encode())
	return int64(n), err
}

// Nonce is a length-delimited packet without magic.
type Nonce struct {
	Buffer
}

// NewNonce creates an empty Nonce with the payload capacity.
func NewNonce(capacity int) *Nonce {
	n := &Nonce{}
	n.init(capacity)
	return n
}

// Encode returns encoded bytes for sending.
func (n *Nonce) Encode() []byte {
	b := make([]byte, n.Len()+1)
	b[0] = byte(n.Len())
	copy(b[1:], n.Buffer.Bytes())
	return b
}
