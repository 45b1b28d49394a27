package link

// MaxPayloadLen is the largest payload a single-byte length can describe.
const MaxPayloadLen = 0xff

// DefaultCapacity is the buffer capacity used when none is specified.
const DefaultCapacity = MaxPayloadLen

// Buffer is a byte buffer bounded by its capacity.
// Writes beyond the capacity are rejected instead of truncated.
type Buffer struct {
	data []byte
	len  int
}

// NewBuffer creates a Buffer with the specified capacity.
// Capacity is clamped into [0, MaxPayloadLen].
func NewBuffer(capacity int) *Buffer {
	var b Buffer
	b.init(capacity)
	return &b
}

func (b *Buffer) init(capacity int) {
	if capacity < 0 {
		capacity = 0
	}
	if capacity > MaxPayloadLen {
		capacity = MaxPayloadLen
	}
	b.data, b.len = make([]byte, capacity), 0
}

// Cap returns the capacity.
func (b *Buffer) Cap() int {
	return len(b.data)
}

// Len returns the number of meaningful bytes.
func (b *Buffer) Len() int {
	return b.len
}

// Bytes returns the meaningful bytes. The slice aliases the buffer.
func (b *Buffer) Bytes() []byte {
	return b.data[:b.len]
}

// Reset drops the content, keeping the capacity.
func (b *Buffer) Reset() {
	b.len = 0
}

// Fits checks if n bytes can be held.
func (b *Buffer) Fits(n int) bool {
	return n >= 0 && n <= len(b.data)
}

// Set replaces the content with p.
func (b *Buffer) Set(p []byte) error {
	if !b.Fits(len(p)) {
		return &FramingError{Op: "set", Len: len(p), Cap: len(b.data)}
	}
	b.len = copy(b.data, p)
	return nil
}

// Append appends p to the content.
func (b *Buffer) Append(p ...byte) error {
	if n := b.len + len(p); !b.Fits(n) {
		return &FramingError{Op: "append", Len: n, Cap: len(b.data)}
	}
	b.len += copy(b.data[b.len:], p)
	return nil
}

// fill reads n bytes with next. The caller checks n fits.
func (b *Buffer) fill(n int, next func() (byte, error)) error {
	b.len = 0
	for i := 0; i < n; i++ {
		v, err := next()
		if err != nil {
			return err
		}
		b.data[i] = v
		b.len = i + 1
	}
	return nil
}
