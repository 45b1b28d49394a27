// Package link provides the framed message protocol between two boards.
package link

// The link runs over a duplex byte channel (usually a UART at 115200 8-N-1)
// between two peripheral boards. Every message is framed as
//
//	magic | len | payload[len]
//
// where all fields are single bytes. A magic of 0 is reserved: on receive
// it means "no message" and nothing else is read after it. Nonce packets
// carry no magic and are read when the type is known from context:
//
//	len | payload[len]
//
// There is no checksum, escaping or acknowledgement. A corrupted length
// byte desynchronizes the stream until the next sentinel, which is why the
// receive side checks every length against the destination capacity
// before touching the buffer.
