// Package mqtt bridges a board link to an MQTT broker.
package mqtt

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/denisbrodbeck/machineid"
	"github.com/golang/glog"

	"github.com/robotalks/boardlink/pkg/link"
)

// Broker is the pub/sub side of the bridge.
type Broker interface {
	Publish(topic string, payload []byte) error
	Subscribe(topic string, handler Handler) (io.Closer, error)
}

// Bridge forwards frames between a board link and a broker:
// frames received from the board are published to Board/msg,
// frames published to Board/send are written to the board.
type Bridge struct {
	Codec    *link.Codec
	Broker   Broker
	Board    string
	Filter   link.Magic // MagicNone forwards all types
	Capacity int

	sendLock sync.Mutex
}

// NewBridge creates a Bridge.
func NewBridge(codec *link.Codec, broker Broker, board string) *Bridge {
	return &Bridge{
		Codec:    codec,
		Broker:   broker,
		Board:    board,
		Capacity: link.DefaultCapacity,
	}
}

// DefaultClientID derives a stable client ID from the machine ID.
func DefaultClientID(board string) string {
	id, err := machineid.ProtectedID("boardlink")
	if err != nil {
		glog.Warningf("machine id unavailable: %v", err)
		return "boardlink:" + board
	}
	if len(id) > 12 {
		id = id[:12]
	}
	return "boardlink:" + board + ":" + id
}

// MsgTopic is where received frames are published.
func (b *Bridge) MsgTopic() string {
	return b.Board + "/msg"
}

// SendTopic is where frames to be sent are subscribed.
func (b *Bridge) SendTopic() string {
	return b.Board + "/send"
}

// Name implements Named.
func (b *Bridge) Name() string {
	return "bridge:" + b.Board
}

// Run implements Runnable.
func (b *Bridge) Run(ctx context.Context) error {
	sub, err := b.Broker.Subscribe(b.SendTopic(), func(topic string, payload []byte) {
		if err := b.forward(ctx, payload); err != nil {
			glog.Errorf("forward to %s failed: %v", b.Board, err)
		}
	})
	if err != nil {
		return err
	}
	defer sub.Close()

	msg := link.NewMessage(link.MagicNone, b.Capacity)
	for {
		if err = b.receive(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			switch {
			case errors.Is(err, link.ErrOverflow), errors.Is(err, link.ErrTruncated):
				glog.Warningf("%s: %v", b.Board, err)
				if err = b.Codec.Resync(ctx, err); err != nil {
					if ctx.Err() != nil {
						return ctx.Err()
					}
					return err
				}
				continue
			case errors.Is(err, link.ErrDiscardLimit):
				glog.Warningf("%s: %v", b.Board, err)
				continue
			case errors.Is(err, context.DeadlineExceeded):
				// idle, no frame started
				continue
			}
			return err
		}
		if msg.IsNone() {
			glog.V(2).Infof("%s: no message", b.Board)
			continue
		}
		if err = b.publish(msg); err != nil {
			glog.Errorf("publish %s failed: %v", msg.Magic, err)
		}
	}
}

func (b *Bridge) receive(ctx context.Context, msg *link.Message) (err error) {
	if b.Filter.IsValid() {
		_, err = b.Codec.ReceiveByType(ctx, msg, b.Filter)
	} else {
		_, err = b.Codec.Receive(ctx, msg)
	}
	return
}

func (b *Bridge) publish(msg *link.Message) error {
	data, err := EncodeFrame(msg)
	if err != nil {
		return err
	}
	return b.Broker.Publish(b.MsgTopic(), data)
}

func (b *Bridge) forward(ctx context.Context, payload []byte) error {
	msg, err := DecodeFrame(payload)
	if err != nil {
		return err
	}
	b.sendLock.Lock()
	defer b.sendLock.Unlock()
	_, err = b.Codec.Send(ctx, msg)
	return err
}
