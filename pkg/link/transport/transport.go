// Package transport opens board link channels from URLs.
package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/golang/glog"
	"go.bug.st/serial"
	"golang.org/x/net/websocket"

	"github.com/robotalks/boardlink/pkg/link"
)

// Defaults of the serial link: 115200 8-N-1.
const (
	DefaultBaudRate     = 115200
	DefaultPollInterval = 100 * time.Millisecond
)

// DrainWindow bounds the startup flush of socket links, which have no
// input buffer to reset: whatever arrives within the window is dropped.
var DrainWindow = 20 * time.Millisecond

// Endpoint is the parsed form of a link URL.
//
//	serial:///dev/ttyUSB0?baud=115200&poll=100ms
//	tcp://host:port
//	ws://host:port/path?origin=http://localhost/
type Endpoint struct {
	Scheme  string
	Address string
	// serial only
	BaudRate int
	Poll     time.Duration
	// websocket only
	Origin string
}

// ParseURL parses a link URL.
func ParseURL(rawURL string) (*Endpoint, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid link URL: %v", err)
	}
	ep := &Endpoint{Scheme: u.Scheme}
	q := u.Query()
	switch u.Scheme {
	case "serial":
		ep.Address = u.Host + u.Path
		ep.BaudRate, ep.Poll = DefaultBaudRate, DefaultPollInterval
		if val := q.Get("baud"); val != "" {
			if ep.BaudRate, err = strconv.Atoi(val); err != nil || ep.BaudRate <= 0 {
				return nil, fmt.Errorf("invalid baud rate: %q", val)
			}
		}
		if val := q.Get("poll"); val != "" {
			if ep.Poll, err = time.ParseDuration(val); err != nil || ep.Poll <= 0 {
				return nil, fmt.Errorf("invalid poll interval: %q", val)
			}
		}
	case "tcp":
		ep.Address = u.Host
	case "ws", "wss":
		origin := q.Get("origin")
		q.Del("origin")
		u.RawQuery = q.Encode()
		ep.Address = u.String()
		if origin == "" {
			origin = "http://localhost/"
		}
		ep.Origin = origin
	default:
		return nil, fmt.Errorf("unknown link URL scheme: %q", u.Scheme)
	}
	if ep.Address == "" {
		return nil, fmt.Errorf("missing address in link URL %q", rawURL)
	}
	return ep, nil
}

// Open opens a channel from URL and flushes pending input.
func Open(ctx context.Context, rawURL string) (*link.StreamChannel, error) {
	ep, err := ParseURL(rawURL)
	if err != nil {
		return nil, err
	}
	return ep.Open(ctx)
}

// Open opens the channel.
func (ep *Endpoint) Open(ctx context.Context) (ch *link.StreamChannel, err error) {
	switch ep.Scheme {
	case "serial":
		ch, err = openSerial(ep)
	case "tcp":
		var d net.Dialer
		var conn net.Conn
		if conn, err = d.DialContext(ctx, "tcp", ep.Address); err == nil {
			ch, err = drainedChannel(conn)
		}
	case "ws", "wss":
		ch, err = openWebsocket(ep)
	default:
		err = fmt.Errorf("unknown link URL scheme: %q", ep.Scheme)
	}
	if err != nil {
		return nil, err
	}
	if err = ch.Flush(); err != nil {
		ch.Close()
		return nil, err
	}
	glog.Infof("link %s://%s opened", ep.Scheme, ep.Address)
	return ch, nil
}

func openSerial(ep *Endpoint) (*link.StreamChannel, error) {
	port, err := serial.Open(ep.Address, &serial.Mode{
		BaudRate: ep.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, err
	}
	if err = port.SetReadTimeout(ep.Poll); err != nil {
		port.Close()
		return nil, err
	}
	ch := link.NewStreamChannel(port)
	ch.ReadTimeout = true
	return ch, nil
}

func openWebsocket(ep *Endpoint) (*link.StreamChannel, error) {
	conf, err := websocket.NewConfig(ep.Address, ep.Origin)
	if err != nil {
		return nil, err
	}
	conn, err := websocket.DialConfig(conf)
	if err != nil {
		return nil, err
	}
	conn.PayloadType = websocket.BinaryFrame
	return drainedChannel(conn)
}

type readDeadliner interface {
	io.ReadWriteCloser
	SetReadDeadline(time.Time) error
}

// drainedChannel drops input already queued on conn before the first
// byte is pumped, as ResetInputBuffer does for serial ports.
func drainedChannel(conn readDeadliner) (*link.StreamChannel, error) {
	n, err := drainInput(conn, DrainWindow)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("drain input: %w", err)
	}
	if n > 0 {
		glog.V(2).Infof("drained %d bytes", n)
	}
	return link.NewStreamChannel(conn), nil
}

func drainInput(conn readDeadliner, window time.Duration) (int, error) {
	if err := conn.SetReadDeadline(time.Now().Add(window)); err != nil {
		return 0, err
	}
	buf := make([]byte, link.MaxPayloadLen+2)
	total := 0
	for {
		n, err := conn.Read(buf)
		total += n
		if err == nil {
			continue
		}
		if !os.IsTimeout(err) {
			return total, err
		}
		break
	}
	return total, conn.SetReadDeadline(time.Time{})
}
