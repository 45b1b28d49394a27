// Package sh provides an interactive shell talking to a board.
package sh

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/abiosoft/ishell"

	"github.com/robotalks/boardlink/pkg/link"
	"github.com/robotalks/boardlink/pkg/link/config"
)

// DefaultTimeout applies to shell operations when the config has none,
// so a silent board doesn't hang the shell.
const DefaultTimeout = 5 * time.Second

// Shell provides ishell backed interactive shell.
type Shell struct {
	Interactive bool
	OutputJSON  bool
	AutoOpen    bool

	Shell  *ishell.Shell
	Config *config.Config
	Link   *Link
}

// Link is an opened board link.
type Link struct {
	URL     string
	Codec   *link.Codec
	Channel *link.StreamChannel
}

// Frame is the printable form of a received message or nonce.
type Frame struct {
	Magic   *byte  `json:"magic,omitempty"`
	Len     int    `json:"len"`
	Payload string `json:"payload"`
	None    bool   `json:"none,omitempty"`
}

const (
	shellKey       = "$shell"
	unopenedPrompt = "[none] > "
)

var (
	// flags

	evalOnly   bool
	outputJSON bool

	// commands
	commands = []*ishell.Cmd{
		&OpenCmd,
		&CloseCmd,
		&FlushCmd,
		&SendCmd,
		&RecvCmd,
		&RecvTypeCmd,
		&NonceCmd,
	}
)

func init() {
	flag.BoolVar(&evalOnly, "e", evalOnly, "Evaluation only, no interactive shell.")
	flag.BoolVar(&outputJSON, "json", outputJSON, "Print output in JSON.")
}

// New creates a new shell.
func New(conf *config.Config) *Shell {
	s := &Shell{
		Interactive: !evalOnly,
		OutputJSON:  outputJSON,

		Shell:  ishell.New(),
		Config: conf,
	}
	s.Shell.Set(shellKey, s)
	s.Shell.SetPrompt(unopenedPrompt)
	for _, cmd := range commands {
		s.Shell.AddCmd(cmd)
	}
	return s
}

// ShellFrom gets Shell from ishell context.
func ShellFrom(c *ishell.Context) *Shell {
	return c.Get(shellKey).(*Shell)
}

// WithAutoOpen sets AutoOpen.
func (s *Shell) WithAutoOpen(en bool) *Shell {
	s.AutoOpen = en
	return s
}

// ParseMagic parses a message type in decimal or 0x hex.
func ParseMagic(str string) (link.Magic, error) {
	val, err := strconv.ParseUint(str, 0, 8)
	if err != nil {
		return link.MagicNone, fmt.Errorf("invalid type %q: %v", str, err)
	}
	m := link.Magic(val)
	if !m.IsValid() {
		return m, link.ErrReservedMagic
	}
	return m, nil
}

// ParseHexBytes parses payload bytes, e.g. "aa bb" or "aabb".
func ParseHexBytes(args ...string) ([]byte, error) {
	str := strings.TrimPrefix(strings.Join(args, ""), "0x")
	data, err := hex.DecodeString(str)
	if err != nil {
		return nil, fmt.Errorf("invalid payload: %v", err)
	}
	return data, nil
}

// FrameOf converts a received message to a Frame.
func FrameOf(msg *link.Message) Frame {
	if msg.IsNone() {
		return Frame{None: true}
	}
	magic := byte(msg.Magic)
	return Frame{Magic: &magic, Len: msg.Len(), Payload: hex.EncodeToString(msg.Buffer.Bytes())}
}

// String implements fmt.Stringer.
func (f Frame) String() string {
	if f.None {
		return "NONE"
	}
	if f.Magic == nil {
		return fmt.Sprintf("NONCE len=%d %s", f.Len, f.Payload)
	}
	return fmt.Sprintf("%s len=%d %s", link.Magic(*f.Magic), f.Len, f.Payload)
}

// Format prints a Frame in configured output format.
func (s *Shell) Format(f Frame) (string, error) {
	if !s.OutputJSON {
		return f.String(), nil
	}
	out, err := json.Marshal(f)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Open opens a board link, the configured URL is used if url is empty.
func (s *Shell) Open(url string) error {
	conf := *s.Config
	if url != "" {
		conf.URL = url
	}
	codec, ch, err := conf.Open(context.Background())
	if err != nil {
		return err
	}
	if codec.Timeout == 0 {
		codec.Timeout = DefaultTimeout
	}
	s.Close()
	s.Link = &Link{URL: conf.URL, Codec: codec, Channel: ch}
	if s.Shell != nil {
		s.Shell.SetPrompt(fmt.Sprintf("%s > ", conf.URL))
	}
	return nil
}

// Close closes current link.
func (s *Shell) Close() {
	if s.Link != nil {
		if s.Link.Channel != nil {
			s.Link.Channel.Close()
		}
		s.Link = nil
		if s.Shell != nil {
			s.Shell.SetPrompt(unopenedPrompt)
		}
	}
}

func (s *Shell) codec() (*link.Codec, error) {
	if s.Link == nil {
		return nil, fmt.Errorf("not opened")
	}
	return s.Link.Codec, nil
}

// Flush discards pending input.
func (s *Shell) Flush() error {
	codec, err := s.codec()
	if err != nil {
		return err
	}
	return codec.Channel.Flush()
}

// Send sends a message: TYPE [HEX...].
func (s *Shell) Send(args ...string) (int, error) {
	codec, err := s.codec()
	if err != nil {
		return 0, err
	}
	if len(args) < 1 {
		return 0, fmt.Errorf("TYPE required")
	}
	magic, err := ParseMagic(args[0])
	if err != nil {
		return 0, err
	}
	payload, err := ParseHexBytes(args[1:]...)
	if err != nil {
		return 0, err
	}
	msg, err := link.NewMessageWith(magic, payload...)
	if err != nil {
		return 0, err
	}
	return codec.Send(context.Background(), msg)
}

// Recv receives a message, of the type if args has one.
func (s *Shell) Recv(args ...string) (string, error) {
	codec, err := s.codec()
	if err != nil {
		return "", err
	}
	msg := link.NewMessage(link.MagicNone, s.capacity())
	if len(args) > 0 {
		var magic link.Magic
		if magic, err = ParseMagic(args[0]); err != nil {
			return "", err
		}
		_, err = codec.ReceiveByType(context.Background(), msg, magic)
	} else {
		_, err = codec.Receive(context.Background(), msg)
	}
	if err != nil {
		return "", err
	}
	return s.Format(FrameOf(msg))
}

// Nonce receives a nonce packet.
func (s *Shell) Nonce() (string, error) {
	codec, err := s.codec()
	if err != nil {
		return "", err
	}
	nonce := link.NewNonce(s.capacity())
	n, err := codec.ReceiveNonce(context.Background(), nonce)
	if err != nil {
		return "", err
	}
	return s.Format(Frame{Len: n, Payload: hex.EncodeToString(nonce.Buffer.Bytes())})
}

func (s *Shell) capacity() int {
	if s.Config != nil && s.Config.Capacity > 0 {
		return s.Config.Capacity
	}
	return link.DefaultCapacity
}

// Run runs the shell.
func (s *Shell) Run(args ...string) {
	if s.AutoOpen && s.Config.URL != "" {
		if s.Interactive {
			s.Shell.Printf("Opening %s ...\n", s.Config.URL)
		}
		if err := s.Open(""); err != nil {
			if !s.Interactive {
				log.Fatalf("open %q failed: %v", s.Config.URL, err)
			}
			s.Shell.Printf("open %q failed: %v\n", s.Config.URL, err)
		}
	}
	defer s.Close()

	if len(args) > 0 {
		if err := s.Shell.Process(args...); err != nil {
			log.Fatalln(err)
		}
		return
	}
	if s.Interactive {
		s.Shell.Run()
		return
	}
	log.Fatalln("command expected")
}

func printResult(c *ishell.Context, out string, err error) {
	if err != nil {
		c.Err(err)
		return
	}
	c.Println(out)
}

var (
	// OpenCmd opens a board link.
	OpenCmd = ishell.Cmd{
		Name:    "open",
		Aliases: []string{"o"},
		Help:    "[URL]",
		Func: func(c *ishell.Context) {
			var url string
			if len(c.Args) > 0 {
				url = c.Args[0]
			}
			if err := ShellFrom(c).Open(url); err != nil {
				c.Err(err)
			}
		},
	}

	// CloseCmd closes current link.
	CloseCmd = ishell.Cmd{
		Name: "close",
		Help: "",
		Func: func(c *ishell.Context) {
			ShellFrom(c).Close()
		},
	}

	// FlushCmd discards pending input.
	FlushCmd = ishell.Cmd{
		Name: "flush",
		Help: "",
		Func: func(c *ishell.Context) {
			printResult(c, "OK", ShellFrom(c).Flush())
		},
	}

	// SendCmd sends a message.
	SendCmd = ishell.Cmd{
		Name:    "send",
		Aliases: []string{"s"},
		Help:    "TYPE [HEX...]",
		Func: func(c *ishell.Context) {
			n, err := ShellFrom(c).Send(c.Args...)
			printResult(c, fmt.Sprintf("sent %d bytes", n), err)
		},
	}

	// RecvCmd receives a message.
	RecvCmd = ishell.Cmd{
		Name:    "recv",
		Aliases: []string{"r"},
		Help:    "",
		Func: func(c *ishell.Context) {
			out, err := ShellFrom(c).Recv()
			printResult(c, out, err)
		},
	}

	// RecvTypeCmd receives a message of the type, discarding others.
	RecvTypeCmd = ishell.Cmd{
		Name:    "recvtype",
		Aliases: []string{"rt"},
		Help:    "TYPE",
		Func: func(c *ishell.Context) {
			if len(c.Args) < 1 {
				c.Err(fmt.Errorf("TYPE required"))
				return
			}
			out, err := ShellFrom(c).Recv(c.Args[0])
			printResult(c, out, err)
		},
	}

	// NonceCmd receives a nonce packet.
	NonceCmd = ishell.Cmd{
		Name:    "nonce",
		Aliases: []string{"n"},
		Help:    "",
		Func: func(c *ishell.Context) {
			out, err := ShellFrom(c).Nonce()
			printResult(c, out, err)
		},
	}
)

// Main is a helper to provide a single call in main.
func Main() {
	flag.Parse()
	conf := config.NewConfig()
	if err := conf.Load(); err != nil {
		log.Fatalln(err)
	}
	New(conf).WithAutoOpen(true).Run(flag.Args()...)
}
