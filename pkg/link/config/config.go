// Package config provides common options to setup board links.
package config

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/robotalks/boardlink/pkg/link"
	"github.com/robotalks/boardlink/pkg/link/transport"
)

// Config defines the configurations of a board link.
type Config struct {
	// URL of the link, e.g. serial:///dev/ttyUSB0?baud=115200
	URL string
	// File is an optional TOML file overlaid on top of flags.
	File string

	Timeout    time.Duration
	MaxDiscard int
	Capacity   int

	// MQTTURL specifies the broker of the bridge.
	// e.g. mqtt://host:port/topic-prefix
	MQTTURL string
	Board   string
	Filter  uint
}

// fileConfig maps link.toml keys.
type fileConfig struct {
	URL        string `toml:"url"`
	Timeout    string `toml:"timeout"`
	MaxDiscard int    `toml:"max_discard"`
	Capacity   int    `toml:"capacity"`
	MQTTURL    string `toml:"mqtt_url"`
	Board      string `toml:"board"`
	Filter     uint   `toml:"filter"`
}

var defaultConfig = Config{
	URL:      "serial:///dev/ttyUSB0",
	Capacity: link.DefaultCapacity,
	MQTTURL:  "mqtt://localhost:1883/boardlink/",
	Board:    "board",
}

func init() {
	if val := os.Getenv("BOARDLINK_URL"); val != "" {
		defaultConfig.URL = val
	}
	if val := os.Getenv("BOARDLINK_MQTT_URL"); val != "" {
		defaultConfig.MQTTURL = val
	}
	if val := os.Getenv("BOARDLINK_BOARD"); val != "" {
		defaultConfig.Board = val
	}
}

// SetupFlags sets up command line flags.
func SetupFlags() {
	flag.StringVar(&defaultConfig.URL, "link", defaultConfig.URL, "Board link URL.")
	flag.StringVar(&defaultConfig.File, "config", defaultConfig.File, "Board link config file (TOML).")
	flag.DurationVar(&defaultConfig.Timeout, "timeout", defaultConfig.Timeout, "Timeout of each operation, 0 waits forever.")
	flag.IntVar(&defaultConfig.MaxDiscard, "max-discard", defaultConfig.MaxDiscard, "Max frames discarded waiting for a type, 0 for unlimited.")
	flag.IntVar(&defaultConfig.Capacity, "capacity", defaultConfig.Capacity, "Receive buffer capacity.")
	flag.StringVar(&defaultConfig.MQTTURL, "mqtt", defaultConfig.MQTTURL, "MQTT broker URL.")
	flag.StringVar(&defaultConfig.Board, "board", defaultConfig.Board, "Board name used in topics.")
	flag.UintVar(&defaultConfig.Filter, "filter", defaultConfig.Filter, "Only forward messages of this type, 0 for all.")
}

// NewConfig creates a Config with default configurations.
func NewConfig() *Config {
	conf := defaultConfig
	return &conf
}

// Load overlays the config file if specified.
func (c *Config) Load() error {
	if c.File == "" {
		return nil
	}
	return c.LoadFile(c.File)
}

// LoadFile overlays keys defined in a TOML file.
func (c *Config) LoadFile(path string) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load link config: %w", err)
	}
	if meta.IsDefined("url") {
		c.URL = strings.TrimSpace(raw.URL)
	}
	if meta.IsDefined("timeout") {
		if c.Timeout, err = time.ParseDuration(strings.TrimSpace(raw.Timeout)); err != nil {
			return fmt.Errorf("load link config: timeout: %w", err)
		}
	}
	if meta.IsDefined("max_discard") {
		c.MaxDiscard = raw.MaxDiscard
	}
	if meta.IsDefined("capacity") {
		c.Capacity = raw.Capacity
	}
	if meta.IsDefined("mqtt_url") {
		c.MQTTURL = strings.TrimSpace(raw.MQTTURL)
	}
	if meta.IsDefined("board") {
		c.Board = strings.TrimSpace(raw.Board)
	}
	if meta.IsDefined("filter") {
		c.Filter = raw.Filter
	}
	return c.Validate()
}

// Validate checks the values.
func (c *Config) Validate() error {
	if c.Timeout < 0 {
		return fmt.Errorf("invalid timeout: %v", c.Timeout)
	}
	if c.MaxDiscard < 0 {
		return fmt.Errorf("invalid max discard: %d", c.MaxDiscard)
	}
	if c.Capacity <= 0 || c.Capacity > link.MaxPayloadLen {
		return fmt.Errorf("capacity must be in [1, %d]: %d", link.MaxPayloadLen, c.Capacity)
	}
	if c.Filter > 0xff {
		return fmt.Errorf("invalid filter type: %d", c.Filter)
	}
	return nil
}

// FilterMagic returns the filter as a Magic, MagicNone for no filter.
func (c *Config) FilterMagic() link.Magic {
	return link.Magic(c.Filter)
}

// Codec creates a Codec over the channel using current config.
func (c *Config) Codec(ch link.Channel) *link.Codec {
	codec := link.NewCodec(ch)
	codec.Timeout = c.Timeout
	codec.MaxDiscard = c.MaxDiscard
	return codec
}

// Open opens the link and creates a Codec over it.
func (c *Config) Open(ctx context.Context) (*link.Codec, *link.StreamChannel, error) {
	if err := c.Validate(); err != nil {
		return nil, nil, err
	}
	ch, err := transport.Open(ctx, c.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("open %q: %w", c.URL, err)
	}
	return c.Codec(ch), ch, nil
}

// MustOpen opens the link and fails on error.
func (c *Config) MustOpen(ctx context.Context) (*link.Codec, *link.StreamChannel) {
	codec, ch, err := c.Open(ctx)
	if err != nil {
		log.Fatalln(err)
	}
	return codec, ch
}
