package transport

import (
	"log/slog"
	"net"
	"strconv"
	"time"
)

// Kind selects the byte stream carrying frames.
type Kind string

const (
	Socket    Kind = "socket"
	WebSocket Kind = "websocket"
)

const (
	DefaultSocketPort    = 62964
	DefaultWebSocketPort = 8080
)

// Config defines connection parameters and timeouts.
type Config struct {
	Kind Kind
	Host string
	Port int    // 0 selects the default port of Kind
	Path string // WebSocket request path, "/" when empty

	ConnectTimeout time.Duration
	ReadTimeout    time.Duration // idle limit between inbound frames; negative disables
	WriteTimeout   time.Duration
	MaxFrameSize   int

	// Compression negotiates permessage-deflate on WebSocket connections.
	Compression bool

	Logger *slog.Logger
}

// DefaultConfig returns defaults matching the production server.
func DefaultConfig() Config {
	return Config{
		Kind:           Socket,
		Host:           "localhost",
		ConnectTimeout: 15 * time.Minute,
		ReadTimeout:    15 * time.Minute,
		WriteTimeout:   30 * time.Second,
		MaxFrameSize:   4 * 1024 * 1024,
	}
}

// WithDefaults fills zero fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.Kind == "" {
		c.Kind = d.Kind
	}
	if c.Host == "" {
		c.Host = d.Host
	}
	if c.Port == 0 {
		c.Port = c.Kind.DefaultPort()
	}
	if c.Path == "" {
		c.Path = "/"
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = d.ReadTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.MaxFrameSize <= 0 {
		c.MaxFrameSize = d.MaxFrameSize
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Addr returns host:port.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// DefaultPort returns the server port conventionally used by k.
func (k Kind) DefaultPort() int {
	if k == WebSocket {
		return DefaultWebSocketPort
	}
	return DefaultSocketPort
}
