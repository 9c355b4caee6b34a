package lpsclient

import (
	"log/slog"
	"time"

	"github.com/quandastudio/lpsclient-go/transport"
)

// DefaultIdleGrace is how long the bus keeps a connection open after its
// last subscriber leaves.
const DefaultIdleGrace = 3 * time.Second

// Config holds client parameters.
type Config struct {
	Transport transport.Config
	IdleGrace time.Duration
	Hasher    ContentHasher
	Logger    *slog.Logger
}

// DefaultConfig returns a client config for a raw socket server on host.
func DefaultConfig(host string) Config {
	tc := transport.DefaultConfig()
	tc.Host = host
	tc.Port = tc.Kind.DefaultPort()
	return Config{
		Transport: tc,
		IdleGrace: DefaultIdleGrace,
		Hasher:    StdHasher{},
	}
}

// WithDefaults fills zero fields.
func (c Config) WithDefaults() Config {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Transport.Logger == nil {
		c.Transport.Logger = c.Logger
	}
	c.Transport = c.Transport.WithDefaults()
	if c.IdleGrace <= 0 {
		c.IdleGrace = DefaultIdleGrace
	}
	if c.Hasher == nil {
		c.Hasher = StdHasher{}
	}
	return c
}

// Backoff is the uniform range a banned-opponent retry waits before
// asking for a new game.
type Backoff struct {
	Min time.Duration
	Max time.Duration
}

// RepositoryConfig holds request orchestration policy.
type RepositoryConfig struct {
	PlayBackoff Backoff
	// MaxPlayAttempts caps banned-opponent retries; 0 retries until the
	// context is done.
	MaxPlayAttempts int
	// Saver, when set, is notified after every successful login.
	Saver  AuthSaver
	Logger *slog.Logger
}

// DefaultRepositoryConfig returns the production retry policy.
func DefaultRepositoryConfig() RepositoryConfig {
	return RepositoryConfig{
		PlayBackoff: Backoff{Min: 2 * time.Second, Max: 5 * time.Second},
	}
}

// WithDefaults fills zero fields.
func (c RepositoryConfig) WithDefaults() RepositoryConfig {
	d := DefaultRepositoryConfig()
	if c.PlayBackoff.Min <= 0 && c.PlayBackoff.Max <= 0 {
		c.PlayBackoff = d.PlayBackoff
	}
	if c.PlayBackoff.Max < c.PlayBackoff.Min {
		c.PlayBackoff.Max = c.PlayBackoff.Min
	}
	if c.MaxPlayAttempts < 0 {
		c.MaxPlayAttempts = 0
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}
