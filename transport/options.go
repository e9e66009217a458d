package transport

import (
	"context"
	"time"

	"go.uber.org/zap"

	"satellite-rpc/protocol"
)

const (
	DefaultAddr             = "127.0.0.1:58888"
	DefaultRequestQueueSize = 1024
	DefaultDialTimeout      = 5 * time.Second
	DefaultKeepAlive        = 30 * time.Second
	defaultWriteBufferSize  = 4 << 10
)

// Config holds the connection settings. Zero fields take the defaults above.
type Config struct {
	Addr             string
	RequestQueueSize int // capacity of the outbound queue; a full queue blocks Submit
	MaxFrameSize     int
	ReadBufferSize   int
	WriteBufferSize  int
	DialTimeout      time.Duration
	KeepAlive        time.Duration // TCP keep-alive period; negative disables it
	Logger           *zap.Logger

	// Lifetime closes the connection when done. It plays the part of the
	// application shutdown signal.
	Lifetime context.Context
}

// Option customizes a Config.
type Option func(*Config)

func WithAddr(addr string) Option {
	return func(c *Config) { c.Addr = addr }
}

func WithRequestQueueSize(n int) Option {
	return func(c *Config) { c.RequestQueueSize = n }
}

func WithMaxFrameSize(n int) Option {
	return func(c *Config) { c.MaxFrameSize = n }
}

func WithBufferSizes(read, write int) Option {
	return func(c *Config) {
		c.ReadBufferSize = read
		c.WriteBufferSize = write
	}
}

func WithDialTimeout(d time.Duration) Option {
	return func(c *Config) { c.DialTimeout = d }
}

func WithKeepAlive(d time.Duration) Option {
	return func(c *Config) { c.KeepAlive = d }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

func WithLifetime(ctx context.Context) Option {
	return func(c *Config) { c.Lifetime = ctx }
}

func newConfig(opts []Option) Config {
	var cfg Config
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.RequestQueueSize <= 0 {
		cfg.RequestQueueSize = DefaultRequestQueueSize
	}
	if cfg.MaxFrameSize <= 0 {
		cfg.MaxFrameSize = protocol.DefaultMaxFrameSize
	}
	if cfg.ReadBufferSize <= 0 {
		cfg.ReadBufferSize = protocol.DefaultReadBufferSize
	}
	if cfg.WriteBufferSize <= 0 {
		cfg.WriteBufferSize = defaultWriteBufferSize
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.KeepAlive == 0 {
		cfg.KeepAlive = DefaultKeepAlive
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.L()
	}
	return cfg
}
