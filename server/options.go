package server

import (
	"go.uber.org/zap"

	"satellite-rpc/codec"
	"satellite-rpc/protocol"
)

const (
	DefaultAddr              = "127.0.0.1:58888"
	DefaultResponseQueueSize = 1024
	defaultWriteBufferSize   = 4 << 10
)

// Config holds the server settings. Zero fields take the defaults.
type Config struct {
	Addr              string // used by ListenAndServe
	ResponseQueueSize int    // per connection; a full queue blocks handler tasks, not the reader
	MaxFrameSize      int
	ReadBufferSize    int
	WriteBufferSize   int
	Logger            *zap.Logger
	Codecs            *codec.Registry
}

// Option customizes a Config.
type Option func(*Config)

func WithAddr(addr string) Option {
	return func(c *Config) { c.Addr = addr }
}

func WithResponseQueueSize(n int) Option {
	return func(c *Config) { c.ResponseQueueSize = n }
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

func WithLogger(l *zap.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

func WithCodecs(r *codec.Registry) Option {
	return func(c *Config) { c.Codecs = r }
}

func newConfig(opts []Option) Config {
	var cfg Config
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.ResponseQueueSize <= 0 {
		cfg.ResponseQueueSize = DefaultResponseQueueSize
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
	if cfg.Logger == nil {
		cfg.Logger = zap.L()
	}
	if cfg.Codecs == nil {
		cfg.Codecs = codec.Default()
	}
	return cfg
}
