package client

import (
	"go.uber.org/zap"

	"satellite-rpc/codec"
	"satellite-rpc/middleware"
	"satellite-rpc/protocol"
	"satellite-rpc/transport"
)

// Config holds the client settings.
type Config struct {
	PayloadType  protocol.PayloadType // default Protobuf
	PoolSize     int                  // connections opened by Dial, default 1
	Codecs       *codec.Registry
	Logger       *zap.Logger
	Interceptors []middleware.Interceptor[*CallContext]
	Transport    []transport.Option
}

// Option customizes a Config.
type Option func(*Config)

func WithPayloadType(t protocol.PayloadType) Option {
	return func(c *Config) { c.PayloadType = t }
}

func WithPoolSize(n int) Option {
	return func(c *Config) { c.PoolSize = n }
}

func WithCodecs(r *codec.Registry) Option {
	return func(c *Config) { c.Codecs = r }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// WithInterceptors appends call interceptors, outermost first.
func WithInterceptors(interceptors ...middleware.Interceptor[*CallContext]) Option {
	return func(c *Config) { c.Interceptors = append(c.Interceptors, interceptors...) }
}

// WithTransportOptions passes options to every connection opened by Dial.
func WithTransportOptions(opts ...transport.Option) Option {
	return func(c *Config) { c.Transport = append(c.Transport, opts...) }
}

func newConfig(opts []Option) Config {
	cfg := Config{PayloadType: protocol.PayloadProtobuf}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 1
	}
	if cfg.Codecs == nil {
		cfg.Codecs = codec.Default()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.L()
	}
	return cfg
}
