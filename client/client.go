// Package client is the caller side API: typed calls over one or more
// multiplexed connections, with interceptors around every call.
package client

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"satellite-rpc/middleware"
	"satellite-rpc/protocol"
	"satellite-rpc/transport"
)

// Transport submits a request and waits for its response. *transport.Conn
// implements it.
type Transport interface {
	Submit(ctx context.Context, req *protocol.Request) (*protocol.Response, error)
	Close() error
}

type Client struct {
	cfg     Config
	log     *zap.Logger
	conns   []Transport
	next    atomic.Uint64 // round-robin cursor over conns
	ids     atomic.Uint64
	handler middleware.HandlerFunc[*CallContext]
}

// Dial opens cfg.PoolSize connections and returns a client using them.
func Dial(ctx context.Context, opts ...Option) (*Client, error) {
	cfg := newConfig(opts)
	topts := append([]transport.Option{transport.WithLogger(cfg.Logger)}, cfg.Transport...)

	conns := make([]Transport, 0, cfg.PoolSize)
	for i := 0; i < cfg.PoolSize; i++ {
		conn, err := transport.Dial(ctx, topts...)
		if err != nil {
			for _, c := range conns {
				c.Close()
			}
			return nil, err
		}
		conns = append(conns, conn)
	}
	return newClient(cfg, conns), nil
}

// New returns a client over existing connections.
func New(conns []Transport, opts ...Option) (*Client, error) {
	if len(conns) == 0 {
		return nil, ErrNoConnection
	}
	return newClient(newConfig(opts), conns), nil
}

func newClient(cfg Config, conns []Transport) *Client {
	c := &Client{cfg: cfg, log: cfg.Logger, conns: conns}
	c.handler = middleware.New(c.send).Use(cfg.Interceptors...).Build()
	return c
}

// Call invokes path with args and decodes the reply into reply, which may be
// nil to discard it. A non-success status is returned as *StatusError.
func (c *Client) Call(ctx context.Context, path string, args, reply any) error {
	cc := &CallContext{
		Ctx:         ctx,
		Path:        path,
		PayloadType: c.cfg.PayloadType,
		Args:        args,
	}
	defer cc.Release()

	if err := c.handler(cc); err != nil {
		return err
	}
	if reply == nil || cc.Response == nil || cc.Response.Payload.IsEmpty() {
		return nil
	}
	cd, err := c.cfg.Codecs.Get(cc.Response.PayloadType)
	if err != nil {
		return err
	}
	if err := cd.Decode(cc.Response.Payload.Bytes(), reply); err != nil {
		return fmt.Errorf("client: decode reply of %s: %w", path, err)
	}
	return nil
}

// Invoke calls a method that takes no payload and discards the reply.
func (c *Client) Invoke(ctx context.Context, path string) error {
	return c.Call(ctx, path, nil, nil)
}

// Close closes every connection.
func (c *Client) Close() error {
	var err error
	for _, conn := range c.conns {
		err = multierr.Append(err, conn.Close())
	}
	return err
}

// send terminates the interceptor chain: serialize Args under a fresh id,
// submit on the next connection and keep the response in cc.
func (c *Client) send(cc *CallContext) error {
	cd, err := c.cfg.Codecs.Get(cc.PayloadType)
	if err != nil {
		return err
	}
	payload, err := cd.Writer(cc.Args)
	if err != nil {
		return fmt.Errorf("client: encode args of %s: %w", cc.Path, err)
	}

	req := &protocol.Request{
		ID:          c.ids.Add(1),
		Path:        cc.Path,
		PayloadType: cc.PayloadType,
		Payload:     payload,
	}
	cc.Release()
	cc.Request = req
	cc.Attempts++

	conn := c.conns[(c.next.Add(1)-1)%uint64(len(c.conns))]
	resp, err := conn.Submit(cc.Ctx, req)
	if err != nil {
		return err
	}
	cc.Response = resp
	if resp.Status != protocol.StatusSuccess {
		return &StatusError{Status: resp.Status, Message: string(resp.Payload.Bytes())}
	}
	return nil
}
