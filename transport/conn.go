// Package transport implements the client side of a connection: many
// concurrent calls multiplexed over one TCP stream.
//
// Each request carries a caller-assigned id. Submit registers the id in a
// correlation table, hands the request to a bounded queue and waits; the
// write loop is the only writer on the socket and the read loop the only
// reader, routing each response back to its caller by id.
//
//	goroutine-1 ──Submit(id=1)──┐
//	goroutine-2 ──Submit(id=2)──┼──→ queue ──→ writeLoop ──→ TCP ──→ Server
//	goroutine-3 ──Submit(id=3)──┘
//
//	readLoop: ←── response(id=2) → pending[2] chan → goroutine-2 wakes up
package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"satellite-rpc/protocol"
)

var (
	// ErrClosed is returned for calls on a connection that is shutting down.
	ErrClosed = errors.New("transport: connection closed")
	// ErrCancelled is returned when the caller's context ends before the
	// response arrives. It wraps the context error.
	ErrCancelled = errors.New("transport: call cancelled")
	// ErrDuplicateID is returned when a request id is already in flight.
	ErrDuplicateID = errors.New("transport: request id already in flight")
)

// State is the connection lifecycle stage.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Conn is one multiplexed client connection.
type Conn struct {
	cfg   Config
	nc    net.Conn
	log   *zap.Logger
	state atomic.Int32

	queue   chan *protocol.Request
	pending sync.Map // map[uint64]chan *protocol.Response, each buffered 1

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
	wg        sync.WaitGroup
}

// Dial connects to cfg.Addr and starts the connection loops. ctx bounds the
// dial only; use WithLifetime to tie the connection to a context.
func Dial(ctx context.Context, opts ...Option) (*Conn, error) {
	cfg := newConfig(opts)
	d := net.Dialer{Timeout: cfg.DialTimeout, KeepAlive: cfg.KeepAlive}
	nc, err := d.DialContext(ctx, "tcp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", cfg.Addr, err)
	}
	return newConn(nc, cfg), nil
}

// NewConn wraps an established stream. The Addr option is ignored.
func NewConn(nc net.Conn, opts ...Option) *Conn {
	return newConn(nc, newConfig(opts))
}

func newConn(nc net.Conn, cfg Config) *Conn {
	c := &Conn{
		cfg:   cfg,
		nc:    nc,
		queue: make(chan *protocol.Request, cfg.RequestQueueSize),
		done:  make(chan struct{}),
		log: cfg.Logger.With(
			zap.String("conn_id", uuid.NewString()),
			zap.Stringer("remote", nc.RemoteAddr()),
		),
	}
	c.state.Store(int32(StateOpen))

	c.wg.Add(2)
	go c.writeLoop()
	go c.readLoop()
	go func() {
		c.wg.Wait()
		c.state.Store(int32(StateClosed))
	}()

	if cfg.Lifetime != nil {
		stop := context.AfterFunc(cfg.Lifetime, func() { c.shutdown(cfg.Lifetime.Err()) })
		go func() {
			<-c.done
			stop()
		}()
	}
	c.log.Debug("connection open")
	return c
}

// State returns the current lifecycle stage.
func (c *Conn) State() State { return State(c.state.Load()) }

// Done is closed when the connection starts shutting down.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Err returns the error that shut the connection down, or nil.
func (c *Conn) Err() error {
	select {
	case <-c.done:
		return c.closeErr
	default:
		return nil
	}
}

// Submit sends req and waits for the response with the same id. Submit
// takes ownership of req; it is released once written or refused. The
// caller owns the returned response and must release it.
//
// Submit blocks while the outbound queue is full. When ctx ends first the
// correlation entry is removed and a late response is dropped.
func (c *Conn) Submit(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	if c.State() != StateOpen {
		req.Release()
		return nil, ErrClosed
	}
	ch := make(chan *protocol.Response, 1)
	if _, loaded := c.pending.LoadOrStore(req.ID, ch); loaded {
		req.Release()
		return nil, fmt.Errorf("%w: %d", ErrDuplicateID, req.ID)
	}

	// Register before enqueueing so the read loop can never see a response
	// for an unknown id.
	select {
	case c.queue <- req:
		// The write loop may have drained the queue already.
		select {
		case <-c.done:
			c.drainQueue()
		default:
		}
	case <-ctx.Done():
		c.pending.Delete(req.ID)
		req.Release()
		return nil, fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
	case <-c.done:
		c.pending.Delete(req.ID)
		req.Release()
		return nil, ErrClosed
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		c.abandon(req.ID, ch)
		return nil, fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
	case <-c.done:
		c.abandon(req.ID, ch)
		return nil, ErrClosed
	}
}

// abandon removes the entry for id. If a loop already claimed the entry, its
// response is on the way and is released here.
func (c *Conn) abandon(id uint64, ch chan *protocol.Response) {
	if _, ok := c.pending.LoadAndDelete(id); ok {
		return
	}
	resp := <-ch
	resp.Release()
}

// InFlight returns the number of registered correlation entries.
func (c *Conn) InFlight() int {
	n := 0
	c.pending.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Close shuts the connection down and waits for both loops to exit. Pending
// calls return ErrClosed.
func (c *Conn) Close() error {
	c.shutdown(nil)
	c.wg.Wait()
	return nil
}

func (c *Conn) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateClosing))
		c.closeErr = err
		close(c.done)
		if cerr := c.nc.Close(); cerr != nil {
			c.log.Debug("close connection", zap.Error(cerr))
		}
	})
}

func (c *Conn) writeLoop() {
	defer c.wg.Done()
	defer c.drainQueue()

	w := bufio.NewWriterSize(c.nc, c.cfg.WriteBufferSize)
	for {
		select {
		case req := <-c.queue:
			if err := c.write(w, req); err != nil {
				if c.State() == StateOpen {
					c.log.Warn("write failed", zap.Error(err))
				}
				c.shutdown(err)
				return
			}
		case <-c.done:
			return
		}
	}
}

// write encodes req straight into the writer's spare capacity. Nothing
// reaches the socket if encoding fails, so a bad request only fails its own
// call. A socket error is returned and ends the loop.
func (c *Conn) write(w *bufio.Writer, req *protocol.Request) error {
	defer req.Release()

	buf, err := protocol.EncodeRequest(w.AvailableBuffer(), req)
	if err != nil {
		c.log.Warn("encode request failed",
			zap.Uint64("request_id", req.ID), zap.String("path", req.Path), zap.Error(err))
		c.fail(req.ID, err)
		return nil
	}
	if _, err := w.Write(buf); err != nil {
		c.fail(req.ID, err)
		return err
	}
	if err := w.Flush(); err != nil {
		c.fail(req.ID, err)
		return err
	}
	return nil
}

// fail resolves the entry for id with an InternalError response.
func (c *Conn) fail(id uint64, err error) {
	v, ok := c.pending.LoadAndDelete(id)
	if !ok {
		return
	}
	resp := protocol.NewResponse(id, protocol.PayloadRaw)
	resp.Fail(protocol.StatusInternalError, err.Error())
	v.(chan *protocol.Response) <- resp
}

func (c *Conn) drainQueue() {
	for {
		select {
		case req := <-c.queue:
			req.Release()
		default:
			return
		}
	}
}

func (c *Conn) readLoop() {
	defer c.wg.Done()

	fr := protocol.NewFrameReader(c.nc, c.cfg.ReadBufferSize, c.cfg.MaxFrameSize)
	for {
		resp, err := fr.ReadResponse()
		if err != nil {
			if c.State() == StateOpen && !errors.Is(err, io.EOF) {
				c.log.Warn("read failed", zap.Error(err))
			} else {
				c.log.Debug("read loop done", zap.Error(err))
			}
			c.shutdown(err)
			return
		}
		c.resolve(resp)
	}
}

func (c *Conn) resolve(resp *protocol.Response) {
	if v, ok := c.pending.LoadAndDelete(resp.ID); ok {
		v.(chan *protocol.Response) <- resp
		return
	}
	c.log.Debug("dropping response without a pending call", zap.Uint64("request_id", resp.ID))
	resp.Release()
}
