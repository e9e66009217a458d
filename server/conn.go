package server

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"satellite-rpc/protocol"
)

// conn serves one accepted connection: a read loop that spawns a task per
// request, and a write loop that drains the bounded response queue.
type conn struct {
	srv *Server
	id  string
	nc  net.Conn
	log *zap.Logger

	queue    chan *RawContext
	inflight sync.WaitGroup
	cancel   context.CancelFunc
	mu       sync.Mutex
}

func newConn(srv *Server, nc net.Conn) *conn {
	id := newConnID()
	return &conn{
		srv:   srv,
		id:    id,
		nc:    nc,
		queue: make(chan *RawContext, srv.cfg.ResponseQueueSize),
		log: srv.log.With(
			zap.String("conn_id", id),
			zap.Stringer("remote", nc.RemoteAddr()),
		),
	}
}

func (c *conn) serve(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
	defer cancel()
	defer c.nc.Close()

	c.log.Debug("connection accepted")
	var g errgroup.Group
	g.Go(func() error { return c.readLoop(ctx) })
	g.Go(func() error { return c.writeLoop() })
	if err := g.Wait(); err != nil {
		c.log.Warn("connection closed with error", zap.Error(err))
		return
	}
	c.log.Debug("connection closed")
}

// close cancels the connection context and closes the socket, which ends the
// read loop.
func (c *conn) close() error {
	c.cancelConn()
	return c.nc.Close()
}

// readLoop decodes requests and spawns one handler task each, so a slow
// request never stalls the ones behind it. When reading ends it waits for the
// tasks and closes the queue, which lets the write loop finish.
func (c *conn) readLoop(ctx context.Context) (err error) {
	defer func() {
		if err != nil {
			// Fatal read error: pending handlers drop instead of queueing.
			c.cancelConn()
		}
		c.inflight.Wait()
		close(c.queue)
	}()

	fr := protocol.NewFrameReader(c.nc, c.srv.cfg.ReadBufferSize, c.srv.cfg.MaxFrameSize)
	for {
		req, err := fr.ReadRequest()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		if !c.srv.beginTask() {
			c.log.Debug("server shutting down, dropping request", zap.Uint64("request_id", req.ID))
			req.Release()
			return nil
		}

		c.inflight.Add(1)
		go c.handleRequest(ctx, req)
	}
}

func (c *conn) cancelConn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
}

// handleRequest runs one request through the pipelines and queues the
// result. If the connection is gone the response is dropped.
func (c *conn) handleRequest(ctx context.Context, req *protocol.Request) {
	defer c.srv.endTask()
	defer c.inflight.Done()

	rc := &RawContext{
		Ctx:        ctx,
		ConnID:     c.id,
		RemoteAddr: c.nc.RemoteAddr(),
		Request:    req,
		Response:   protocol.NewResponse(req.ID, req.PayloadType),
	}
	c.srv.handle(rc)

	select {
	case c.queue <- rc:
	case <-ctx.Done():
		c.log.Debug("connection gone, dropping response", zap.Uint64("request_id", req.ID))
		rc.Release()
	}
}

// writeLoop drains the queue until it is closed. After a socket error it
// keeps draining so every context is released, but writes nothing.
func (c *conn) writeLoop() error {
	w := bufio.NewWriterSize(c.nc, c.srv.cfg.WriteBufferSize)
	var broken error
	for rc := range c.queue {
		if broken == nil {
			if err := c.write(w, rc); err != nil {
				c.log.Warn("write failed, dropping response",
					zap.Uint64("request_id", rc.Response.ID), zap.Error(err))
				broken = err
				c.close()
			}
		}
		rc.Release()
	}
	if broken == nil {
		broken = w.Flush()
	}
	if errors.Is(broken, net.ErrClosed) {
		return nil
	}
	return broken
}

// write encodes one response into the buffered writer. A response that
// cannot be encoded is replaced by an InternalError response. The buffer is
// flushed whenever the queue runs empty.
func (c *conn) write(w *bufio.Writer, rc *RawContext) error {
	resp := rc.Response
	buf, err := protocol.EncodeResponse(w.AvailableBuffer(), resp)
	if err != nil {
		c.log.Error("encode response failed",
			zap.Uint64("request_id", resp.ID), zap.String("path", rc.Request.Path), zap.Error(err))
		resp.Fail(protocol.StatusInternalError, "encode response: "+err.Error())
		if buf, err = protocol.EncodeResponse(w.AvailableBuffer(), resp); err != nil {
			return nil
		}
	}
	if _, err := w.Write(buf); err != nil {
		return err
	}
	if len(c.queue) == 0 {
		return w.Flush()
	}
	return nil
}
