// Package server implements the RPC server: endpoint registration, the
// per-connection read and write loops, and the two middleware pipelines.
//
// Request processing pipeline:
//
//	Accept conn → readLoop (single goroutine decodes frames)
//	  → for each request: go handleRequest (parallel processing)
//	    → connection middleware → resolve endpoint
//	      → service middleware → bind → invoke → attach result
//	  → response queue → writeLoop (single goroutine encodes frames)
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"satellite-rpc/middleware"
	"satellite-rpc/protocol"
)

// Server is the RPC server that registers services and handles incoming requests.
type Server struct {
	cfg      Config
	log      *zap.Logger
	registry *Registry

	connPipeline    *middleware.Pipeline[*RawContext]
	servicePipeline *middleware.Pipeline[*ServiceContext]
	buildOnce       sync.Once
	connHandler     middleware.HandlerFunc[*RawContext]
	serviceHandler  middleware.HandlerFunc[*ServiceContext]

	mu        sync.Mutex
	listeners []net.Listener
	conns     sync.Map // conn id → *conn

	baseCtx  context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup // in-flight handler tasks
	shutdown atomic.Bool
	// taskMu orders wg.Add against the shutdown flag: once Shutdown holds
	// the write side, no new task can join wg.
	taskMu sync.RWMutex
}

// NewServer creates a server with no endpoints.
func NewServer(opts ...Option) *Server {
	cfg := newConfig(opts)
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:      cfg,
		log:      cfg.Logger,
		registry: NewRegistry(cfg.Logger),
		baseCtx:  ctx,
		cancel:   cancel,
	}
	s.connPipeline = middleware.New(s.dispatch)
	s.servicePipeline = middleware.New(s.invoke)
	return s
}

// Register registers a service receiver (e.g. &Login{}). Each exported method
// becomes an endpoint at "<TypeName>/<Method>".
func (s *Server) Register(rcvr any) error {
	return s.registry.Register(rcvr)
}

// RegisterName registers rcvr under an explicit service name.
func (s *Server) RegisterName(name string, rcvr any) error {
	return s.registry.RegisterName(name, rcvr)
}

// Registry exposes the endpoint table.
func (s *Server) Registry() *Registry { return s.registry }

// UseConn appends connection interceptors. They see every request, before
// the path is resolved. Interceptors added after Serve are ignored.
func (s *Server) UseConn(interceptors ...middleware.Interceptor[*RawContext]) {
	s.connPipeline.Use(interceptors...)
}

// UseService appends service interceptors. They run once the endpoint is
// resolved and wrap binding and invocation.
func (s *Server) UseService(interceptors ...middleware.Interceptor[*ServiceContext]) {
	s.servicePipeline.Use(interceptors...)
}

// WhenConn branches requests matching pred to handler instead of dispatch.
func (s *Server) WhenConn(pred func(*RawContext) bool, handler middleware.HandlerFunc[*RawContext]) {
	s.connPipeline.When(pred, handler)
}

// build freezes the endpoint table and composes both pipelines once.
func (s *Server) build() {
	s.buildOnce.Do(func() {
		s.registry.freeze()
		s.serviceHandler = s.servicePipeline.Build()
		s.connHandler = s.connPipeline.Build()
	})
}

// ListenAndServe listens on the configured address and serves it.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown. It returns nil after a
// graceful shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.build()

	// Checked under the lock so Shutdown either sees ln or Serve sees the flag.
	s.mu.Lock()
	if s.shutdown.Load() {
		s.mu.Unlock()
		ln.Close()
		return ErrServerClosed
	}
	s.listeners = append(s.listeners, ln)
	s.mu.Unlock()
	s.log.Info("rpc server listening", zap.Stringer("addr", ln.Addr()))

	// Accept loop: one goroutine per connection
	for {
		nc, err := ln.Accept()
		if err != nil {
			// During shutdown, listener.Close() causes Accept to return an error.
			if s.shutdown.Load() {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				s.log.Warn("accept timeout", zap.Error(err))
				continue
			}
			return err
		}
		c := newConn(s, nc)
		s.conns.Store(c.id, c)
		go func() {
			defer s.conns.Delete(c.id)
			c.serve(s.baseCtx)
		}()
	}
}

// Addr returns the address of the first listener, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.listeners) == 0 {
		return nil
	}
	return s.listeners[0].Addr()
}

// Handle runs req through both pipelines in-process, without a connection.
// It takes ownership of req; the caller releases the returned response.
func (s *Server) Handle(ctx context.Context, req *protocol.Request) *protocol.Response {
	s.build()
	rc := &RawContext{
		Ctx:      ctx,
		Request:  req,
		Response: protocol.NewResponse(req.ID, req.PayloadType),
	}
	s.handle(rc)
	req.Release()
	return rc.Response
}

// handle runs the connection pipeline and converts any failure into a
// response status. A panic in a service method fails only its own request.
func (s *Server) handle(rc *RawContext) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic while handling request",
				zap.Uint64("request_id", rc.Request.ID),
				zap.String("path", rc.Request.Path),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			rc.Response.Fail(protocol.StatusInternalError, "internal server error")
		}
	}()

	if err := s.connHandler(rc); err != nil {
		status := statusOf(err)
		s.log.Warn("request failed",
			zap.Uint64("request_id", rc.Request.ID),
			zap.String("path", rc.Request.Path),
			zap.Stringer("status", status),
			zap.Error(err))
		rc.Response.Fail(status, err.Error())
	}
}

// Shutdown performs graceful shutdown:
//  1. Set shutdown flag (so Accept error is recognized as intentional)
//  2. Close the listeners (stop accepting new connections)
//  3. Wait for in-flight requests to finish (with timeout)
//  4. Cancel the connection contexts and close the connections
func (s *Server) Shutdown(timeout time.Duration) error {
	s.taskMu.Lock()
	s.shutdown.Store(true)
	s.taskMu.Unlock()

	var err error
	s.mu.Lock()
	for _, ln := range s.listeners {
		if cerr := ln.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = multierr.Append(err, cerr)
		}
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		err = multierr.Append(err, fmt.Errorf("timeout waiting for ongoing requests to finish"))
	}

	s.cancel()
	s.conns.Range(func(_, v any) bool {
		if cerr := v.(*conn).close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = multierr.Append(err, cerr)
		}
		return true
	})
	return err
}

// beginTask registers a handler task unless shutdown has started. Every
// successful call must be paired with endTask.
func (s *Server) beginTask() bool {
	s.taskMu.RLock()
	defer s.taskMu.RUnlock()
	if s.shutdown.Load() {
		return false
	}
	s.wg.Add(1)
	return true
}

func (s *Server) endTask() { s.wg.Done() }

func newConnID() string { return uuid.NewString() }
