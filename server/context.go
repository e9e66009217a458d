package server

import (
	"context"
	"net"
	"reflect"

	"satellite-rpc/protocol"
)

// RawContext is the per-request state seen by connection interceptors. It
// owns the request and the response; Release returns both payloads to the
// arena once the response has been written.
type RawContext struct {
	// Ctx is derived from the connection lifetime; it is cancelled when the
	// connection or the server goes away.
	Ctx        context.Context
	ConnID     string
	RemoteAddr net.Addr
	Request    *protocol.Request
	Response   *protocol.Response
}

// Release returns pooled buffers. It is safe to call more than once.
func (rc *RawContext) Release() {
	rc.Request.Release()
	rc.Response.Release()
}

// ServiceContext is the state seen by service interceptors: the raw context
// plus the resolved endpoint. Args and Result are filled in by the dispatcher
// and are visible to interceptors after next returns.
type ServiceContext struct {
	*RawContext
	Endpoint *Endpoint
	Args     []reflect.Value
	Result   any

	ctx context.Context
}

// Context returns the context bound to context.Context parameters.
func (sc *ServiceContext) Context() context.Context { return sc.ctx }

// SetContext replaces the context bound to context.Context parameters, e.g.
// to carry a tracing span into the service method.
func (sc *ServiceContext) SetContext(ctx context.Context) { sc.ctx = ctx }
