package client

import (
	"context"

	"satellite-rpc/protocol"
)

// CallContext carries one call through the client interceptors. The
// terminal handler builds Request from Args, submits it and stores the
// reply in Response.
type CallContext struct {
	Ctx         context.Context
	Path        string
	PayloadType protocol.PayloadType
	Args        any

	// Request is the last request sent. Its payload is released once
	// written; ID and Path stay valid.
	Request  *protocol.Request
	Response *protocol.Response
	Attempts int
}

// Release returns the response payload to the arena.
func (cc *CallContext) Release() {
	if cc.Response != nil {
		cc.Response.Release()
		cc.Response = nil
	}
}
