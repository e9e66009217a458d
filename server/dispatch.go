package server

import (
	"fmt"

	"satellite-rpc/codec"
	"satellite-rpc/protocol"
)

// dispatch terminates the connection pipeline: resolve the path, then run
// the service pipeline.
func (s *Server) dispatch(rc *RawContext) error {
	ep, err := s.registry.Resolve(rc.Request.Path)
	if err != nil {
		return err
	}
	sc := &ServiceContext{RawContext: rc, Endpoint: ep, ctx: rc.Ctx}
	return s.serviceHandler(sc)
}

// invoke terminates the service pipeline: bind, call, and attach the result
// as a deferred payload in the request's payload type.
func (s *Server) invoke(sc *ServiceContext) error {
	req := sc.Request
	// A missing codec only matters if a parameter or the result needs it.
	c, _ := s.cfg.Codecs.Get(req.PayloadType)

	args, err := sc.Endpoint.bind(sc.ctx, c, req.Payload.Bytes())
	if err != nil {
		return err
	}
	sc.Args = args

	result, err := sc.Endpoint.Invoke(args)
	if err != nil {
		return err
	}
	sc.Result = result

	sc.Response.Status = protocol.StatusSuccess
	if result == nil {
		sc.Response.SetPayload(protocol.Payload{})
		return nil
	}
	if c == nil {
		return fmt.Errorf("encode result: %w: %s", codec.ErrUnknownPayloadType, req.PayloadType)
	}
	payload, err := c.Writer(result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	sc.Response.SetPayload(payload)
	return nil
}
