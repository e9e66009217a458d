package protocol

import (
	"satellite-rpc/pool"
)

// PayloadWriter streams a payload straight into the frame being encoded.
// Size must report exactly the number of bytes Append will add.
type PayloadWriter struct {
	Size   func() int
	Append func(dst []byte) ([]byte, error)
}

type payloadKind uint8

const (
	payloadEmpty payloadKind = iota
	payloadBuffer
	payloadDeferred
)

// Payload is one of: empty, a materialized arena buffer, or a deferred
// writer. The zero value is empty. The variants can only be built through the
// constructors below, so a payload never carries both a buffer and a writer.
type Payload struct {
	kind payloadKind
	buf  *pool.Buffer
	w    PayloadWriter
}

// BufferPayload wraps a rented buffer. The payload takes ownership of buf.
func BufferPayload(buf *pool.Buffer) Payload {
	if buf == nil {
		return Payload{}
	}
	return Payload{kind: payloadBuffer, buf: buf}
}

// BytesPayload copies p into an arena buffer.
func BytesPayload(p []byte) Payload {
	if len(p) == 0 {
		return Payload{}
	}
	return BufferPayload(pool.Copy(p))
}

// StringPayload copies s into an arena buffer.
func StringPayload(s string) Payload {
	if s == "" {
		return Payload{}
	}
	buf := pool.Get(len(s))
	copy(buf.Bytes(), s)
	return BufferPayload(buf)
}

// DeferredPayload wraps a writer. A writer with nil functions is empty.
func DeferredPayload(w PayloadWriter) Payload {
	if w.Size == nil || w.Append == nil {
		return Payload{}
	}
	return Payload{kind: payloadDeferred, w: w}
}

// IsEmpty reports whether the payload is the empty variant.
func (p Payload) IsEmpty() bool { return p.kind == payloadEmpty }

// IsDeferred reports whether the payload is produced by a writer.
func (p Payload) IsDeferred() bool { return p.kind == payloadDeferred }

// Len returns the encoded payload length.
func (p Payload) Len() int {
	switch p.kind {
	case payloadBuffer:
		return p.buf.Len()
	case payloadDeferred:
		return p.w.Size()
	default:
		return 0
	}
}

// Bytes returns the materialized bytes, or nil for empty and deferred
// payloads.
func (p Payload) Bytes() []byte {
	if p.kind == payloadBuffer {
		return p.buf.Bytes()
	}
	return nil
}

// appendTo appends exactly size bytes to dst.
func (p Payload) appendTo(dst []byte, size int) ([]byte, error) {
	switch p.kind {
	case payloadBuffer:
		return append(dst, p.buf.Bytes()...), nil
	case payloadDeferred:
		start := len(dst)
		out, err := p.w.Append(dst)
		if err != nil {
			return dst, err
		}
		if len(out)-start != size {
			return dst, ErrPayloadSize
		}
		return out, nil
	default:
		return dst, nil
	}
}

// Release returns a materialized buffer to the arena and resets p to empty.
func (p *Payload) Release() {
	if p.kind == payloadBuffer {
		p.buf.Release()
	}
	*p = Payload{}
}
