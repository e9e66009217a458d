// Package codec converts between Go values and request/response payloads.
package codec

import (
	"errors"
	"fmt"

	"satellite-rpc/protocol"
)

// ErrUnknownPayloadType is returned when no codec is registered for a
// payload type.
var ErrUnknownPayloadType = errors.New("codec: unknown payload type")

// ErrUnsupportedType is returned when a codec cannot handle a Go type.
var ErrUnsupportedType = errors.New("codec: unsupported type")

// Codec decodes payload bytes into a value and builds payloads from values.
type Codec interface {
	Type() protocol.PayloadType
	// Decode fills v, which must be a pointer, from data. Empty data leaves
	// v at its zero value.
	Decode(data []byte, v any) error
	// Writer returns a payload that serializes v when the frame is encoded.
	// A nil v yields an empty payload.
	Writer(v any) (protocol.Payload, error)
}

// Registry maps payload types to codecs.
type Registry struct {
	codecs map[protocol.PayloadType]Codec
}

// NewRegistry returns a registry holding cs. A later codec replaces an
// earlier one with the same type.
func NewRegistry(cs ...Codec) *Registry {
	r := &Registry{codecs: make(map[protocol.PayloadType]Codec, len(cs))}
	for _, c := range cs {
		r.codecs[c.Type()] = c
	}
	return r
}

// Get returns the codec for t.
func (r *Registry) Get(t protocol.PayloadType) (Codec, error) {
	if c, ok := r.codecs[t]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownPayloadType, t)
}

var defaultRegistry = NewRegistry(JSONCodec{}, ProtobufCodec{}, RawCodec{})

// Default returns the registry with the built-in JSON, protobuf and raw
// codecs.
func Default() *Registry { return defaultRegistry }

// Get looks t up in the default registry.
func Get(t protocol.PayloadType) (Codec, error) {
	return defaultRegistry.Get(t)
}

// bytesWriter wraps an already serialized value as a deferred payload.
func bytesWriter(b []byte) protocol.Payload {
	if len(b) == 0 {
		return protocol.Payload{}
	}
	return protocol.DeferredPayload(protocol.PayloadWriter{
		Size:   func() int { return len(b) },
		Append: func(dst []byte) ([]byte, error) { return append(dst, b...), nil },
	})
}
