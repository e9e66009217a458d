package codec

import (
	"fmt"

	"satellite-rpc/protocol"
)

// RawCodec passes []byte payloads through unchanged.
type RawCodec struct{}

func (RawCodec) Type() protocol.PayloadType { return protocol.PayloadRaw }

func (RawCodec) Decode(data []byte, v any) error {
	p, ok := v.(*[]byte)
	if !ok {
		return fmt.Errorf("%w: raw cannot decode into %T", ErrUnsupportedType, v)
	}
	*p = append((*p)[:0], data...)
	return nil
}

func (RawCodec) Writer(v any) (protocol.Payload, error) {
	switch b := v.(type) {
	case nil:
		return protocol.Payload{}, nil
	case []byte:
		return bytesWriter(b), nil
	case string:
		return bytesWriter([]byte(b)), nil
	default:
		return protocol.Payload{}, fmt.Errorf("%w: raw cannot encode %T", ErrUnsupportedType, v)
	}
}
