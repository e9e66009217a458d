package codec

import (
	"fmt"

	"google.golang.org/protobuf/proto"

	"satellite-rpc/protocol"
)

// ProtobufCodec serializes proto.Message values. The message is sized with
// proto.Size and marshaled straight into the outgoing frame.
type ProtobufCodec struct{}

func (ProtobufCodec) Type() protocol.PayloadType { return protocol.PayloadProtobuf }

func (ProtobufCodec) Decode(data []byte, v any) error {
	m, ok := v.(proto.Message)
	if !ok {
		return fmt.Errorf("%w: protobuf cannot decode into %T", ErrUnsupportedType, v)
	}
	return proto.Unmarshal(data, m)
}

func (ProtobufCodec) Writer(v any) (protocol.Payload, error) {
	if v == nil {
		return protocol.Payload{}, nil
	}
	m, ok := v.(proto.Message)
	if !ok {
		return protocol.Payload{}, fmt.Errorf("%w: protobuf cannot encode %T", ErrUnsupportedType, v)
	}
	opts := proto.MarshalOptions{}
	size := opts.Size(m)
	if size == 0 {
		return protocol.Payload{}, nil
	}
	return protocol.DeferredPayload(protocol.PayloadWriter{
		Size:   func() int { return size },
		Append: func(dst []byte) ([]byte, error) { return opts.MarshalAppend(dst, m) },
	}), nil
}
