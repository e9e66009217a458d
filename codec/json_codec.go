package codec

import (
	"encoding/json"

	"satellite-rpc/protocol"
)

// JSONCodec uses Go's standard library encoding/json for serialization.
// Pros: human-readable, cross-language, easy to debug.
// Cons: slower due to reflection + string parsing, larger payload (field names repeated).
type JSONCodec struct{}

func (JSONCodec) Type() protocol.PayloadType { return protocol.PayloadJSON }

func (JSONCodec) Decode(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

// Writer marshals v up front: the length prefix has to be known before the
// payload is appended.
func (JSONCodec) Writer(v any) (protocol.Payload, error) {
	if v == nil {
		return protocol.Payload{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return protocol.Payload{}, err
	}
	return bytesWriter(b), nil
}
