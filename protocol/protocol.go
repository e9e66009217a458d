// Package protocol implements the length-prefixed binary frames exchanged by
// client and server.
//
// Every frame starts with a little-endian int32 holding the number of bytes
// that follow it, so a reader can buffer until the whole frame is available
// before decoding anything.
//
// Request frame:
//
//	┌──────────┬──────────┬────────────┬──┬─────────────┬─────────────┬─────────┐
//	│ totalLen │    id    │ path UTF-8 │00│ payloadType │ payloadLen  │ payload │
//	│  int32   │  uint64  │  n bytes   │  │    int32    │    int32    │ n bytes │
//	└──────────┴──────────┴────────────┴──┴─────────────┴─────────────┴─────────┘
//
// Response frame:
//
//	┌──────────┬──────────┬──────────┬─────────────┬─────────────┬─────────┐
//	│ totalLen │    id    │  status  │ payloadType │ payloadLen  │ payload │
//	│  int32   │  uint64  │  int32   │    int32    │    int32    │ n bytes │
//	└──────────┴──────────┴──────────┴─────────────┴─────────────┴─────────┘
//
// The id correlates a response with its request within one connection.
package protocol

import (
	"errors"
	"fmt"
)

const (
	// LengthSize is the size of the totalLen prefix.
	LengthSize = 4

	// Minimum body sizes (bytes after the length prefix).
	minRequestBody  = 8 + 1 + 4 + 4 // id, empty path terminator, payloadType, payloadLen
	responseHeader  = 8 + 4 + 4 + 4 // id, status, payloadType, payloadLen
	minResponseBody = responseHeader

	// MaxFrameSize is the hard cap on totalLen. Peers declaring more are
	// treated as broken.
	MaxFrameSize = 64 << 20

	// DefaultMaxFrameSize is the default per-connection limit.
	DefaultMaxFrameSize = 16 << 20
)

var (
	// ErrIncomplete means more bytes are needed; nothing was consumed.
	ErrIncomplete = errors.New("protocol: incomplete frame")
	// ErrFrameTooLarge means the declared length exceeds the frame limit.
	ErrFrameTooLarge = errors.New("protocol: frame too large")
	// ErrMalformedFrame means the frame is internally inconsistent.
	ErrMalformedFrame = errors.New("protocol: malformed frame")
	// ErrInvalidPath means the request path contains a NUL byte.
	ErrInvalidPath = errors.New("protocol: path must not contain NUL")
	// ErrPayloadSize means a deferred writer wrote a different number of
	// bytes than it announced.
	ErrPayloadSize = errors.New("protocol: payload writer size mismatch")
)

// PayloadType identifies the serialization format of a payload.
type PayloadType int32

const (
	PayloadProtobuf PayloadType = 0
	PayloadJSON     PayloadType = 1
	PayloadRaw      PayloadType = 2 // opaque bytes, passed through unchanged
)

func (t PayloadType) String() string {
	switch t {
	case PayloadProtobuf:
		return "protobuf"
	case PayloadJSON:
		return "json"
	case PayloadRaw:
		return "raw"
	default:
		return fmt.Sprintf("PayloadType(%d)", int32(t))
	}
}

// Status is the outcome carried by a response frame.
type Status int32

const (
	StatusSuccess       Status = 0
	StatusNotFound      Status = 1 // no endpoint for the request path
	StatusBadRequest    Status = 2 // the payload could not be bound to the method parameters
	StatusInternalError Status = 3
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "Success"
	case StatusNotFound:
		return "NotFound"
	case StatusBadRequest:
		return "BadRequest"
	case StatusInternalError:
		return "InternalError"
	default:
		return fmt.Sprintf("Status(%d)", int32(s))
	}
}

// Request is a client to server call.
type Request struct {
	ID          uint64
	Path        string // "<Service>/<Method>"
	PayloadType PayloadType
	Payload     Payload
}

// Release returns the request payload to the arena.
func (r *Request) Release() {
	if r != nil {
		r.Payload.Release()
	}
}

// Response is the server reply to a Request with the same ID.
type Response struct {
	ID          uint64
	Status      Status
	PayloadType PayloadType
	Payload     Payload
}

// NewResponse returns a successful, empty response stamped with id.
func NewResponse(id uint64, pt PayloadType) *Response {
	return &Response{ID: id, Status: StatusSuccess, PayloadType: pt}
}

// SetPayload replaces the payload, releasing the previous one.
func (r *Response) SetPayload(p Payload) {
	r.Payload.Release()
	r.Payload = p
}

// Fail sets a non-success status with msg as the payload. By convention the
// payload of a failed response is the error description.
func (r *Response) Fail(status Status, msg string) {
	r.Status = status
	r.SetPayload(StringPayload(msg))
}

// Release returns the response payload to the arena.
func (r *Response) Release() {
	if r != nil {
		r.Payload.Release()
	}
}
