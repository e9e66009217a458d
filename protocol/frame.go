package protocol

import (
	"bytes"
	"encoding/binary"
	"slices"
	"strings"
)

var le = binary.LittleEndian

// EncodeRequest appends the wire form of r to dst. A deferred payload is
// written straight into dst without an intermediate copy. On error dst is
// returned unchanged.
func EncodeRequest(dst []byte, r *Request) ([]byte, error) {
	if strings.IndexByte(r.Path, 0) >= 0 {
		return dst, ErrInvalidPath
	}
	size := r.Payload.Len()
	body := 8 + len(r.Path) + 1 + 4 + 4 + size
	if body > MaxFrameSize {
		return dst, ErrFrameTooLarge
	}

	start := len(dst)
	dst = slices.Grow(dst, LengthSize+body)
	dst = le.AppendUint32(dst, uint32(body))
	dst = le.AppendUint64(dst, r.ID)
	dst = append(dst, r.Path...)
	dst = append(dst, 0)
	dst = le.AppendUint32(dst, uint32(r.PayloadType))
	dst = le.AppendUint32(dst, uint32(size))

	out, err := r.Payload.appendTo(dst, size)
	if err != nil {
		return dst[:start], err
	}
	return out, nil
}

// EncodeResponse appends the wire form of r to dst. On error dst is returned
// unchanged.
func EncodeResponse(dst []byte, r *Response) ([]byte, error) {
	size := r.Payload.Len()
	body := responseHeader + size
	if body > MaxFrameSize {
		return dst, ErrFrameTooLarge
	}

	start := len(dst)
	dst = slices.Grow(dst, LengthSize+body)
	dst = le.AppendUint32(dst, uint32(body))
	dst = le.AppendUint64(dst, r.ID)
	dst = le.AppendUint32(dst, uint32(r.Status))
	dst = le.AppendUint32(dst, uint32(r.PayloadType))
	dst = le.AppendUint32(dst, uint32(size))

	out, err := r.Payload.appendTo(dst, size)
	if err != nil {
		return dst[:start], err
	}
	return out, nil
}

// DecodeRequest decodes one request frame from the front of data and reports
// how many bytes it used. If data holds less than a whole frame it returns
// ErrIncomplete and consumes nothing, so the caller can append more bytes and
// call again with the same prefix.
//
// The payload is copied into an arena buffer; the caller releases it with
// Request.Release.
func DecodeRequest(data []byte) (*Request, int, error) {
	body, n, err := frameBody(data, minRequestBody)
	if err != nil {
		return nil, 0, err
	}

	id := le.Uint64(body)
	rest := body[8:]
	end := bytes.IndexByte(rest, 0)
	if end < 0 {
		return nil, 0, ErrMalformedFrame
	}
	path := string(rest[:end])
	rest = rest[end+1:]

	pt, payload, err := payloadSection(rest)
	if err != nil {
		return nil, 0, err
	}
	return &Request{
		ID:          id,
		Path:        path,
		PayloadType: pt,
		Payload:     BytesPayload(payload),
	}, n, nil
}

// DecodeResponse is the response counterpart of DecodeRequest.
func DecodeResponse(data []byte) (*Response, int, error) {
	body, n, err := frameBody(data, minResponseBody)
	if err != nil {
		return nil, 0, err
	}

	id := le.Uint64(body)
	status := Status(int32(le.Uint32(body[8:])))
	pt, payload, err := payloadSection(body[12:])
	if err != nil {
		return nil, 0, err
	}
	return &Response{
		ID:          id,
		Status:      status,
		PayloadType: pt,
		Payload:     BytesPayload(payload),
	}, n, nil
}

// DeclaredLength returns the totalLen prefix of data, or -1 when fewer than
// LengthSize bytes are available.
func DeclaredLength(data []byte) int {
	if len(data) < LengthSize {
		return -1
	}
	return int(int32(le.Uint32(data)))
}

func frameBody(data []byte, minBody int) ([]byte, int, error) {
	if len(data) < LengthSize {
		return nil, 0, ErrIncomplete
	}
	total := DeclaredLength(data)
	switch {
	case total > MaxFrameSize:
		return nil, 0, ErrFrameTooLarge
	case total < minBody:
		return nil, 0, ErrMalformedFrame
	case len(data) < LengthSize+total:
		return nil, 0, ErrIncomplete
	}
	return data[LengthSize : LengthSize+total], LengthSize + total, nil
}

// payloadSection parses [payloadType][payloadLen][payload]; the payload must
// run exactly to the end of the frame.
func payloadSection(b []byte) (PayloadType, []byte, error) {
	if len(b) < 8 {
		return 0, nil, ErrMalformedFrame
	}
	pt := PayloadType(int32(le.Uint32(b)))
	size := int32(le.Uint32(b[4:]))
	b = b[8:]
	if size < 0 || int(size) != len(b) {
		return 0, nil, ErrMalformedFrame
	}
	return pt, b, nil
}
