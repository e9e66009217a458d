package protocol

import (
	"errors"
	"io"
)

// DefaultReadBufferSize is the initial FrameReader buffer size.
const DefaultReadBufferSize = 4 << 10

// FrameReader accumulates bytes from a stream and hands out whole frames.
// It is the restartable-decode loop shared by the client and server read
// loops: try to decode what is buffered, and on ErrIncomplete read more and
// retry the same prefix. Only consumed bytes are dropped from the buffer.
//
// A FrameReader is not safe for concurrent use; each connection has exactly
// one reader goroutine.
type FrameReader struct {
	r          io.Reader
	buf        []byte
	start, end int
	initial    int
	limit      int
}

// NewFrameReader creates a reader with an initial buffer of size bytes that
// refuses frames whose declared length exceeds limit.
func NewFrameReader(r io.Reader, size, limit int) *FrameReader {
	if size < LengthSize {
		size = DefaultReadBufferSize
	}
	if limit <= 0 || limit > MaxFrameSize {
		limit = MaxFrameSize
	}
	return &FrameReader{r: r, buf: make([]byte, size), initial: size, limit: limit}
}

// ReadRequest blocks until a whole request frame is available.
func (f *FrameReader) ReadRequest() (*Request, error) {
	var req *Request
	err := f.next(func(b []byte) (int, error) {
		r, n, err := DecodeRequest(b)
		req = r
		return n, err
	})
	return req, err
}

// ReadResponse blocks until a whole response frame is available.
func (f *FrameReader) ReadResponse() (*Response, error) {
	var resp *Response
	err := f.next(func(b []byte) (int, error) {
		r, n, err := DecodeResponse(b)
		resp = r
		return n, err
	})
	return resp, err
}

// Buffered returns the number of bytes read but not yet consumed.
func (f *FrameReader) Buffered() int {
	return f.end - f.start
}

func (f *FrameReader) next(decode func([]byte) (int, error)) error {
	for {
		if pending := f.buf[f.start:f.end]; len(pending) > 0 {
			if DeclaredLength(pending) > f.limit {
				return ErrFrameTooLarge
			}
			n, err := decode(pending)
			if err == nil {
				f.consume(n)
				return nil
			}
			if !errors.Is(err, ErrIncomplete) {
				return err
			}
		}
		if err := f.fill(); err != nil {
			return err
		}
	}
}

func (f *FrameReader) consume(n int) {
	f.start += n
	if f.start < f.end {
		return
	}
	f.start, f.end = 0, 0
	// Drop a buffer that grew for one large frame.
	if len(f.buf) > 4*f.initial {
		f.buf = make([]byte, f.initial)
	}
}

// fill makes room for the pending frame and performs one Read.
func (f *FrameReader) fill() error {
	need := len(f.buf)
	if total := DeclaredLength(f.buf[f.start:f.end]); total >= 0 {
		need = LengthSize + total
	}

	if f.start > 0 && f.start+need > len(f.buf) {
		copy(f.buf, f.buf[f.start:f.end])
		f.end -= f.start
		f.start = 0
	}
	if need > len(f.buf) {
		nb := make([]byte, need)
		copy(nb, f.buf[:f.end])
		f.buf = nb
	}

	n, err := f.r.Read(f.buf[f.end:])
	f.end += n
	if n > 0 {
		return nil
	}
	if err == io.EOF && f.end > f.start {
		return io.ErrUnexpectedEOF
	}
	if err == nil {
		return io.ErrNoProgress
	}
	return err
}
