package server

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap/zaptest"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"satellite-rpc/protocol"
)

type LoginRequest struct {
	User     string `json:"user"`
	Password string `json:"password"`
	Sn       int    `json:"sn"`
}

type LoginResponse struct {
	IsOk   bool   `json:"isOk"`
	ErrMsg string `json:"errMsg"`
	Sn     int    `json:"sn"`
}

type Login struct{}

func (*Login) Login(req *LoginRequest) (*LoginResponse, error) {
	if req.User == "admin" && req.Password == "123456" {
		return &LoginResponse{IsOk: true, Sn: req.Sn}, nil
	}
	return &LoginResponse{ErrMsg: "invalid user or password", Sn: req.Sn}, nil
}

type Args struct {
	A, B int
}

type Reply struct {
	Result int
}

type Arith struct{}

func (*Arith) Add(args Args) int { return args.A + args.B }

func (*Arith) Div(args *Args) (*Reply, error) {
	if args.B == 0 {
		return nil, errors.New("divide by zero")
	}
	return &Reply{Result: args.A / args.B}, nil
}

func (*Arith) Panic() { panic("boom") }

func (*Arith) Ping() {}

func (*Arith) Sleep(ctx context.Context, d *wrapperspb.Int64Value) (*wrapperspb.Int64Value, error) {
	select {
	case <-time.After(time.Duration(d.GetValue()) * time.Millisecond):
		return d, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (*Arith) Echo(b []byte) []byte { return b }

func (*Arith) Traced(ctx context.Context) bool {
	return trace.SpanContextFromContext(ctx).IsValid()
}

// Unsupported shape, skipped at registration.
func (*Arith) Pair() (int, string) { return 0, "" }

func newTestServer(t *testing.T, opts ...Option) *Server {
	t.Helper()
	opts = append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)
	s := NewServer(opts...)
	if err := s.Register(&Login{}); err != nil {
		t.Fatal(err)
	}
	if err := s.Register(&Arith{}); err != nil {
		t.Fatal(err)
	}
	return s
}

func request(id uint64, path string, pt protocol.PayloadType, payload []byte) *protocol.Request {
	return &protocol.Request{ID: id, Path: path, PayloadType: pt, Payload: protocol.BytesPayload(payload)}
}

// roundTrip sends the response through the frame codec, the way the client
// would receive it, and returns the decoded copy.
func roundTrip(t *testing.T, resp *protocol.Response) *protocol.Response {
	t.Helper()
	defer resp.Release()
	data, err := protocol.EncodeResponse(nil, resp)
	if err != nil {
		t.Fatalf("encode response: %v", err)
	}
	out, _, err := protocol.DecodeResponse(data)
	if err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}
