package server

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"satellite-rpc/protocol"
	"satellite-rpc/transport"
)

// Gate blocks in Wait until released, so tests can hold a request in flight.
type Gate struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGate() *Gate {
	return &Gate{entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *Gate) Wait() string {
	g.once.Do(func() { close(g.entered) })
	<-g.release
	return "released"
}

// startServer serves s on a loopback port and returns a connected client
// transport.
func startServer(t *testing.T, s *Server) *transport.Conn {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	errc := make(chan error, 1)
	go func() { errc <- s.Serve(ln) }()
	t.Cleanup(func() {
		s.Shutdown(time.Second)
		if err := <-errc; err != nil && !errors.Is(err, ErrServerClosed) {
			t.Errorf("serve returned %v", err)
		}
	})

	c, err := transport.Dial(context.Background(),
		transport.WithAddr(ln.Addr().String()),
		transport.WithLogger(zaptest.NewLogger(t)))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestServeLogin(t *testing.T) {
	c := startServer(t, newTestServer(t))

	req := request(1, "Login/Login", protocol.PayloadJSON, []byte(`{"user":"admin","password":"123456","sn":1024}`))
	resp, err := c.Submit(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Release()
	if resp.ID != 1 || resp.Status != protocol.StatusSuccess {
		t.Fatalf("unexpected response id=%d status=%s", resp.ID, resp.Status)
	}
	if got := string(resp.Payload.Bytes()); got != `{"isOk":true,"errMsg":"","sn":1024}` {
		t.Fatalf("unexpected payload %s", got)
	}
}

// 慢请求不能阻塞同一连接上的后续请求
func TestServeMultiplexing(t *testing.T) {
	s := newTestServer(t)
	gate := newGate()
	if err := s.Register(gate); err != nil {
		t.Fatal(err)
	}
	c := startServer(t, s)

	slow := make(chan *protocol.Response, 1)
	go func() {
		resp, err := c.Submit(context.Background(), request(1, "Gate/Wait", protocol.PayloadJSON, nil))
		if err != nil {
			t.Error(err)
		}
		slow <- resp
	}()
	<-gate.entered

	var wg sync.WaitGroup
	for id := uint64(2); id < 20; id++ {
		wg.Add(1)
		id := id
		go func() {
			defer wg.Done()
			resp, err := c.Submit(context.Background(), request(id, "Arith/Add", protocol.PayloadJSON, []byte(`{"A":1,"B":1}`)))
			if err != nil {
				t.Errorf("id %d: %v", id, err)
				return
			}
			defer resp.Release()
			if resp.ID != id || string(resp.Payload.Bytes()) != "2" {
				t.Errorf("id %d: got id %d payload %q", id, resp.ID, resp.Payload.Bytes())
			}
		}()
	}
	wg.Wait()

	select {
	case <-slow:
		t.Fatal("slow request finished before release")
	default:
	}
	close(gate.release)
	resp := <-slow
	if resp == nil || string(resp.Payload.Bytes()) != `"released"` {
		t.Fatalf("unexpected slow response %v", resp)
	}
	resp.Release()
}

func TestServeProtobuf(t *testing.T) {
	c := startServer(t, newTestServer(t))
	payload, _ := proto.Marshal(wrapperspb.Int64(3))

	resp, err := c.Submit(context.Background(), request(5, "Arith/Sleep", protocol.PayloadProtobuf, payload))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Release()
	got := &wrapperspb.Int64Value{}
	if err := proto.Unmarshal(resp.Payload.Bytes(), got); err != nil || got.GetValue() != 3 {
		t.Fatalf("unexpected response %v %v", got, err)
	}
}

func TestServeErrorStatus(t *testing.T) {
	c := startServer(t, newTestServer(t))

	resp, err := c.Submit(context.Background(), request(1, "Arith/Panic", protocol.PayloadJSON, nil))
	if err != nil {
		t.Fatal(err)
	}
	if resp.Status != protocol.StatusInternalError {
		t.Fatalf("expect InternalError, got %s", resp.Status)
	}
	resp.Release()

	// The connection survives a failing request.
	resp, err = c.Submit(context.Background(), request(2, "Arith/Ping", protocol.PayloadJSON, nil))
	if err != nil || resp.Status != protocol.StatusSuccess {
		t.Fatalf("expect success after failure, got %v %v", resp, err)
	}
	resp.Release()
}

func TestServeFrameTooLarge(t *testing.T) {
	s := newTestServer(t, WithMaxFrameSize(64))
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go s.Serve(ln)
	defer s.Shutdown(time.Second)

	nc, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer nc.Close()

	data, err := protocol.EncodeRequest(nil, request(1, "Arith/Echo", protocol.PayloadRaw, make([]byte, 256)))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := nc.Write(data); err != nil {
		t.Fatal(err)
	}
	nc.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, err = nc.Read(make([]byte, 1))
	var ne net.Error
	if err == nil || (errors.As(err, &ne) && ne.Timeout()) {
		t.Fatalf("expect the server to close the connection, got %v", err)
	}
}

func TestShutdownWaitsForRequests(t *testing.T) {
	s := newTestServer(t)
	gate := newGate()
	s.Register(gate)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	served := make(chan error, 1)
	go func() { served <- s.Serve(ln) }()

	c, err := transport.Dial(context.Background(), transport.WithAddr(ln.Addr().String()))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	go c.Submit(context.Background(), request(1, "Gate/Wait", protocol.PayloadJSON, nil))
	<-gate.entered

	done := make(chan error, 1)
	go func() { done <- s.Shutdown(5 * time.Second) }()

	select {
	case err := <-done:
		t.Fatalf("shutdown returned before the request finished: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	close(gate.release)

	if err := <-done; err != nil {
		t.Fatalf("expect clean shutdown, got %v", err)
	}
	if err := <-served; err != nil {
		t.Fatalf("expect Serve to return nil, got %v", err)
	}
	if err := s.Serve(ln); !errors.Is(err, ErrServerClosed) {
		t.Fatalf("expect ErrServerClosed, got %v", err)
	}
}

func TestShutdownTimeout(t *testing.T) {
	s := newTestServer(t)
	gate := newGate()
	s.Register(gate)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go s.Serve(ln)
	defer close(gate.release)

	c, err := transport.Dial(context.Background(), transport.WithAddr(ln.Addr().String()))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	go c.Submit(context.Background(), request(1, "Gate/Wait", protocol.PayloadJSON, nil))
	<-gate.entered

	err = s.Shutdown(20 * time.Millisecond)
	if err == nil || !strings.Contains(err.Error(), "timeout") {
		t.Fatalf("expect timeout error, got %v", err)
	}
}

func TestAddr(t *testing.T) {
	s := newTestServer(t)
	if s.Addr() != nil {
		t.Fatal("expect nil address before Serve")
	}
	c := startServer(t, s)
	resp, err := c.Submit(context.Background(), request(1, "Arith/Ping", protocol.PayloadJSON, nil))
	if err != nil {
		t.Fatal(err)
	}
	resp.Release()
	if s.Addr() == nil {
		t.Fatal("expect listener address after Serve")
	}
}

// Blob answers every call with a large raw payload and counts invocations.
type Blob struct {
	calls atomic.Int32
}

func (b *Blob) Big() []byte {
	b.calls.Add(1)
	return make([]byte, 256<<10)
}

// 响应队列满时只阻塞处理任务, 读循环仍然继续读取请求
func TestResponseQueueBackpressure(t *testing.T) {
	const n = 128
	s := newTestServer(t, WithResponseQueueSize(1))
	blob := &Blob{}
	if err := s.Register(blob); err != nil {
		t.Fatal(err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go s.Serve(ln)
	defer s.Shutdown(time.Second)

	nc, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer nc.Close()

	var frames []byte
	for id := uint64(1); id <= n; id++ {
		req := request(id, "Blob/Big", protocol.PayloadRaw, nil)
		if frames, err = protocol.EncodeRequest(frames, req); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := nc.Write(frames); err != nil {
		t.Fatal(err)
	}

	// The client has not read anything, so the write loop is stuck on the
	// socket long before n responses fit into the kernel buffers.
	deadline := time.Now().Add(5 * time.Second)
	for blob.calls.Load() < n {
		if time.Now().After(deadline) {
			t.Fatalf("handlers invoked while client never reads: %d/%d", blob.calls.Load(), n)
		}
		time.Sleep(time.Millisecond)
	}

	nc.SetReadDeadline(time.Now().Add(10 * time.Second))
	fr := protocol.NewFrameReader(nc, 0, 0)
	seen := make(map[uint64]bool)
	for i := 0; i < n; i++ {
		resp, err := fr.ReadResponse()
		if err != nil {
			t.Fatalf("read response %d: %v", i, err)
		}
		if resp.Status != protocol.StatusSuccess || resp.Payload.Len() != 256<<10 {
			t.Fatalf("id %d: status %s len %d", resp.ID, resp.Status, resp.Payload.Len())
		}
		seen[resp.ID] = true
		resp.Release()
	}
	if len(seen) != n {
		t.Fatalf("expect %d distinct responses, got %d", n, len(seen))
	}
}

// Tasks that start while Shutdown runs are either refused or waited for.
func TestShutdownRacingNewTasks(t *testing.T) {
	for round := 0; round < 20; round++ {
		s := newTestServer(t)
		var started, finished atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for s.beginTask() {
					started.Add(1)
					time.Sleep(100 * time.Microsecond)
					finished.Add(1)
					s.endTask()
				}
			}()
		}
		time.Sleep(time.Millisecond)

		if err := s.Shutdown(5 * time.Second); err != nil {
			t.Fatalf("round %d: shutdown: %v", round, err)
		}
		if got, want := finished.Load(), started.Load(); got != want {
			t.Fatalf("round %d: shutdown returned with %d of %d tasks finished", round, got, want)
		}
		wg.Wait()
		if s.beginTask() {
			t.Fatal("task accepted after shutdown")
		}
	}
}
