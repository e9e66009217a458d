package server

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"go.uber.org/zap/zaptest"

	"satellite-rpc/protocol"
)

func TestRegisterEndpoints(t *testing.T) {
	r := NewRegistry(zaptest.NewLogger(t))
	if err := r.Register(&Arith{}); err != nil {
		t.Fatal(err)
	}

	var paths []string
	for _, ep := range r.Endpoints() {
		paths = append(paths, ep.Path)
	}
	want := []string{"Arith/Add", "Arith/Div", "Arith/Echo", "Arith/Panic", "Arith/Ping", "Arith/Sleep", "Arith/Traced"}
	if !reflect.DeepEqual(paths, want) {
		t.Fatalf("expect %v, got %v", want, paths)
	}

	ep, err := r.Resolve("Arith/Div")
	if err != nil {
		t.Fatal(err)
	}
	if ep.Service != "Arith" || ep.Method != "Div" || len(ep.Params) != 1 || ep.Result != reflect.TypeOf(&Reply{}) {
		t.Fatalf("unexpected endpoint %+v", ep)
	}
	if ep.Owner != reflect.TypeOf(&Arith{}) {
		t.Fatalf("unexpected owner %v", ep.Owner)
	}

	ping, _ := r.Resolve("Arith/Ping")
	if ping.Result != nil || len(ping.Params) != 0 {
		t.Fatalf("Ping must have no params and no result: %+v", ping)
	}
}

func TestRegisterName(t *testing.T) {
	r := NewRegistry(nil)
	if err := r.RegisterName("Auth", &Login{}); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Resolve("Auth/Login"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Resolve("Login/Login"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expect ErrNotFound, got %v", err)
	}
}

func TestRegisterErrors(t *testing.T) {
	r := NewRegistry(nil)
	if err := r.Register(Login{}); err == nil {
		t.Error("expect error for non-pointer receiver")
	}
	if err := r.Register(nil); err == nil {
		t.Error("expect error for nil receiver")
	}
	if err := r.Register(&struct{}{}); err == nil {
		t.Error("expect error for type without methods")
	}
	if err := r.Register(&Login{}); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(&Login{}); err == nil {
		t.Error("expect error for duplicate service")
	}

	r.freeze()
	if err := r.Register(&Arith{}); !errors.Is(err, ErrRegistryFrozen) {
		t.Errorf("expect ErrRegistryFrozen, got %v", err)
	}
}

type greeterV1 struct{}

func (*greeterV1) Hello() string { return "v1" }

type greeterV2 struct{}

func (*greeterV2) Bye() string   { return "v2" }
func (*greeterV2) Hello() string { return "v2" }

func TestRegisterDuplicateLeavesRegistryUnchanged(t *testing.T) {
	r := NewRegistry(zaptest.NewLogger(t))
	if err := r.RegisterName("Greeter", &greeterV1{}); err != nil {
		t.Fatal(err)
	}
	if err := r.RegisterName("Greeter", &greeterV2{}); err == nil {
		t.Fatal("expect error for duplicate endpoint Greeter/Hello")
	}

	if _, err := r.Resolve("Greeter/Bye"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("failed registration must not add Greeter/Bye, got %v", err)
	}
	ep, err := r.Resolve("Greeter/Hello")
	if err != nil {
		t.Fatal(err)
	}
	if ep.Owner != reflect.TypeOf(&greeterV1{}) {
		t.Fatalf("Greeter/Hello replaced by %v", ep.Owner)
	}
	if n := len(r.Endpoints()); n != 1 {
		t.Fatalf("expect 1 endpoint, got %d", n)
	}
}

func TestRegisterAfterHandle(t *testing.T) {
	s := newTestServer(t)
	s.Handle(context.Background(), request(1, "Arith/Ping", protocol.PayloadJSON, nil)).Release()
	if err := s.RegisterName("Late", &Login{}); !errors.Is(err, ErrRegistryFrozen) {
		t.Fatalf("expect ErrRegistryFrozen, got %v", err)
	}
}

func TestEndpointInvoke(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(&Arith{})

	ep, _ := r.Resolve("Arith/Div")
	res, err := ep.Invoke([]reflect.Value{reflect.ValueOf(&Args{A: 6, B: 3})})
	if err != nil {
		t.Fatal(err)
	}
	if res.(*Reply).Result != 2 {
		t.Fatalf("expect 2, got %v", res)
	}

	res, err = ep.Invoke([]reflect.Value{reflect.ValueOf(&Args{A: 1})})
	if err == nil || res != nil {
		t.Fatalf("expect error and nil result, got %v %v", res, err)
	}
}
