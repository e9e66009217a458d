package server

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync/atomic"

	"go.uber.org/zap"

	"satellite-rpc/codec"
)

var (
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
)

// Endpoint is one dispatchable method, reachable at "<Service>/<Method>".
// Endpoints are built at registration and never change afterwards.
type Endpoint struct {
	Service string
	Method  string
	Path    string
	Params  []reflect.Type // receiver excluded
	Result  reflect.Type   // nil when the method returns no value
	Owner   reflect.Type

	invoke func(args []reflect.Value) (any, error)
}

// Invoke calls the method with already bound arguments.
func (e *Endpoint) Invoke(args []reflect.Value) (any, error) {
	return e.invoke(args)
}

// bind builds the argument list: context parameters get ctx, every other
// parameter is decoded from the payload.
func (e *Endpoint) bind(ctx context.Context, c codec.Codec, payload []byte) ([]reflect.Value, error) {
	args := make([]reflect.Value, len(e.Params))
	for i, typ := range e.Params {
		if typ == contextType {
			args[i] = reflect.ValueOf(ctx)
			continue
		}
		if c == nil {
			return nil, &BindError{Path: e.Path, Index: i, Err: codec.ErrUnknownPayloadType}
		}

		// Decode into a fresh value; pointer parameters receive the pointer.
		var v reflect.Value
		if typ.Kind() == reflect.Pointer {
			v = reflect.New(typ.Elem())
		} else {
			v = reflect.New(typ)
		}
		if err := c.Decode(payload, v.Interface()); err != nil {
			return nil, &BindError{Path: e.Path, Index: i, Err: err}
		}
		if typ.Kind() != reflect.Pointer {
			v = v.Elem()
		}
		args[i] = v
	}
	return args, nil
}

// Registry maps paths to endpoints. Registration happens before serving;
// after freeze the table is read without locking.
type Registry struct {
	endpoints map[string]*Endpoint
	frozen    atomic.Bool
	log       *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{endpoints: make(map[string]*Endpoint), log: log}
}

// Register registers every exported method of rcvr under its type name.
func (r *Registry) Register(rcvr any) error {
	typ := reflect.TypeOf(rcvr)
	if typ == nil {
		return fmt.Errorf("rpc: rcvr must not be nil")
	}
	if typ.Kind() == reflect.Pointer {
		typ = typ.Elem()
	}
	return r.RegisterName(typ.Name(), rcvr)
}

// RegisterName is like Register but uses name as the service name.
func (r *Registry) RegisterName(name string, rcvr any) error {
	if r.frozen.Load() {
		return ErrRegistryFrozen
	}
	// 1. 用 reflect.TypeOf / ValueOf 获取类型和值
	typ := reflect.TypeOf(rcvr)
	if typ == nil || typ.Kind() != reflect.Pointer {
		return fmt.Errorf("rpc: rcvr must be a pointer, got %v", typ)
	}
	if name == "" {
		return fmt.Errorf("rpc: no service name for type %s", typ)
	}
	val := reflect.ValueOf(rcvr)

	// 2. 扫描导出方法，构建 endpoint
	eps := make(map[string]*Endpoint)
	for i := 0; i < typ.NumMethod(); i++ {
		method := typ.Method(i)
		ep, ok := newEndpoint(name, typ, val, method)
		if !ok {
			r.log.Debug("skipping method with unsupported signature",
				zap.String("service", name), zap.String("method", method.Name), zap.Stringer("type", method.Type))
			continue
		}
		if _, dup := r.endpoints[ep.Path]; dup {
			return fmt.Errorf("rpc: endpoint already registered: %s", ep.Path)
		}
		eps[ep.Path] = ep
	}
	if len(eps) == 0 {
		return fmt.Errorf("rpc: type %s has no exported methods of suitable type", typ)
	}

	// 3. 全部校验通过后再写入, 失败时注册表保持不变
	for path, ep := range eps {
		r.endpoints[path] = ep
	}
	return nil
}

// Resolve returns the endpoint registered for path. Matching is exact and
// case-sensitive.
func (r *Registry) Resolve(path string) (*Endpoint, error) {
	if ep, ok := r.endpoints[path]; ok {
		return ep, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
}

// Endpoints returns all endpoints sorted by path.
func (r *Registry) Endpoints() []*Endpoint {
	eps := make([]*Endpoint, 0, len(r.endpoints))
	for _, ep := range r.endpoints {
		eps = append(eps, ep)
	}
	sort.Slice(eps, func(i, j int) bool { return eps[i].Path < eps[j].Path })
	return eps
}

func (r *Registry) freeze() { r.frozen.Store(true) }

// newEndpoint accepts methods returning (), (error), (T) or (T, error).
// Variadic methods are rejected. The invoker closure is built once here so
// dispatch only pays for the reflect call itself.
func newEndpoint(service string, owner reflect.Type, rcvr reflect.Value, method reflect.Method) (*Endpoint, bool) {
	mtype := method.Type
	if mtype.IsVariadic() {
		return nil, false
	}

	valueIdx, errIdx := -1, -1
	switch mtype.NumOut() {
	case 0:
	case 1:
		if mtype.Out(0) == errorType {
			errIdx = 0
		} else {
			valueIdx = 0
		}
	case 2:
		if mtype.Out(1) != errorType || mtype.Out(0) == errorType {
			return nil, false
		}
		valueIdx, errIdx = 0, 1
	default:
		return nil, false
	}

	ep := &Endpoint{
		Service: service,
		Method:  method.Name,
		Path:    service + "/" + method.Name,
		Owner:   owner,
		Params:  make([]reflect.Type, mtype.NumIn()-1),
	}
	for i := range ep.Params {
		ep.Params[i] = mtype.In(i + 1)
	}
	if valueIdx >= 0 {
		ep.Result = mtype.Out(valueIdx)
	}

	fn := method.Func
	ep.invoke = func(args []reflect.Value) (any, error) {
		in := make([]reflect.Value, len(args)+1)
		in[0] = rcvr
		copy(in[1:], args)
		out := fn.Call(in)

		var err error
		if errIdx >= 0 && !out[errIdx].IsNil() {
			err = out[errIdx].Interface().(error)
		}
		if valueIdx < 0 || err != nil {
			return nil, err
		}
		return resultValue(out[valueIdx]), nil
	}
	return ep, true
}

// resultValue unwraps v, mapping nil pointers, maps and the like to nil so
// codecs produce an empty payload.
func resultValue(v reflect.Value) any {
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice:
		if v.IsNil() {
			return nil
		}
	}
	return v.Interface()
}
