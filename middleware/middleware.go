// Package middleware composes interceptors around a terminal handler. The
// same Pipeline type serves client calls, server connections and service
// dispatch; only the context type differs.
package middleware

// HandlerFunc processes one context. All per-call state lives in c.
type HandlerFunc[C any] func(c C) error

// Middleware wraps next and returns the wrapped handler.
type Middleware[C any] func(next HandlerFunc[C]) HandlerFunc[C]

// Interceptor is the flat form of a middleware: it decides whether and when
// to call next.
type Interceptor[C any] func(next HandlerFunc[C], c C) error

// Middleware adapts an interceptor to the wrapping form.
func (i Interceptor[C]) Middleware() Middleware[C] {
	return func(next HandlerFunc[C]) HandlerFunc[C] {
		return func(c C) error {
			return i(next, c)
		}
	}
}

// Chain 将多个中间件组合成一个中间件，第一个中间件在最外层
func Chain[C any](middlewares ...Middleware[C]) Middleware[C] {
	return func(next HandlerFunc[C]) HandlerFunc[C] {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

// Pipeline collects interceptors and builds them around a terminal handler.
// A Pipeline is not safe for concurrent registration; the handler returned by
// Build is immutable and safe for concurrent use.
type Pipeline[C any] struct {
	terminal    HandlerFunc[C]
	middlewares []Middleware[C]
}

// New returns an empty pipeline ending in terminal. A nil terminal is a no-op.
func New[C any](terminal HandlerFunc[C]) *Pipeline[C] {
	if terminal == nil {
		terminal = func(C) error { return nil }
	}
	return &Pipeline[C]{terminal: terminal}
}

// Use appends interceptors. They run in registration order on the way in.
func (p *Pipeline[C]) Use(interceptors ...Interceptor[C]) *Pipeline[C] {
	for _, i := range interceptors {
		p.middlewares = append(p.middlewares, i.Middleware())
	}
	return p
}

// UseMiddleware appends interceptors in the wrapping form.
func (p *Pipeline[C]) UseMiddleware(middlewares ...Middleware[C]) *Pipeline[C] {
	p.middlewares = append(p.middlewares, middlewares...)
	return p
}

// When branches to handler for contexts matching pred. The branch replaces
// the rest of the pipeline, terminal included.
func (p *Pipeline[C]) When(pred func(C) bool, handler HandlerFunc[C]) *Pipeline[C] {
	return p.Use(func(next HandlerFunc[C], c C) error {
		if pred(c) {
			return handler(c)
		}
		return next(c)
	})
}

// Len returns the number of registered interceptors.
func (p *Pipeline[C]) Len() int { return len(p.middlewares) }

// Build composes the registered interceptors around the terminal handler.
// Later registrations do not affect handlers already built.
func (p *Pipeline[C]) Build() HandlerFunc[C] {
	mws := make([]Middleware[C], len(p.middlewares))
	copy(mws, p.middlewares)
	return Chain(mws...)(p.terminal)
}
