package server

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"satellite-rpc/middleware"
)

// Logging logs every request with its final status and duration.
func Logging(log *zap.Logger) middleware.Interceptor[*RawContext] {
	return func(next middleware.HandlerFunc[*RawContext], rc *RawContext) error {
		start := time.Now()
		err := next(rc)
		fields := []zap.Field{
			zap.String("conn_id", rc.ConnID),
			zap.Uint64("request_id", rc.Request.ID),
			zap.String("path", rc.Request.Path),
			zap.Duration("duration", time.Since(start)),
		}
		if err != nil {
			log.Info("rpc request failed", append(fields, zap.Error(err))...)
			return err
		}
		log.Info("rpc request", append(fields, zap.Stringer("status", rc.Response.Status))...)
		return nil
	}
}

// RateLimit 创建一个基于令牌桶算法的限流拦截器，所有连接共享同一个桶
func RateLimit(r float64, burst int) middleware.Interceptor[*RawContext] {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next middleware.HandlerFunc[*RawContext], rc *RawContext) error {
		if !limiter.Allow() {
			return ErrRateLimited
		}
		return next(rc)
	}
}

// Timeout bounds each request with a deadline. Service methods see it
// through their context.Context parameter; a request still running when the
// deadline passes fails with ErrTimeout once it returns.
func Timeout(d time.Duration) middleware.Interceptor[*RawContext] {
	return func(next middleware.HandlerFunc[*RawContext], rc *RawContext) error {
		parent := rc.Ctx
		ctx, cancel := context.WithTimeout(parent, d)
		defer cancel()

		rc.Ctx = ctx
		err := next(rc)
		rc.Ctx = parent
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ErrTimeout
		}
		return err
	}
}

const tracerName = "satellite-rpc/server"

// Tracing starts a span around binding and invocation. The span context is
// passed to the method through its context.Context parameter. A nil tp uses
// the global provider.
func Tracing(tp trace.TracerProvider) middleware.Interceptor[*ServiceContext] {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	tracer := tp.Tracer(tracerName)
	return func(next middleware.HandlerFunc[*ServiceContext], sc *ServiceContext) error {
		ctx, span := tracer.Start(sc.Context(), "RPC request",
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.Int64("rpc.request_id", int64(sc.Request.ID)),
				attribute.String("rpc.path", sc.Request.Path),
				attribute.String("rpc.service", sc.Endpoint.Service),
				attribute.String("rpc.method", sc.Endpoint.Method),
			))
		defer span.End()

		sc.SetContext(ctx)
		err := next(sc)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		span.SetStatus(codes.Ok, "")
		return nil
	}
}
