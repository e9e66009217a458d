package client

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"satellite-rpc/middleware"
)

// Logging logs every call with its status and duration.
func Logging(log *zap.Logger) middleware.Interceptor[*CallContext] {
	return func(next middleware.HandlerFunc[*CallContext], cc *CallContext) error {
		start := time.Now()
		err := next(cc)
		fields := []zap.Field{
			zap.String("path", cc.Path),
			zap.Duration("duration", time.Since(start)),
			zap.Stringer("status", StatusOf(err)),
		}
		if cc.Request != nil {
			fields = append(fields, zap.Uint64("request_id", cc.Request.ID))
		}
		if err != nil {
			log.Info("rpc call failed", append(fields, zap.Error(err))...)
			return err
		}
		log.Debug("rpc call", fields...)
		return nil
	}
}

// Timeout bounds each attempt. Placed inside Retry it gives every attempt
// its own deadline.
func Timeout(d time.Duration) middleware.Interceptor[*CallContext] {
	return func(next middleware.HandlerFunc[*CallContext], cc *CallContext) error {
		parent := cc.Ctx
		ctx, cancel := context.WithTimeout(parent, d)
		defer cancel()

		cc.Ctx = ctx
		err := next(cc)
		cc.Ctx = parent
		return err
	}
}

// Retryable reports whether a failed attempt may be retried.
type Retryable func(cc *CallContext, err error) bool

// RetryOnTimeout retries attempts that ran out of time while the caller's
// own context is still live.
func RetryOnTimeout(cc *CallContext, err error) bool {
	return errors.Is(err, context.DeadlineExceeded) && cc.Ctx.Err() == nil
}

// Retry re-runs failed attempts with exponential backoff. Each attempt is
// serialized again under a new request id. A nil retryable uses
// RetryOnTimeout.
func Retry(maxRetries int, baseDelay time.Duration, retryable Retryable) middleware.Interceptor[*CallContext] {
	if retryable == nil {
		retryable = RetryOnTimeout
	}
	return func(next middleware.HandlerFunc[*CallContext], cc *CallContext) error {
		err := next(cc)
		for i := 0; i < maxRetries; i++ {
			if err == nil || !retryable(cc, err) {
				return err // Success or non-retryable error, return immediately
			}
			// Exponential backoff
			select {
			case <-time.After(baseDelay * time.Duration(1<<i)):
			case <-cc.Ctx.Done():
				return err
			}
			err = next(cc)
		}
		return err // Return last error after retries
	}
}
