package dispatch

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"
)

// LocalCaller identifies the operator at the local CLI. It is always trusted.
const LocalCaller = "local"

var (
	ErrUnauthorized     = errors.New("caller is not authorized")
	ErrUnknownOperation = errors.New("unknown operation")
)

type Handler func(ctx context.Context, req Request) (Result, error)

type Middleware func(Handler) Handler

// Chain wraps h so that the first middleware is outermost.
func Chain(h Handler, middlewares ...Middleware) Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// Recover turns a panicking handler into a failure result.
func Recover(logger *zap.Logger) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req Request) (result Result, err error) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("operation panicked", zap.String("operation", req.Operation), zap.Any("panic", r), zap.Stack("stack"))
					result = Result{}
					err = fmt.Errorf("%s: internal error", req.Operation)
				}
			}()
			return next(ctx, req)
		}
	}
}

// RequireAdmin rejects callers not listed by admins. The list is read on
// every request so reloaded configuration applies immediately.
func RequireAdmin(admins func() []string) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req Request) (Result, error) {
			caller := strings.TrimSpace(req.Caller)
			if caller != LocalCaller && !slices.Contains(admins(), caller) {
				return Result{}, fmt.Errorf("%w: %q", ErrUnauthorized, caller)
			}
			return next(ctx, req)
		}
	}
}

// Log records the outcome of every operation. Arguments are never logged.
func Log(logger *zap.Logger) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req Request) (Result, error) {
			started := time.Now()
			result, err := next(ctx, req)

			fields := []zap.Field{
				zap.String("operation", req.Operation),
				zap.String("caller", req.Caller),
				zap.String("status", string(StatusFor(err))),
				zap.Duration("elapsed", time.Since(started)),
			}
			if err != nil {
				logger.Info("operation rejected", append(fields, zap.Error(err))...)
			} else {
				logger.Debug("operation completed", fields...)
			}
			return result, err
		}
	}
}
