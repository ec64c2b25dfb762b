package requestctx

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

type contextKey string

const (
	loggerContextKey  contextKey = "github.com/nilemarket/storefront/internal/platform/requestctx/logger"
	traceContextKey   contextKey = "github.com/nilemarket/storefront/internal/platform/requestctx/trace"
	sessionContextKey contextKey = "github.com/nilemarket/storefront/internal/platform/requestctx/session"
)

var noopLogger = zap.NewNop()

// TraceInfo captures trace metadata propagated through request context.
type TraceInfo struct {
	TraceID   string
	SpanID    string
	Sampled   bool
	ProjectID string
}

// WithLogger stores the logger in context for downstream consumers.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		logger = noopLogger
	}
	return context.WithValue(ctx, loggerContextKey, logger)
}

// Logger retrieves the zap logger from context or returns a no-op logger.
func Logger(ctx context.Context) *zap.Logger {
	if ctx == nil {
		return noopLogger
	}
	if logger, ok := ctx.Value(loggerContextKey).(*zap.Logger); ok && logger != nil {
		return logger
	}
	return noopLogger
}

// WithTrace stores the trace metadata on the context.
func WithTrace(ctx context.Context, info TraceInfo) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, traceContextKey, info)
}

// Trace retrieves the trace metadata from context when available.
func Trace(ctx context.Context) (TraceInfo, bool) {
	if ctx == nil {
		return TraceInfo{}, false
	}
	info, ok := ctx.Value(traceContextKey).(TraceInfo)
	return info, ok
}

// TraceID extracts the trace identifier from context when present.
func TraceID(ctx context.Context) string {
	info, _ := Trace(ctx)
	return info.TraceID
}

type sessionSlot struct {
	mu sync.Mutex
	id string
}

// WithSessionSlot installs a mutable session holder so outer middleware can observe the session
// resolved or issued by inner handlers.
func WithSessionSlot(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Value(sessionContextKey).(*sessionSlot); ok {
		return ctx
	}
	return context.WithValue(ctx, sessionContextKey, &sessionSlot{})
}

// WithSessionID records the shopper session for the request. When a slot is already installed
// it is updated in place and ctx is returned unchanged.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	ctx = WithSessionSlot(ctx)
	slot := ctx.Value(sessionContextKey).(*sessionSlot)
	slot.mu.Lock()
	slot.id = sessionID
	slot.mu.Unlock()
	return ctx
}

// SessionID returns the shopper session for the request, or "" when the caller has none yet.
func SessionID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	slot, ok := ctx.Value(sessionContextKey).(*sessionSlot)
	if !ok {
		return ""
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()
	return slot.id
}
