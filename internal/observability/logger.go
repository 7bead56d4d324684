package observability

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type correlationIDKey struct{}

// correlationField is the structured-log field carrying the request's
// correlation id; the HTTP boundary echoes the same value as X-Request-ID.
const correlationField = "correlationId"

// NewLogger builds the process-wide zap logger. Levels use zap's text forms
// (debug, info, warn, error); a blank level means info.
func NewLogger(level string) (*zap.Logger, error) {
	lvl := zapcore.InfoLevel
	if normalized := strings.ToLower(strings.TrimSpace(level)); normalized != "" {
		if err := lvl.UnmarshalText([]byte(normalized)); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.DisableStacktrace = true

	logger, err := cfg.Build(zap.AddCaller())
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	return logger, nil
}

// WithCorrelationID stores a request-scoped correlation id on the context.
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, correlationIDKey{}, correlationID)
}

// CorrelationIDFromContext reports the context's correlation id, if any.
func CorrelationIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	id, ok := ctx.Value(correlationIDKey{}).(string)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// WithContextLogger annotates the logger with the context's correlation id,
// returning it unchanged when the context carries none.
func WithContextLogger(logger *zap.Logger, ctx context.Context) *zap.Logger {
	if logger == nil {
		return nil
	}

	id, ok := CorrelationIDFromContext(ctx)
	if !ok {
		return logger
	}
	return logger.With(zap.String(correlationField, id))
}
