package observability

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type (
	correlationIDKey struct{}
	batchIDKey       struct{}
)

func NewLogger(level string) (*zap.Logger, error) {
	parsedLevel, err := parseLevel(level)
	if err != nil {
		return nil, err
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(parsedLevel)
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.DisableStacktrace = true

	logger, err := cfg.Build(zap.AddCaller())
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	return logger, nil
}

func parseLevel(level string) (zapcore.Level, error) {
	var parsed zapcore.Level
	normalized := strings.ToLower(strings.TrimSpace(level))
	if normalized == "" {
		normalized = "info"
	}

	if err := parsed.UnmarshalText([]byte(normalized)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	return parsed, nil
}

func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}

	return context.WithValue(ctx, correlationIDKey{}, correlationID)
}

func CorrelationIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}

	correlationID, ok := ctx.Value(correlationIDKey{}).(string)
	if !ok || correlationID == "" {
		return "", false
	}

	return correlationID, true
}

// WithBatchID tags ctx with the batch being dispatched.
func WithBatchID(ctx context.Context, batchID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}

	return context.WithValue(ctx, batchIDKey{}, batchID)
}

func BatchIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}

	batchID, ok := ctx.Value(batchIDKey{}).(string)
	if !ok || batchID == "" {
		return "", false
	}

	return batchID, true
}

// WithContextLogger adds correlationId and batchId fields when ctx carries them.
func WithContextLogger(logger *zap.Logger, ctx context.Context) *zap.Logger {
	if logger == nil {
		return nil
	}

	fields := make([]zap.Field, 0, 2)
	if correlationID, ok := CorrelationIDFromContext(ctx); ok {
		fields = append(fields, zap.String("correlationId", correlationID))
	}
	if batchID, ok := BatchIDFromContext(ctx); ok {
		fields = append(fields, zap.String("batchId", batchID))
	}
	if len(fields) == 0 {
		return logger
	}

	return logger.With(fields...)
}
