package shared

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type contextKey string

const cycleIDKey contextKey = "cycle_id"

// NewCycleContext tags ctx with a fresh cycle ID so every log line written
// during one update or polling cycle can be grouped.
func NewCycleContext(ctx context.Context) (context.Context, string) {
	id := uuid.New().String()
	return context.WithValue(ctx, cycleIDKey, id), id
}

// CycleID returns the cycle ID carried by ctx, or "" outside of a cycle.
func CycleID(ctx context.Context) string {
	if id, ok := ctx.Value(cycleIDKey).(string); ok {
		return id
	}
	return ""
}

// CycleLogger returns logger annotated with the cycle ID from ctx.
func CycleLogger(ctx context.Context, logger *zap.Logger) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	if id := CycleID(ctx); id != "" {
		return logger.With(zap.String("cycle_id", id))
	}
	return logger
}
