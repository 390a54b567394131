// Package logging wraps zap so every GitGuard process logs the same
// shape of structured fields regardless of which component emits them.
package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a production zap logger that writes JSON to stdout, with a
// "component" field baked in so log aggregation can split by subsystem
// without the caller repeating it on every call site.
func New(component string) *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.OutputPaths = []string{"stdout"}

	logger, err := cfg.Build()
	if err != nil {
		// Building the production config can only fail on a broken sink;
		// stderr always exists.
		fallback := zap.NewNop()
		_ = fallback
		os.Stderr.WriteString("logging: falling back to nop logger: " + err.Error() + "\n")
		return zap.NewNop().With(zap.String("component", component))
	}
	return logger.With(zap.String("component", component))
}

// EventFields builds the common field set attached to every log line
// about a normalized event, so grep-by-delivery-id works uniformly
// across ingress, workflow, and portal logs.
func EventFields(deliveryID, repo string, kind string) []zap.Field {
	return []zap.Field{
		zap.String("delivery_id", deliveryID),
		zap.String("repo", repo),
		zap.String("event_kind", kind),
	}
}
