// Package audit provides the best-effort, append-only audit sink. Emitting
// an event can never fail from the caller's point of view: sinks swallow
// their own errors so auditing never affects control flow.
package audit

import (
	"context"

	"github.com/linnemanlabs/go-core/log"
)

// Sink receives audit events. Implementations must not return errors and
// must not panic; delivery is best-effort.
type Sink interface {
	Emit(ctx context.Context, kind string, payload map[string]any)
}

// Nop discards all events.
type Nop struct{}

// Emit implements Sink.
func (Nop) Emit(context.Context, string, map[string]any) {}

// Log writes audit events as structured log lines.
type Log struct {
	logger log.Logger
}

// NewLog returns a Sink backed by the given logger.
func NewLog(logger log.Logger) *Log {
	if logger == nil {
		logger = log.Nop()
	}
	return &Log{logger: logger}
}

// Emit implements Sink.
func (l *Log) Emit(ctx context.Context, kind string, payload map[string]any) {
	fields := make([]any, 0, 2+2*len(payload))
	fields = append(fields, "audit_kind", kind)
	for k, v := range payload {
		fields = append(fields, k, v)
	}
	l.logger.Info(ctx, "audit event", fields...)
}

// Multi fans an event out to several sinks.
type Multi []Sink

// Emit implements Sink.
func (m Multi) Emit(ctx context.Context, kind string, payload map[string]any) {
	for _, s := range m {
		s.Emit(ctx, kind, payload)
	}
}
