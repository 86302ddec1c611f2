package auth

import (
	"context"
	"log/slog"

	"github.com/nerrad567/equipwatch-core/internal/audit"
)

// AuditRecorder appends security events. *audit.Log satisfies it.
type AuditRecorder interface {
	Record(ctx context.Context, e audit.Entry) error
}

// auditor wraps an optional recorder. A failed audit write is logged and
// never fails the operation that produced it.
type auditor struct {
	rec    AuditRecorder
	logger *slog.Logger
}

func (a auditor) record(ctx context.Context, actor string, action audit.Action, outcome audit.Outcome, detail string) {
	if a.rec == nil {
		return
	}
	if actor == "" {
		actor = audit.UnknownActor
	}
	err := a.rec.Record(ctx, audit.Entry{
		Actor:     actor,
		Action:    action,
		Outcome:   outcome,
		Detail:    detail,
		Source:    audit.SourceCore,
		RequestID: RequestIDFromContext(ctx),
	})
	if err != nil {
		a.logger.Error("audit write failed", "action", action, "actor", actor, "error", err)
	}
}

type requestIDKey struct{}

// WithRequestID attaches a request ID that is copied into audit entries.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext returns the request ID set by WithRequestID, if any.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
