// Package audit records security events in an append-only trail and fans
// them out to live sinks (MQTT, InfluxDB, Prometheus, WebSocket).
//
// Entries are immutable once written: no repository in this package exposes
// an update or delete operation.
package audit

import (
	"context"
	"time"
)

// Action identifies the kind of security event.
type Action string

// Audit actions.
const (
	ActionLoginSuccess     Action = "login_success"
	ActionLoginFailure     Action = "login_failure"
	ActionPermissionDenied Action = "permission_denied"
	ActionSessionCreated   Action = "session_created"
	ActionSessionExpired   Action = "session_expired"
	ActionSessionRevoked   Action = "session_revoked"
	ActionUserCreated      Action = "user_created"
	ActionUserDeactivated  Action = "user_deactivated"
	ActionUserReactivated  Action = "user_reactivated"
	ActionUserUpdated      Action = "user_updated"
	ActionPasswordChanged  Action = "password_changed"
)

// Outcome is the result of the audited operation.
type Outcome string

// Audit outcomes.
const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeDenied  Outcome = "denied"
)

// Sources of audit entries.
const (
	SourceCore = "core"
	SourceAPI  = "api"
	SourceCLI  = "cli"
)

// UnknownActor is recorded when no authenticated identity exists.
const UnknownActor = "unknown"

// Entry is a single audit trail record.
//
// Detail is free text for operators and must never contain a plaintext
// password or a raw session token.
type Entry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Actor     string    `json:"actor"`
	Action    Action    `json:"action"`
	Outcome   Outcome   `json:"outcome"`
	Detail    string    `json:"detail,omitempty"`
	Source    string    `json:"source"`
	RequestID string    `json:"request_id,omitempty"`
}

// Filter controls which entries Query returns.
type Filter struct {
	Actor  string    // optional: exact actor match
	Action Action    // optional: exact action match
	Since  time.Time // optional: inclusive lower bound
	Until  time.Time // optional: exclusive upper bound
	Limit  int       // default 50, max 200
	Offset int       // pagination offset
}

// Page size bounds for Query.
const (
	DefaultLimit = 50
	MaxLimit     = 200
)

// normalise clamps limit and offset into range.
func (f Filter) normalise() Filter {
	if f.Limit <= 0 {
		f.Limit = DefaultLimit
	}
	if f.Limit > MaxLimit {
		f.Limit = MaxLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// matches reports whether e satisfies every set field of the filter.
func (f Filter) matches(e *Entry) bool {
	if f.Actor != "" && e.Actor != f.Actor {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && !e.Timestamp.Before(f.Until) {
		return false
	}
	return true
}

// ListResult contains a page of entries, newest first.
type ListResult struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

// Repository is durable append-only storage for entries.
type Repository interface {
	Append(ctx context.Context, e *Entry) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}
