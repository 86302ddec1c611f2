package auth

import (
	"context"
	"log/slog"

	"github.com/nerrad567/equipwatch-core/internal/audit"
)

// AccessController enforces the role-permission table against sessions.
type AccessController struct {
	sessions *SessionManager
	audit    auditor
}

// NewAccessController creates an AccessController backed by sessions.
func NewAccessController(sessions *SessionManager, rec AuditRecorder, logger *slog.Logger) *AccessController {
	if logger == nil {
		logger = slog.Default()
	}
	return &AccessController{
		sessions: sessions,
		audit:    auditor{rec: rec, logger: logger.With("component", "access")},
	}
}

// HasPermission reports whether role grants perm. Pure table lookup.
func (a *AccessController) HasPermission(role Role, perm Permission) bool {
	return HasPermission(role, perm)
}

// PermissionsFor returns the permissions granted to role.
func (a *AccessController) PermissionsFor(role Role) []Permission {
	return PermissionsForRole(role)
}

// Enforce validates token and checks that its role snapshot grants perm.
// It returns ErrSessionNotFound, ErrSessionExpired or ErrForbidden on failure.
func (a *AccessController) Enforce(ctx context.Context, token string, perm Permission) (*Session, error) {
	s, err := a.sessions.ValidateSession(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := a.Authorize(ctx, s, perm); err != nil {
		return nil, err
	}
	return s, nil
}

// Authorize checks perm against an already validated session. The denied
// permission is recorded in the audit trail but not in the returned error.
func (a *AccessController) Authorize(ctx context.Context, s *Session, perm Permission) error {
	if HasPermission(s.Role, perm) {
		return nil
	}
	a.audit.record(ctx, s.Username, audit.ActionPermissionDenied, audit.OutcomeDenied,
		"role "+string(s.Role)+" lacks "+string(perm))
	return ErrForbidden
}
