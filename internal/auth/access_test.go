package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/equipwatch-core/internal/audit"
)

func TestEnforce(t *testing.T) {
	c := newTestCore(t)
	c.mustCreateUser(t, "alice", "Passw0rd!", RoleTechnician)
	s := c.mustLogin(t, "alice", "Passw0rd!")

	got, err := c.access.Enforce(t.Context(), s.Token, PermUpdateMaintenance)
	if err != nil {
		t.Fatalf("Enforce(update_maintenance) error = %v", err)
	}
	if got.Username != "alice" {
		t.Errorf("session username = %q, want alice", got.Username)
	}

	_, err = c.access.Enforce(t.Context(), s.Token, PermManageUsers)
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("Enforce(manage_users) error = %v, want ErrForbidden", err)
	}
	if strings.Contains(err.Error(), string(PermManageUsers)) {
		t.Error("forbidden error must not name the permission")
	}

	denied := c.audit.byAction(audit.ActionPermissionDenied)
	if len(denied) != 1 {
		t.Fatalf("permission_denied entries = %d, want 1", len(denied))
	}
	if denied[0].Actor != "alice" || denied[0].Outcome != audit.OutcomeDenied {
		t.Errorf("denied entry = %+v", denied[0])
	}
	if !strings.Contains(denied[0].Detail, string(PermManageUsers)) {
		t.Errorf("audit detail %q should name the permission", denied[0].Detail)
	}
}

func TestEnforce_SessionErrors(t *testing.T) {
	c := newTestCore(t)
	c.mustCreateUser(t, "alice", "Passw0rd!", RoleAdmin)
	s := c.mustLogin(t, "alice", "Passw0rd!")

	if _, err := c.access.Enforce(t.Context(), "bogus", PermViewAll); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Enforce(bogus) error = %v, want ErrSessionNotFound", err)
	}

	c.clock.Advance(9 * time.Hour)
	if _, err := c.access.Enforce(t.Context(), s.Token, PermViewAll); !errors.Is(err, ErrSessionExpired) {
		t.Errorf("Enforce(expired) error = %v, want ErrSessionExpired", err)
	}
	if n := len(c.audit.byAction(audit.ActionPermissionDenied)); n != 0 {
		t.Errorf("session failures should not be audited as permission_denied, got %d", n)
	}
}

func TestAuthorize(t *testing.T) {
	c := newTestCore(t)
	s := &Session{Username: "vic", Role: RoleViewer}

	if err := c.access.Authorize(t.Context(), s, PermViewReports); err != nil {
		t.Errorf("Authorize(view_reports) error = %v", err)
	}
	if err := c.access.Authorize(t.Context(), s, PermEditAll); !errors.Is(err, ErrForbidden) {
		t.Errorf("Authorize(edit_all) error = %v, want ErrForbidden", err)
	}
}

func TestAccessController_TableLookups(t *testing.T) {
	c := newTestCore(t)
	if !c.access.HasPermission(RoleSupervisor, PermApproveMaintenance) {
		t.Error("supervisor should approve maintenance")
	}
	if c.access.HasPermission(RoleViewer, PermUpdateMaintenance) {
		t.Error("viewer should be read-only")
	}
	if got := c.access.PermissionsFor(RoleViewer); len(got) != 3 {
		t.Errorf("PermissionsFor(viewer) = %v, want 3 permissions", got)
	}
}
