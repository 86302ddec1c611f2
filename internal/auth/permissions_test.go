package auth

import (
	"errors"
	"testing"
)

func TestHasPermission_RoleTable(t *testing.T) {
	tests := []struct {
		role      Role
		should    []Permission
		shouldNot []Permission
	}{
		{
			role:      RoleAdmin,
			should:    []Permission{PermViewAll, PermEditAll, PermManageUsers, PermSystemConfig},
			shouldNot: []Permission{PermAssignTechnicians, PermUpdateMaintenance},
		},
		{
			role:      RoleTechnician,
			should:    []Permission{PermViewEquipment, PermUpdateMaintenance, PermViewAssignments},
			shouldNot: []Permission{PermManageUsers, PermSystemConfig, PermApproveMaintenance, PermViewAll},
		},
		{
			role:      RoleSupervisor,
			should:    []Permission{PermViewAll, PermAssignTechnicians, PermApproveMaintenance},
			shouldNot: []Permission{PermManageUsers, PermEditAll, PermUpdateMaintenance},
		},
		{
			role:      RoleViewer,
			should:    []Permission{PermViewEquipment, PermViewDashboard, PermViewReports},
			shouldNot: []Permission{PermUpdateMaintenance, PermEditAll, PermManageUsers, PermViewAll},
		},
	}

	for _, tt := range tests {
		t.Run(string(tt.role), func(t *testing.T) {
			for _, perm := range tt.should {
				if !HasPermission(tt.role, perm) {
					t.Errorf("%s should have %s", tt.role, perm)
				}
			}
			for _, perm := range tt.shouldNot {
				if HasPermission(tt.role, perm) {
					t.Errorf("%s should NOT have %s", tt.role, perm)
				}
			}
		})
	}
}

func TestRolePermissionTable_Complete(t *testing.T) {
	for _, role := range ValidRoles {
		if len(PermissionsForRole(role)) == 0 {
			t.Errorf("role %s has no table entry", role)
		}
	}
	for role, perms := range rolePermissions {
		if !IsValidRole(role) {
			t.Errorf("table has entry for undeclared role %q", role)
		}
		for _, p := range perms {
			if !IsValidPermission(p) {
				t.Errorf("role %s grants undeclared permission %q", role, p)
			}
		}
	}
}

func TestHasPermission_InvalidRole(t *testing.T) {
	if HasPermission(Role("nonexistent"), PermViewEquipment) {
		t.Error("unknown role should have no permissions")
	}
	if HasPermission(Role("Admin"), PermManageUsers) {
		t.Error("role lookup should be exact; use ParseRole for user input")
	}
}

func TestPermissionsForRole(t *testing.T) {
	perms := PermissionsForRole(RoleAdmin)
	if len(perms) == 0 {
		t.Fatal("PermissionsForRole(admin) should return permissions")
	}

	// Should return a copy, not the original slice
	perms[0] = "modified"
	original := PermissionsForRole(RoleAdmin)
	if original[0] == "modified" {
		t.Error("PermissionsForRole should return a copy, not the original")
	}
}

func TestPermissionsForRole_Unknown(t *testing.T) {
	if perms := PermissionsForRole(Role("unknown")); perms != nil {
		t.Error("PermissionsForRole(unknown) should return nil")
	}
}

func TestParseRole(t *testing.T) {
	tests := []struct {
		in      string
		want    Role
		wantErr bool
	}{
		{"admin", RoleAdmin, false},
		{"Technician", RoleTechnician, false},
		{" SUPERVISOR ", RoleSupervisor, false},
		{"viewer", RoleViewer, false},
		{"owner", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRole(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidRole) {
					t.Errorf("ParseRole(%q) error = %v, want ErrInvalidRole", tt.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseRole(%q) error = %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseRole(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestIsValidUsername(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"alice", true},
		{"j.smith-2_ops", true},
		{"", false},
		{"has space", false},
		{"semi;colon", false},
		{string(make([]byte, 65)), false},
	}

	for _, tt := range tests {
		if got := IsValidUsername(tt.name); got != tt.want {
			t.Errorf("IsValidUsername(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}
