package auth

// Permission represents a named capability in the system.
type Permission string

// Permission constants.
const (
	PermViewAll            Permission = "view_all"
	PermEditAll            Permission = "edit_all"
	PermManageUsers        Permission = "manage_users"
	PermSystemConfig       Permission = "system_config"
	PermViewEquipment      Permission = "view_equipment"
	PermUpdateMaintenance  Permission = "update_maintenance"
	PermViewAssignments    Permission = "view_assignments"
	PermAssignTechnicians  Permission = "assign_technicians"
	PermApproveMaintenance Permission = "approve_maintenance"
	PermViewDashboard      Permission = "view_dashboard"
	PermViewReports        Permission = "view_reports"
)

// AllPermissions lists every declared permission.
var AllPermissions = []Permission{
	PermViewAll,
	PermEditAll,
	PermManageUsers,
	PermSystemConfig,
	PermViewEquipment,
	PermUpdateMaintenance,
	PermViewAssignments,
	PermAssignTechnicians,
	PermApproveMaintenance,
	PermViewDashboard,
	PermViewReports,
}

// rolePermissions maps each role to its granted permissions.
// This is the single source of truth for the authorisation model.
var rolePermissions = map[Role][]Permission{
	RoleAdmin: {
		PermViewAll,
		PermEditAll,
		PermManageUsers,
		PermSystemConfig,
	},
	RoleTechnician: {
		PermViewEquipment,
		PermUpdateMaintenance,
		PermViewAssignments,
	},
	RoleSupervisor: {
		PermViewAll,
		PermAssignTechnicians,
		PermApproveMaintenance,
	},
	RoleViewer: {
		PermViewEquipment,
		PermViewDashboard,
		PermViewReports,
	},
}

// HasPermission returns true if the given role has the specified permission.
func HasPermission(role Role, perm Permission) bool {
	perms, ok := rolePermissions[role]
	if !ok {
		return false
	}
	for _, p := range perms {
		if p == perm {
			return true
		}
	}
	return false
}

// PermissionsForRole returns all permissions granted to a role.
// Returns nil for unknown roles.
func PermissionsForRole(role Role) []Permission {
	perms := rolePermissions[role]
	if perms == nil {
		return nil
	}
	result := make([]Permission, len(perms))
	copy(result, perms)
	return result
}

// IsValidPermission returns true if perm is a declared permission.
func IsValidPermission(perm Permission) bool {
	for _, p := range AllPermissions {
		if p == perm {
			return true
		}
	}
	return false
}
