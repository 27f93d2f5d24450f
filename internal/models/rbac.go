package models

// Role is a named bundle of permissions. Built-in roles have IsCustom=false and cannot be deleted.
type Role struct {
	ID       string `db:"id" json:"id"`
	Name     string `db:"name" json:"name"`
	IsCustom bool   `db:"is_custom" json:"is_custom"`
}

// Permission is an action a role may be granted.
type Permission struct {
	ID          string  `db:"id" json:"id"`
	Name        string  `db:"name" json:"name"`
	Description *string `db:"description" json:"description,omitempty"`
	GroupID     string  `db:"group_id" json:"group_id"`
}

// RolePermission is one cell of the role/permission matrix.
type RolePermission struct {
	RoleID       string `db:"role_id" json:"role_id"`
	PermissionID string `db:"permission_id" json:"permission_id"`
	IsGranted    bool   `db:"is_granted" json:"is_granted"`
}

// UserRoleAssignment links a user to a role.
type UserRoleAssignment struct {
	UserID string `db:"user_id" json:"user_id"`
	RoleID string `db:"role_id" json:"role_id"`
}

// PermissionGroup lists the permissions sharing a group, in first-seen order.
type PermissionGroup struct {
	GroupID     string       `json:"group_id"`
	Permissions []Permission `json:"permissions"`
}

// RolePermissionEntry is a permission annotated with whether a role holds it.
type RolePermissionEntry struct {
	Permission
	IsGranted bool `db:"is_granted" json:"is_granted"`
}

// Well-known permission names used by route guards.
const (
	PermissionReportsView   = "reports.view"
	PermissionReportsExport = "reports.export"
	PermissionUsersManage   = "users.manage"
	PermissionRolesManage   = "roles.manage"
)
