package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/noah-isme/school-admin-api/internal/models"
	"github.com/noah-isme/school-admin-api/pkg/dataservice"
)

const (
	assignRoleQuery       = `INSERT INTO user_roles (user_id, role_id) VALUES ($1, $2) ON CONFLICT (user_id, role_id) DO NOTHING`
	togglePermissionQuery = `INSERT INTO role_permissions (role_id, permission_id, is_granted) VALUES ($1, $2, TRUE) ON CONFLICT (role_id, permission_id) DO UPDATE SET is_granted = NOT role_permissions.is_granted RETURNING is_granted`
)

// RoleRepository manages roles, permissions and their assignments.
type RoleRepository struct {
	ds *dataservice.Client
}

// NewRoleRepository constructs a role repository.
func NewRoleRepository(ds *dataservice.Client) *RoleRepository {
	return &RoleRepository{ds: ds}
}

// ListRoles returns all roles ordered by name.
func (r *RoleRepository) ListRoles(ctx context.Context) ([]models.Role, error) {
	var roles []models.Role
	if err := r.ds.Select(ctx, dataservice.Query{Table: "roles", Order: []dataservice.Order{{Column: "name"}}}, &roles); err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	return roles, nil
}

// FindRole returns a role by id. sql.ErrNoRows is returned when absent.
func (r *RoleRepository) FindRole(ctx context.Context, id string) (*models.Role, error) {
	var role models.Role
	if err := r.ds.Get(ctx, dataservice.Query{Table: "roles", Filters: []dataservice.Filter{dataservice.Eq("id", id)}}, &role); err != nil {
		return nil, err
	}
	return &role, nil
}

// CreateRole inserts a custom role. A duplicate name surfaces as a conflict from the data service.
func (r *RoleRepository) CreateRole(ctx context.Context, name string) (*models.Role, error) {
	var role models.Role
	err := r.ds.Insert(ctx, "roles", map[string]interface{}{
		"id":        uuid.NewString(),
		"name":      name,
		"is_custom": true,
	}, &role)
	if err != nil {
		return nil, fmt.Errorf("create role: %w", err)
	}
	return &role, nil
}

// DeleteRole removes a role together with its grants and assignments.
func (r *RoleRepository) DeleteRole(ctx context.Context, id string) (int64, error) {
	if _, err := r.ds.Delete(ctx, "role_permissions", []dataservice.Filter{dataservice.Eq("role_id", id)}); err != nil {
		return 0, fmt.Errorf("delete role grants: %w", err)
	}
	if _, err := r.ds.Delete(ctx, "user_roles", []dataservice.Filter{dataservice.Eq("role_id", id)}); err != nil {
		return 0, fmt.Errorf("delete role assignments: %w", err)
	}
	n, err := r.ds.Delete(ctx, "roles", []dataservice.Filter{dataservice.Eq("id", id)})
	if err != nil {
		return 0, fmt.Errorf("delete role: %w", err)
	}
	return n, nil
}

// ListPermissions returns every permission ordered by group then name.
func (r *RoleRepository) ListPermissions(ctx context.Context) ([]models.Permission, error) {
	var perms []models.Permission
	err := r.ds.Select(ctx, dataservice.Query{
		Table: "permissions",
		Order: []dataservice.Order{{Column: "group_id"}, {Column: "name"}},
	}, &perms)
	if err != nil {
		return nil, fmt.Errorf("list permissions: %w", err)
	}
	return perms, nil
}

// PermissionsByIDs resolves permission ids to permissions.
func (r *RoleRepository) PermissionsByIDs(ctx context.Context, ids []string) ([]models.Permission, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var perms []models.Permission
	err := r.ds.Select(ctx, dataservice.Query{
		Table:   "permissions",
		Filters: []dataservice.Filter{dataservice.In("id", ids)},
		Order:   []dataservice.Order{{Column: "name"}},
	}, &perms)
	if err != nil {
		return nil, fmt.Errorf("resolve permissions: %w", err)
	}
	return perms, nil
}

// RoleGrants returns the role_permissions rows of the given roles.
func (r *RoleRepository) RoleGrants(ctx context.Context, roleIDs []string) ([]models.RolePermission, error) {
	if len(roleIDs) == 0 {
		return nil, nil
	}
	var grants []models.RolePermission
	err := r.ds.Select(ctx, dataservice.Query{
		Table:   "role_permissions",
		Filters: []dataservice.Filter{dataservice.In("role_id", roleIDs)},
	}, &grants)
	if err != nil {
		return nil, fmt.Errorf("list role grants: %w", err)
	}
	return grants, nil
}

type userRoleRow struct {
	UserID string      `db:"user_id"`
	RoleID string      `db:"role_id"`
	Role   models.Role `db:"role"`
}

// UserRoles returns the roles currently assigned to each of the given users.
func (r *RoleRepository) UserRoles(ctx context.Context, userIDs ...string) (map[string][]models.Role, error) {
	out := make(map[string][]models.Role, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}
	var rows []userRoleRow
	err := r.ds.Select(ctx, dataservice.Query{
		Table:   "user_roles",
		Columns: []string{"user_id", "role_id"},
		Joins: []dataservice.Join{
			{Table: "roles", Alias: "role", Local: "role_id", Columns: []string{"id", "name", "is_custom"}, Inner: true},
		},
		Filters: []dataservice.Filter{dataservice.In("user_id", userIDs)},
		Order:   []dataservice.Order{{Column: "role.name"}},
	}, &rows)
	if err != nil {
		return nil, fmt.Errorf("list user roles: %w", err)
	}
	for _, row := range rows {
		out[row.UserID] = append(out[row.UserID], row.Role)
	}
	return out, nil
}

// UserIDsWithRole returns the users holding a role.
func (r *RoleRepository) UserIDsWithRole(ctx context.Context, roleID string) ([]string, error) {
	var rows []models.UserRoleAssignment
	err := r.ds.Select(ctx, dataservice.Query{
		Table:   "user_roles",
		Filters: []dataservice.Filter{dataservice.Eq("role_id", roleID)},
	}, &rows)
	if err != nil {
		return nil, fmt.Errorf("list role members: %w", err)
	}
	ids := make([]string, len(rows))
	for i, row := range rows {
		ids[i] = row.UserID
	}
	return ids, nil
}

// AssignRole links a user to a role. Assigning twice is a no-op.
func (r *RoleRepository) AssignRole(ctx context.Context, userID, roleID string) error {
	if _, err := r.ds.Exec(ctx, "user_roles", assignRoleQuery, userID, roleID); err != nil {
		return fmt.Errorf("assign role: %w", err)
	}
	return nil
}

// RevokeRole unlinks a user from a role. Revoking an absent assignment is a no-op.
func (r *RoleRepository) RevokeRole(ctx context.Context, userID, roleID string) error {
	_, err := r.ds.Delete(ctx, "user_roles", []dataservice.Filter{
		dataservice.Eq("user_id", userID),
		dataservice.Eq("role_id", roleID),
	})
	if err != nil {
		return fmt.Errorf("revoke role: %w", err)
	}
	return nil
}

// TogglePermission grants the permission when no row exists, otherwise flips it, in one statement.
func (r *RoleRepository) TogglePermission(ctx context.Context, roleID, permissionID string) (bool, error) {
	var granted bool
	if err := r.ds.QueryRow(ctx, "role_permissions", &granted, togglePermissionQuery, roleID, permissionID); err != nil {
		return false, fmt.Errorf("toggle permission: %w", err)
	}
	return granted, nil
}
