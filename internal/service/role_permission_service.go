package service

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/school-admin-api/internal/models"
	appErrors "github.com/noah-isme/school-admin-api/pkg/errors"
)

const permissionCacheKey = "perm:user:"

type roleStore interface {
	ListRoles(ctx context.Context) ([]models.Role, error)
	FindRole(ctx context.Context, id string) (*models.Role, error)
	CreateRole(ctx context.Context, name string) (*models.Role, error)
	DeleteRole(ctx context.Context, id string) (int64, error)
	ListPermissions(ctx context.Context) ([]models.Permission, error)
	PermissionsByIDs(ctx context.Context, ids []string) ([]models.Permission, error)
	RoleGrants(ctx context.Context, roleIDs []string) ([]models.RolePermission, error)
	UserRoles(ctx context.Context, userIDs ...string) (map[string][]models.Role, error)
	UserIDsWithRole(ctx context.Context, roleID string) ([]string, error)
	AssignRole(ctx context.Context, userID, roleID string) error
	RevokeRole(ctx context.Context, userID, roleID string) error
	TogglePermission(ctx context.Context, roleID, permissionID string) (bool, error)
}

// RolePermissionService manages role assignment and resolves effective permissions.
type RolePermissionService struct {
	store    roleStore
	cache    *CacheService
	cacheTTL time.Duration
	logger   *zap.Logger

	generations cacheGenerations
}

// NewRolePermissionService constructs the role-permission manager.
func NewRolePermissionService(store roleStore, cache *CacheService, cacheTTL time.Duration, logger *zap.Logger) *RolePermissionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RolePermissionService{store: store, cache: cache, cacheTTL: cacheTTL, logger: logger}
}

func internalError(err error, msg string) error {
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, msg)
}

// GroupPermissionsByGroup groups permissions by GroupID. Groups appear in first-seen
// order and keep the input order of their permissions.
func GroupPermissionsByGroup(perms []models.Permission) []models.PermissionGroup {
	index := make(map[string]int)
	var groups []models.PermissionGroup
	for _, p := range perms {
		i, ok := index[p.GroupID]
		if !ok {
			groups = append(groups, models.PermissionGroup{GroupID: p.GroupID})
			i = len(groups) - 1
			index[p.GroupID] = i
		}
		groups[i].Permissions = append(groups[i].Permissions, p)
	}
	return groups
}

// ListRoles returns every role.
func (s *RolePermissionService) ListRoles(ctx context.Context) ([]models.Role, error) {
	roles, err := s.store.ListRoles(ctx)
	if err != nil {
		return nil, internalError(err, "failed to list roles")
	}
	return roles, nil
}

func (s *RolePermissionService) findRole(ctx context.Context, id string) (*models.Role, error) {
	role, err := s.store.FindRole(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "role not found")
		}
		return nil, internalError(err, "failed to load role")
	}
	return role, nil
}

// CreateRole adds a custom role. Names are unique.
func (s *RolePermissionService) CreateRole(ctx context.Context, name string) (*models.Role, error) {
	role, err := s.store.CreateRole(ctx, name)
	if err != nil {
		if errors.Is(err, appErrors.ErrConflict) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "role name already exists")
		}
		return nil, internalError(err, "failed to create role")
	}
	s.logger.Info("role created", zap.String("role_id", role.ID), zap.String("name", role.Name))
	return role, nil
}

// DeleteRole removes a custom role with its grants and assignments.
func (s *RolePermissionService) DeleteRole(ctx context.Context, id string) error {
	role, err := s.findRole(ctx, id)
	if err != nil {
		return err
	}
	if !role.IsCustom {
		return appErrors.Clone(appErrors.ErrValidation, "built-in roles cannot be deleted")
	}
	if _, err := s.store.DeleteRole(ctx, id); err != nil {
		return internalError(err, "failed to delete role")
	}
	s.InvalidateAll(ctx)
	return nil
}

// ListPermissions returns every permission.
func (s *RolePermissionService) ListPermissions(ctx context.Context) ([]models.Permission, error) {
	perms, err := s.store.ListPermissions(ctx)
	if err != nil {
		return nil, internalError(err, "failed to list permissions")
	}
	return perms, nil
}

// RolePermissions returns every permission annotated with whether the role holds it.
func (s *RolePermissionService) RolePermissions(ctx context.Context, roleID string) ([]models.RolePermissionEntry, error) {
	if _, err := s.findRole(ctx, roleID); err != nil {
		return nil, err
	}
	perms, err := s.store.ListPermissions(ctx)
	if err != nil {
		return nil, internalError(err, "failed to list permissions")
	}
	grants, err := s.store.RoleGrants(ctx, []string{roleID})
	if err != nil {
		return nil, internalError(err, "failed to load role grants")
	}
	granted := make(map[string]bool, len(grants))
	for _, g := range grants {
		granted[g.PermissionID] = g.IsGranted
	}
	entries := make([]models.RolePermissionEntry, 0, len(perms))
	for _, p := range perms {
		entries = append(entries, models.RolePermissionEntry{Permission: p, IsGranted: granted[p.ID]})
	}
	return entries, nil
}

// RolesOf returns the roles of each given user.
func (s *RolePermissionService) RolesOf(ctx context.Context, userIDs ...string) (map[string][]models.Role, error) {
	roles, err := s.store.UserRoles(ctx, userIDs...)
	if err != nil {
		return nil, internalError(err, "failed to load user roles")
	}
	return roles, nil
}

// MembersOf returns the ids of users holding the role.
func (s *RolePermissionService) MembersOf(ctx context.Context, roleID string) ([]string, error) {
	ids, err := s.store.UserIDsWithRole(ctx, roleID)
	if err != nil {
		return nil, internalError(err, "failed to load role members")
	}
	return ids, nil
}

// AssignRole grants the role to the user. Assigning twice is the same as once.
func (s *RolePermissionService) AssignRole(ctx context.Context, userID, roleID string) error {
	if _, err := s.findRole(ctx, roleID); err != nil {
		return err
	}
	if err := s.store.AssignRole(ctx, userID, roleID); err != nil {
		return internalError(err, "failed to assign role")
	}
	s.InvalidateUser(ctx, userID)
	return nil
}

// RevokeRole removes the role from the user. Revoking an unassigned role is a no-op.
func (s *RolePermissionService) RevokeRole(ctx context.Context, userID, roleID string) error {
	if err := s.store.RevokeRole(ctx, userID, roleID); err != nil {
		return internalError(err, "failed to revoke role")
	}
	s.InvalidateUser(ctx, userID)
	return nil
}

// TogglePermission flips the grant of a permission on a role and returns the new value.
// A missing grant becomes granted.
func (s *RolePermissionService) TogglePermission(ctx context.Context, roleID, permissionID string) (bool, error) {
	granted, err := s.store.TogglePermission(ctx, roleID, permissionID)
	if err != nil {
		return false, internalError(err, "failed to toggle permission")
	}
	s.InvalidateAll(ctx)
	return granted, nil
}

// EffectivePermissions is the union of permissions granted by any of the user's roles,
// ordered by name. No role can deny what another grants.
func (s *RolePermissionService) EffectivePermissions(ctx context.Context, userID string) ([]models.Permission, error) {
	key := permissionCacheKey + userID
	var cached []models.Permission
	if s.cache.Get(ctx, key, &cached) {
		return cached, nil
	}
	mark := s.generations.mark(userID)

	byUser, err := s.store.UserRoles(ctx, userID)
	if err != nil {
		return nil, internalError(err, "failed to load user roles")
	}
	roles := byUser[userID]
	perms := []models.Permission{}
	if len(roles) > 0 {
		roleIDs := make([]string, 0, len(roles))
		for _, r := range roles {
			roleIDs = append(roleIDs, r.ID)
		}
		grants, err := s.store.RoleGrants(ctx, roleIDs)
		if err != nil {
			return nil, internalError(err, "failed to load role grants")
		}
		set := make(map[string]struct{})
		for _, g := range grants {
			if g.IsGranted {
				set[g.PermissionID] = struct{}{}
			}
		}
		if len(set) > 0 {
			ids := make([]string, 0, len(set))
			for id := range set {
				ids = append(ids, id)
			}
			sort.Strings(ids)
			if perms, err = s.store.PermissionsByIDs(ctx, ids); err != nil {
				return nil, internalError(err, "failed to load permissions")
			}
			sort.Slice(perms, func(i, j int) bool { return perms[i].Name < perms[j].Name })
		}
	}

	stored := s.generations.storeIfCurrent(userID, mark, func() {
		s.cache.Set(ctx, key, perms, s.cacheTTL)
	})
	if !stored {
		s.logger.Debug("permissions changed during lookup, not cached", zap.String("user_id", userID))
	}
	return perms, nil
}

// PermissionNames returns the names of the user's effective permissions.
func (s *RolePermissionService) PermissionNames(ctx context.Context, userID string) ([]string, error) {
	perms, err := s.EffectivePermissions(ctx, userID)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(perms))
	for _, p := range perms {
		names = append(names, p.Name)
	}
	return names, nil
}

// HasPermission reports whether the user holds the named permission.
func (s *RolePermissionService) HasPermission(ctx context.Context, userID, name string) (bool, error) {
	perms, err := s.EffectivePermissions(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, p := range perms {
		if p.Name == name {
			return true, nil
		}
	}
	return false, nil
}

// InvalidateUser drops the cached permissions of one user.
func (s *RolePermissionService) InvalidateUser(ctx context.Context, userID string) {
	s.generations.bump(userID)
	_ = s.cache.Delete(ctx, permissionCacheKey+userID)
}

// InvalidateAll drops every cached permission set.
func (s *RolePermissionService) InvalidateAll(ctx context.Context) {
	s.generations.bumpAll()
	_ = s.cache.Invalidate(ctx, permissionCacheKey+"*")
}
