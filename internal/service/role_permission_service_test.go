package service

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/school-admin-api/internal/models"
	appErrors "github.com/noah-isme/school-admin-api/pkg/errors"
)

type fakeRoleStore struct {
	mu          sync.Mutex
	roles       map[string]models.Role
	permissions []models.Permission
	grants      map[string]map[string]bool
	members     map[string]map[string]bool
	assignErr   map[string]error
	assignCalls int
	userRolesN  int
}

func newFakeRoleStore() *fakeRoleStore {
	return &fakeRoleStore{
		roles: map[string]models.Role{
			"admin":   {ID: "admin", Name: "Admin"},
			"teacher": {ID: "teacher", Name: "Teacher"},
			"bursar":  {ID: "bursar", Name: "Bursar", IsCustom: true},
		},
		permissions: []models.Permission{
			{ID: "p1", Name: "reports.view", GroupID: "reports"},
			{ID: "p2", Name: "users.manage", GroupID: "users"},
			{ID: "p3", Name: "reports.export", GroupID: "reports"},
			{ID: "p4", Name: "roles.manage", GroupID: "users"},
		},
		grants: map[string]map[string]bool{
			"admin":   {"p1": true, "p2": true, "p3": true, "p4": true},
			"teacher": {"p1": true, "p3": false},
			"bursar":  {"p1": true, "p3": true},
		},
		members:   map[string]map[string]bool{},
		assignErr: map[string]error{},
	}
}

func (f *fakeRoleStore) ListRoles(context.Context) ([]models.Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Role
	for _, r := range f.roles {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (f *fakeRoleStore) FindRole(_ context.Context, id string) (*models.Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.roles[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &r, nil
}

func (f *fakeRoleStore) CreateRole(_ context.Context, name string) (*models.Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.roles {
		if r.Name == name {
			return nil, appErrors.WrapAs(appErrors.ErrConflict, errors.New("duplicate key"), "roles already exists")
		}
	}
	r := models.Role{ID: uuid.NewString(), Name: name, IsCustom: true}
	f.roles[r.ID] = r
	return &r, nil
}

func (f *fakeRoleStore) DeleteRole(_ context.Context, id string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.roles, id)
	delete(f.grants, id)
	for _, roles := range f.members {
		delete(roles, id)
	}
	return 1, nil
}

func (f *fakeRoleStore) ListPermissions(context.Context) ([]models.Permission, error) {
	return f.permissions, nil
}

func (f *fakeRoleStore) PermissionsByIDs(_ context.Context, ids []string) ([]models.Permission, error) {
	want := map[string]bool{}
	for _, id := range ids {
		want[id] = true
	}
	var out []models.Permission
	for _, p := range f.permissions {
		if want[p.ID] {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeRoleStore) RoleGrants(_ context.Context, roleIDs []string) ([]models.RolePermission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.RolePermission
	for _, roleID := range roleIDs {
		for permID, granted := range f.grants[roleID] {
			out = append(out, models.RolePermission{RoleID: roleID, PermissionID: permID, IsGranted: granted})
		}
	}
	return out, nil
}

func (f *fakeRoleStore) UserRoles(_ context.Context, userIDs ...string) (map[string][]models.Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.userRolesN++
	out := map[string][]models.Role{}
	for _, userID := range userIDs {
		for roleID := range f.members[userID] {
			out[userID] = append(out[userID], f.roles[roleID])
		}
	}
	return out, nil
}

func (f *fakeRoleStore) UserIDsWithRole(_ context.Context, roleID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for userID, roles := range f.members {
		if roles[roleID] {
			out = append(out, userID)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (f *fakeRoleStore) AssignRole(_ context.Context, userID, roleID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.assignCalls++
	if err := f.assignErr[roleID]; err != nil {
		return err
	}
	if f.members[userID] == nil {
		f.members[userID] = map[string]bool{}
	}
	f.members[userID][roleID] = true
	return nil
}

func (f *fakeRoleStore) RevokeRole(_ context.Context, userID, roleID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.members[userID], roleID)
	return nil
}

func (f *fakeRoleStore) TogglePermission(_ context.Context, roleID, permissionID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.grants[roleID] == nil {
		f.grants[roleID] = map[string]bool{}
	}
	granted, ok := f.grants[roleID][permissionID]
	next := !ok || !granted
	f.grants[roleID][permissionID] = next
	return next, nil
}

func (f *fakeRoleStore) rolesOf(userID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for roleID := range f.members[userID] {
		out = append(out, roleID)
	}
	sort.Strings(out)
	return out
}

func newRolePermissionServiceForTest() (*RolePermissionService, *fakeRoleStore, *memoryCacheRepo) {
	store := newFakeRoleStore()
	cache := newMemoryCacheRepo()
	return NewRolePermissionService(store, newTestCache(cache), 0, zap.NewNop()), store, cache
}

func permissionIDs(perms []models.Permission) []string {
	ids := make([]string, 0, len(perms))
	for _, p := range perms {
		ids = append(ids, p.ID)
	}
	sort.Strings(ids)
	return ids
}

func TestGroupPermissionsByGroupKeepsFirstSeenOrder(t *testing.T) {
	groups := GroupPermissionsByGroup([]models.Permission{
		{ID: "a", GroupID: "users"},
		{ID: "b", GroupID: "reports"},
		{ID: "c", GroupID: "users"},
		{ID: "d", GroupID: "finance"},
	})
	require.Len(t, groups, 3)
	assert.Equal(t, "users", groups[0].GroupID)
	assert.Equal(t, "reports", groups[1].GroupID)
	assert.Equal(t, "finance", groups[2].GroupID)
	assert.Equal(t, []string{"a", "c"}, []string{groups[0].Permissions[0].ID, groups[0].Permissions[1].ID})

	assert.Empty(t, GroupPermissionsByGroup(nil))
}

func TestEffectivePermissionsUnion(t *testing.T) {
	svc, _, _ := newRolePermissionServiceForTest()
	ctx := context.Background()

	require.NoError(t, svc.AssignRole(ctx, "u1", "teacher"))
	perms, err := svc.EffectivePermissions(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"p1"}, permissionIDs(perms))

	require.NoError(t, svc.AssignRole(ctx, "u1", "bursar"))
	perms, err = svc.EffectivePermissions(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"p1", "p3"}, permissionIDs(perms), "a grant on one role is not denied by another")

	ok, err := svc.HasPermission(ctx, "u1", "reports.export")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = svc.HasPermission(ctx, "u1", "users.manage")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEffectivePermissionsWithoutRoles(t *testing.T) {
	svc, _, _ := newRolePermissionServiceForTest()
	perms, err := svc.EffectivePermissions(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, perms)
}

func TestAssignRoleTwiceEqualsOnce(t *testing.T) {
	svc, store, _ := newRolePermissionServiceForTest()
	ctx := context.Background()

	require.NoError(t, svc.AssignRole(ctx, "u1", "bursar"))
	once, err := svc.EffectivePermissions(ctx, "u1")
	require.NoError(t, err)

	require.NoError(t, svc.AssignRole(ctx, "u1", "bursar"))
	twice, err := svc.EffectivePermissions(ctx, "u1")
	require.NoError(t, err)

	assert.Equal(t, permissionIDs(once), permissionIDs(twice))
	assert.Equal(t, []string{"bursar"}, store.rolesOf("u1"))
}

func TestRevokeUnassignedRoleIsNoop(t *testing.T) {
	svc, store, _ := newRolePermissionServiceForTest()
	ctx := context.Background()
	require.NoError(t, svc.AssignRole(ctx, "u1", "teacher"))
	before, err := svc.EffectivePermissions(ctx, "u1")
	require.NoError(t, err)

	require.NoError(t, svc.RevokeRole(ctx, "u1", "admin"))
	after, err := svc.EffectivePermissions(ctx, "u1")
	require.NoError(t, err)

	assert.Equal(t, permissionIDs(before), permissionIDs(after))
	assert.Equal(t, []string{"teacher"}, store.rolesOf("u1"))
}

func TestAssignUnknownRole(t *testing.T) {
	svc, _, _ := newRolePermissionServiceForTest()
	err := svc.AssignRole(context.Background(), "u1", "ghost")
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}

func TestEffectivePermissionsCachedAndInvalidated(t *testing.T) {
	svc, store, cache := newRolePermissionServiceForTest()
	ctx := context.Background()
	require.NoError(t, svc.AssignRole(ctx, "u1", "teacher"))

	_, err := svc.EffectivePermissions(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, cache.has("perm:user:u1"))
	calls := store.userRolesN

	_, err = svc.EffectivePermissions(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, calls, store.userRolesN)

	granted, err := svc.TogglePermission(ctx, "teacher", "p3")
	require.NoError(t, err)
	assert.True(t, granted)
	assert.False(t, cache.has("perm:user:u1"))

	perms, err := svc.EffectivePermissions(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"p1", "p3"}, permissionIDs(perms))

	require.NoError(t, svc.RevokeRole(ctx, "u1", "teacher"))
	assert.False(t, cache.has("perm:user:u1"))
}

func TestTogglePermissionFlips(t *testing.T) {
	svc, _, _ := newRolePermissionServiceForTest()
	ctx := context.Background()

	granted, err := svc.TogglePermission(ctx, "teacher", "p2")
	require.NoError(t, err)
	assert.True(t, granted)

	granted, err = svc.TogglePermission(ctx, "teacher", "p2")
	require.NoError(t, err)
	assert.False(t, granted)
}

func TestRolePermissionsMatrix(t *testing.T) {
	svc, _, _ := newRolePermissionServiceForTest()
	entries, err := svc.RolePermissions(context.Background(), "teacher")
	require.NoError(t, err)
	require.Len(t, entries, 4)
	got := map[string]bool{}
	for _, e := range entries {
		got[e.ID] = e.IsGranted
	}
	assert.Equal(t, map[string]bool{"p1": true, "p2": false, "p3": false, "p4": false}, got)
}

func TestCreateAndDeleteRole(t *testing.T) {
	svc, _, _ := newRolePermissionServiceForTest()
	ctx := context.Background()

	role, err := svc.CreateRole(ctx, "Librarian")
	require.NoError(t, err)
	assert.True(t, role.IsCustom)

	_, err = svc.CreateRole(ctx, "Librarian")
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrConflict))

	err = svc.DeleteRole(ctx, "admin")
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	require.NoError(t, svc.DeleteRole(ctx, role.ID))
	err = svc.DeleteRole(ctx, role.ID)
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}

type blockingGrantStore struct {
	*fakeRoleStore
	entered chan struct{}
	release chan struct{}
}

func (b *blockingGrantStore) RoleGrants(ctx context.Context, roleIDs []string) ([]models.RolePermission, error) {
	grants, err := b.fakeRoleStore.RoleGrants(ctx, roleIDs)
	select {
	case b.entered <- struct{}{}:
		<-b.release
	default:
	}
	return grants, err
}

func TestRevokeDuringLookupDoesNotCacheStalePermissions(t *testing.T) {
	store := &blockingGrantStore{fakeRoleStore: newFakeRoleStore(), entered: make(chan struct{}), release: make(chan struct{})}
	cache := newMemoryCacheRepo()
	svc := NewRolePermissionService(store, newTestCache(cache), 0, zap.NewNop())
	ctx := context.Background()
	require.NoError(t, svc.AssignRole(ctx, "u1", "admin"))

	done := make(chan []models.Permission)
	go func() {
		perms, err := svc.EffectivePermissions(ctx, "u1")
		assert.NoError(t, err)
		done <- perms
	}()

	<-store.entered
	require.NoError(t, svc.RevokeRole(ctx, "u1", "admin"))
	close(store.release)

	// the in-flight lookup still answers from the roles it read
	assert.Contains(t, permissionIDs(<-done), "p2")
	assert.False(t, cache.has("perm:user:u1"))

	allowed, err := svc.HasPermission(ctx, "u1", models.PermissionUsersManage)
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestInvalidateAllDuringLookupDoesNotCacheStalePermissions(t *testing.T) {
	store := &blockingGrantStore{fakeRoleStore: newFakeRoleStore(), entered: make(chan struct{}), release: make(chan struct{})}
	cache := newMemoryCacheRepo()
	svc := NewRolePermissionService(store, newTestCache(cache), 0, zap.NewNop())
	ctx := context.Background()
	require.NoError(t, svc.AssignRole(ctx, "u1", "teacher"))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := svc.EffectivePermissions(ctx, "u1")
		assert.NoError(t, err)
	}()

	<-store.entered
	granted, err := svc.TogglePermission(ctx, "teacher", "p3")
	require.NoError(t, err)
	require.True(t, granted)
	close(store.release)
	<-done

	assert.False(t, cache.has("perm:user:u1"))
	perms, err := svc.EffectivePermissions(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"p1", "p3"}, permissionIDs(perms))
	assert.True(t, cache.has("perm:user:u1"))
}
