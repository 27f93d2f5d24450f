package repository

import (
	"context"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssignRoleIsIdempotentUpsert(t *testing.T) {
	ds, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRoleRepository(ds)

	mock.ExpectExec(regexp.QuoteMeta(assignRoleQuery)).WithArgs("u1", "r1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(assignRoleQuery)).WithArgs("u1", "r1").WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.AssignRole(context.Background(), "u1", "r1"))
	require.NoError(t, repo.AssignRole(context.Background(), "u1", "r1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRevokeUnassignedRoleSucceeds(t *testing.T) {
	ds, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRoleRepository(ds)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM user_roles WHERE user_roles.user_id = $1 AND user_roles.role_id = $2")).
		WithArgs("u1", "never").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.RevokeRole(context.Background(), "u1", "never"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTogglePermissionReturnsNewState(t *testing.T) {
	ds, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRoleRepository(ds)

	mock.ExpectQuery(regexp.QuoteMeta(togglePermissionQuery)).
		WithArgs("r1", "p1").
		WillReturnRows(sqlmock.NewRows([]string{"is_granted"}).AddRow(true))
	mock.ExpectQuery(regexp.QuoteMeta(togglePermissionQuery)).
		WithArgs("r1", "p1").
		WillReturnRows(sqlmock.NewRows([]string{"is_granted"}).AddRow(false))

	granted, err := repo.TogglePermission(context.Background(), "r1", "p1")
	require.NoError(t, err)
	assert.True(t, granted)

	granted, err = repo.TogglePermission(context.Background(), "r1", "p1")
	require.NoError(t, err)
	assert.False(t, granted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRolesGroupsByUser(t *testing.T) {
	ds, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRoleRepository(ds)

	rows := sqlmock.NewRows([]string{"user_id", "role_id", "role.id", "role.name", "role.is_custom"}).
		AddRow("u1", "r1", "r1", "Accountant", true).
		AddRow("u1", "r2", "r2", "Admin", false).
		AddRow("u2", "r2", "r2", "Admin", false)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT user_roles.user_id, user_roles.role_id, role.id AS "role.id", role.name AS "role.name", role.is_custom AS "role.is_custom" FROM user_roles INNER JOIN roles AS role ON role.id = user_roles.role_id WHERE user_roles.user_id = ANY($1) ORDER BY role.name ASC`)).
		WillReturnRows(rows)

	roles, err := repo.UserRoles(context.Background(), "u1", "u2")
	require.NoError(t, err)
	require.Len(t, roles["u1"], 2)
	assert.Equal(t, "Accountant", roles["u1"][0].Name)
	assert.True(t, roles["u1"][0].IsCustom)
	assert.Len(t, roles["u2"], 1)
}

func TestRoleGrantsSkipsQueryWithoutRoles(t *testing.T) {
	ds, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRoleRepository(ds)

	grants, err := repo.RoleGrants(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, grants)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteRoleCascadesInOrder(t *testing.T) {
	ds, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRoleRepository(ds)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM role_permissions WHERE role_permissions.role_id = $1")).WithArgs("r9").WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM user_roles WHERE user_roles.role_id = $1")).WithArgs("r9").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM roles WHERE roles.id = $1")).WithArgs("r9").WillReturnResult(sqlmock.NewResult(0, 1))

	n, err := repo.DeleteRole(context.Background(), "r9")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
