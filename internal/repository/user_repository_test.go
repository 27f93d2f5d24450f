package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/school-admin-api/internal/models"
	"github.com/noah-isme/school-admin-api/pkg/dataservice"
	appErrors "github.com/noah-isme/school-admin-api/pkg/errors"
)

func newMock(t *testing.T) (*dataservice.Client, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	sqlxdb := sqlx.NewDb(db, "sqlmock")
	return dataservice.New(sqlxdb), mock, func() {
		db.Close()
	}
}

var userRowColumns = []string{"id", "full_name", "email", "contact", "password_hash", "created_at", "updated_at"}

func TestFindByEmail(t *testing.T) {
	ds, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(ds)

	now := time.Now()
	rows := sqlmock.NewRows(userRowColumns).
		AddRow("1", "User", "user@example.com", nil, "hash", now, now)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT users.id, users.full_name, users.email, users.contact, users.password_hash, users.created_at, users.updated_at FROM users WHERE users.email = $1 LIMIT 1")).
		WithArgs("user@example.com").
		WillReturnRows(rows)

	user, err := repo.FindByEmail(context.Background(), "User@Example.com")
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", user.Email)
	assert.Nil(t, user.Contact)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByIDNotFound(t *testing.T) {
	ds, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(ds)

	mock.ExpectQuery("FROM users WHERE users.id = \\$1 LIMIT 1").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(userRowColumns))

	_, err := repo.FindByID(context.Background(), "missing")
	assert.True(t, errors.Is(err, sql.ErrNoRows))
}

func TestListUsers(t *testing.T) {
	ds, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(ds)

	now := time.Now()
	listRows := sqlmock.NewRows(userRowColumns).
		AddRow("1", "Ayu", "ayu@example.com", nil, nil, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE (users.full_name ILIKE $1 OR users.email ILIKE $2) ORDER BY users.full_name ASC LIMIT 10 OFFSET 10")).
		WithArgs("%ayu%", "%ayu%").
		WillReturnRows(listRows)

	countRows := sqlmock.NewRows([]string{"count"}).AddRow(11)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM users WHERE (users.full_name ILIKE $1 OR users.email ILIKE $2)")).
		WillReturnRows(countRows)

	users, total, err := repo.List(context.Background(), models.UserFilter{Search: "ayu", Page: 2, PageSize: 10, SortBy: "full_name", SortOrder: "asc"}, nil)
	require.NoError(t, err)
	assert.Len(t, users, 1)
	assert.Equal(t, 11, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListUsersWithEmptyMembershipShortCircuits(t *testing.T) {
	ds, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(ds)

	users, total, err := repo.List(context.Background(), models.UserFilter{RoleID: "r1"}, []string{})
	require.NoError(t, err)
	assert.Empty(t, users)
	assert.Zero(t, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateUserDuplicateEmailIsConflict(t *testing.T) {
	ds, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(ds)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO users (contact, created_at, email, full_name, id, password_hash, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7)")).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "users_email_key"})

	err := repo.Create(context.Background(), &models.User{FullName: "Dup", Email: "DUP@example.com"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrConflict))
}

func TestDeleteUserRemovesAssignmentsFirst(t *testing.T) {
	ds, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(ds)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM user_roles WHERE user_roles.user_id = $1")).
		WithArgs("u1").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM users WHERE users.id = $1")).
		WithArgs("u1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	existed, err := repo.Delete(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, existed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateUserSkipsPasswordWhenUnset(t *testing.T) {
	ds, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(ds)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET contact = $1, email = $2, full_name = $3, updated_at = $4 WHERE users.id = $5")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Update(context.Background(), &models.User{ID: "u1", FullName: "Ayu", Email: "ayu@example.com"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
