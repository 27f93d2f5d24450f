package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/school-admin-api/internal/models"
	"github.com/noah-isme/school-admin-api/pkg/dataservice"
)

var userColumns = []string{"id", "full_name", "email", "contact", "password_hash", "created_at", "updated_at"}

// UserRepository provides data access for the user directory.
type UserRepository struct {
	ds *dataservice.Client
}

// NewUserRepository creates a new instance of UserRepository.
func NewUserRepository(ds *dataservice.Client) *UserRepository {
	return &UserRepository{ds: ds}
}

// FindByEmail returns a user by email address. sql.ErrNoRows is returned when absent.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	err := r.ds.Get(ctx, dataservice.Query{
		Table:   "users",
		Columns: userColumns,
		Filters: []dataservice.Filter{dataservice.Eq("email", strings.ToLower(email))},
	}, &user)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// FindByID returns a user by identifier. sql.ErrNoRows is returned when absent.
func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	err := r.ds.Get(ctx, dataservice.Query{
		Table:   "users",
		Columns: userColumns,
		Filters: []dataservice.Filter{dataservice.Eq("id", id)},
	}, &user)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// List returns users based on filters with total count. memberIDs, when non-nil, restricts the result to those users.
func (r *UserRepository) List(ctx context.Context, filter models.UserFilter, memberIDs []string) ([]models.User, int, error) {
	var filters []dataservice.Filter
	if memberIDs != nil {
		if len(memberIDs) == 0 {
			return []models.User{}, 0, nil
		}
		filters = append(filters, dataservice.In("id", memberIDs))
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		pattern := "%" + search + "%"
		filters = append(filters, dataservice.Any(dataservice.ILike("full_name", pattern), dataservice.ILike("email", pattern)))
	}

	sortBy := filter.SortBy
	allowedSorts := map[string]bool{
		"email":      true,
		"created_at": true,
		"updated_at": true,
		"full_name":  true,
	}
	if !allowedSorts[sortBy] {
		sortBy = "created_at"
	}
	desc := !strings.EqualFold(filter.SortOrder, "ASC")

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}

	q := dataservice.Query{
		Table:   "users",
		Columns: userColumns,
		Filters: filters,
		Order:   []dataservice.Order{{Column: sortBy, Desc: desc}},
		Limit:   pageSize,
		Offset:  (page - 1) * pageSize,
	}
	var users []models.User
	if err := r.ds.Select(ctx, q, &users); err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}

	total, err := r.ds.Count(ctx, dataservice.Query{Table: "users", Filters: filters})
	if err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}
	return users, total, nil
}

// Create inserts a new user and fills in generated fields.
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now
	user.Email = strings.ToLower(user.Email)

	err := r.ds.Insert(ctx, "users", map[string]interface{}{
		"id":            user.ID,
		"full_name":     user.FullName,
		"email":         user.Email,
		"contact":       user.Contact,
		"password_hash": user.PasswordHash,
		"created_at":    user.CreatedAt,
		"updated_at":    user.UpdatedAt,
	}, nil)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// Update updates mutable fields of a user. The password hash is only written when set.
func (r *UserRepository) Update(ctx context.Context, user *models.User) error {
	user.UpdatedAt = time.Now().UTC()
	patch := map[string]interface{}{
		"full_name":  user.FullName,
		"email":      strings.ToLower(user.Email),
		"contact":    user.Contact,
		"updated_at": user.UpdatedAt,
	}
	if user.PasswordHash != nil {
		patch["password_hash"] = *user.PasswordHash
	}
	if _, err := r.ds.Update(ctx, "users", []dataservice.Filter{dataservice.Eq("id", user.ID)}, patch, nil); err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	return nil
}

// Delete removes a user and their role assignments, reporting whether the user existed.
func (r *UserRepository) Delete(ctx context.Context, id string) (bool, error) {
	if _, err := r.ds.Delete(ctx, "user_roles", []dataservice.Filter{dataservice.Eq("user_id", id)}); err != nil {
		return false, fmt.Errorf("delete user roles: %w", err)
	}
	n, err := r.ds.Delete(ctx, "users", []dataservice.Filter{dataservice.Eq("id", id)})
	if err != nil {
		return false, fmt.Errorf("delete user: %w", err)
	}
	return n > 0, nil
}
