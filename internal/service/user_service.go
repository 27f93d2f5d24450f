package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/school-admin-api/internal/dto"
	"github.com/noah-isme/school-admin-api/internal/models"
	appErrors "github.com/noah-isme/school-admin-api/pkg/errors"
)

type userRepository interface {
	List(ctx context.Context, filter models.UserFilter, memberIDs []string) ([]models.User, int, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	Update(ctx context.Context, user *models.User) error
	Delete(ctx context.Context, id string) (bool, error)
}

type roleAssigner interface {
	AssignRole(ctx context.Context, userID, roleID string) error
	RevokeRole(ctx context.Context, userID, roleID string) error
	RolesOf(ctx context.Context, userIDs ...string) (map[string][]models.Role, error)
	MembersOf(ctx context.Context, roleID string) ([]string, error)
	InvalidateUser(ctx context.Context, userID string)
}

// UserService handles user management workflows.
type UserService struct {
	repo      userRepository
	roles     roleAssigner
	validator *validator.Validate
	logger    *zap.Logger
}

// NewUserService creates an instance of UserService.
func NewUserService(repo userRepository, roles roleAssigner, validate *validator.Validate, logger *zap.Logger) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &UserService{repo: repo, roles: roles, validator: validate, logger: logger}
}

// List returns paginated users and pagination metadata. A role filter limits the
// result to members of that role.
func (s *UserService) List(ctx context.Context, filter models.UserFilter) ([]models.User, *models.Pagination, error) {
	var memberIDs []string
	if filter.RoleID != "" {
		ids, err := s.roles.MembersOf(ctx, filter.RoleID)
		if err != nil {
			return nil, nil, err
		}
		memberIDs = append([]string{}, ids...)
	}

	users, total, err := s.repo.List(ctx, filter, memberIDs)
	if err != nil {
		return nil, nil, internalError(err, "failed to list users")
	}
	if err := s.attachRoles(ctx, users); err != nil {
		return nil, nil, err
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}

	pagination := &models.Pagination{
		Page:       page,
		PageSize:   pageSize,
		TotalCount: total,
	}

	return users, pagination, nil
}

func (s *UserService) attachRoles(ctx context.Context, users []models.User) error {
	if len(users) == 0 {
		return nil
	}
	ids := make([]string, 0, len(users))
	for _, u := range users {
		ids = append(ids, u.ID)
	}
	byUser, err := s.roles.RolesOf(ctx, ids...)
	if err != nil {
		return err
	}
	for i := range users {
		users[i].Roles = byUser[users[i].ID]
	}
	return nil
}

// Get returns a user by ID with their roles.
func (s *UserService) Get(ctx context.Context, id string) (*models.User, error) {
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, internalError(err, "failed to load user")
	}
	users := []models.User{*user}
	if err := s.attachRoles(ctx, users); err != nil {
		return nil, err
	}
	return &users[0], nil
}

func (s *UserService) ensureEmailFree(ctx context.Context, email, selfID string) error {
	existing, err := s.repo.FindByEmail(ctx, email)
	if err == nil {
		if existing.ID != selfID {
			return appErrors.Clone(appErrors.ErrConflict, "email already exists")
		}
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return internalError(err, "failed to check email uniqueness")
	}
	return nil
}

func hashPassword(password string) (*string, error) {
	if password == "" {
		return nil, nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, internalError(err, "failed to hash password")
	}
	h := string(hash)
	return &h, nil
}

// Create adds a user and assigns the requested roles. When an assignment fails the
// roles already assigned are revoked and the user is deleted before the error is returned.
func (s *UserService) Create(ctx context.Context, req dto.CreateUserRequest) (*models.User, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid create user payload")
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if err := s.ensureEmailFree(ctx, email, ""); err != nil {
		return nil, err
	}
	passwordHash, err := hashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	user := &models.User{
		FullName:     strings.TrimSpace(req.FullName),
		Email:        email,
		Contact:      req.Contact,
		PasswordHash: passwordHash,
	}
	if err := s.repo.Create(ctx, user); err != nil {
		if errors.Is(err, appErrors.ErrConflict) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "email already exists")
		}
		return nil, internalError(err, "failed to create user")
	}

	var assigned []string
	for _, roleID := range req.RoleIDs {
		if err := s.roles.AssignRole(ctx, user.ID, roleID); err != nil {
			s.compensateCreate(ctx, user.ID, assigned)
			return nil, err
		}
		assigned = append(assigned, roleID)
	}

	s.logger.Info("user created", zap.String("user_id", user.ID), zap.Int("roles", len(assigned)))
	return s.Get(ctx, user.ID)
}

// compensateCreate undoes a partially applied Create. Failures are logged; the original error wins.
func (s *UserService) compensateCreate(ctx context.Context, userID string, assigned []string) {
	for i := len(assigned) - 1; i >= 0; i-- {
		if err := s.roles.RevokeRole(ctx, userID, assigned[i]); err != nil {
			s.logger.Error("compensation: revoke role failed", zap.String("user_id", userID), zap.String("role_id", assigned[i]), zap.Error(err))
		}
	}
	if _, err := s.repo.Delete(ctx, userID); err != nil {
		s.logger.Error("compensation: delete user failed", zap.String("user_id", userID), zap.Error(err))
		return
	}
	s.logger.Warn("user creation rolled back", zap.String("user_id", userID))
}

// Update modifies profile fields. The password is only replaced when supplied.
func (s *UserService) Update(ctx context.Context, id string, req dto.UpdateUserRequest) (*models.User, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid update user payload")
	}
	user, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email != user.Email {
		if err := s.ensureEmailFree(ctx, email, id); err != nil {
			return nil, err
		}
	}
	passwordHash, err := hashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	user.FullName = strings.TrimSpace(req.FullName)
	user.Email = email
	user.Contact = req.Contact
	user.PasswordHash = passwordHash
	if err := s.repo.Update(ctx, user); err != nil {
		if errors.Is(err, appErrors.ErrConflict) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "email already exists")
		}
		return nil, internalError(err, "failed to update user")
	}
	user.PasswordHash = nil
	return user, nil
}

// Delete removes a user and their role assignments.
func (s *UserService) Delete(ctx context.Context, id string) error {
	found, err := s.repo.Delete(ctx, id)
	if err != nil {
		return internalError(err, "failed to delete user")
	}
	if !found {
		return appErrors.Clone(appErrors.ErrNotFound, "user not found")
	}
	s.roles.InvalidateUser(ctx, id)
	return nil
}

// SetRoles makes the user's roles exactly roleIDs: missing roles are assigned, extra ones revoked.
func (s *UserService) SetRoles(ctx context.Context, userID string, req dto.SetRolesRequest) (*models.User, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid role set")
	}
	user, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	want := make(map[string]bool, len(req.RoleIDs))
	for _, id := range req.RoleIDs {
		want[id] = true
	}
	have := make(map[string]bool, len(user.Roles))
	for _, r := range user.Roles {
		have[r.ID] = true
	}
	for _, id := range req.RoleIDs {
		if have[id] {
			continue
		}
		if err := s.roles.AssignRole(ctx, userID, id); err != nil {
			return nil, err
		}
	}
	for _, r := range user.Roles {
		if want[r.ID] {
			continue
		}
		if err := s.roles.RevokeRole(ctx, userID, r.ID); err != nil {
			return nil, err
		}
	}
	return s.Get(ctx, userID)
}
