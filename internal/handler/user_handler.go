package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/school-admin-api/internal/dto"
	"github.com/noah-isme/school-admin-api/internal/models"
	appErrors "github.com/noah-isme/school-admin-api/pkg/errors"
	"github.com/noah-isme/school-admin-api/pkg/response"
)

type userService interface {
	List(ctx context.Context, filter models.UserFilter) ([]models.User, *models.Pagination, error)
	Get(ctx context.Context, id string) (*models.User, error)
	Create(ctx context.Context, req dto.CreateUserRequest) (*models.User, error)
	Update(ctx context.Context, id string, req dto.UpdateUserRequest) (*models.User, error)
	Delete(ctx context.Context, id string) error
	SetRoles(ctx context.Context, userID string, req dto.SetRolesRequest) (*models.User, error)
}

type userRoleService interface {
	AssignRole(ctx context.Context, userID, roleID string) error
	RevokeRole(ctx context.Context, userID, roleID string) error
	EffectivePermissions(ctx context.Context, userID string) ([]models.Permission, error)
}

// UserHandler handles user directory endpoints.
type UserHandler struct {
	users userService
	roles userRoleService
}

// NewUserHandler creates a new user handler.
func NewUserHandler(users userService, roles userRoleService) *UserHandler {
	return &UserHandler{users: users, roles: roles}
}

func invalidPayload(c *gin.Context, err error) {
	response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
}

// List godoc
// @Summary List users
// @Description List users with pagination, search and role filtering
// @Tags Users
// @Produce json
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Param role_id query string false "Only members of this role"
// @Param search query string false "Search name, email or contact"
// @Param sort_by query string false "full_name, email or created_at"
// @Param sort_order query string false "asc or desc"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /users [get]
func (h *UserHandler) List(c *gin.Context) {
	var filter models.UserFilter

	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("page_size", "20")); err == nil {
		filter.PageSize = size
	}
	filter.RoleID = c.Query("role_id")
	filter.Search = c.Query("search")
	filter.SortBy = c.Query("sort_by")
	filter.SortOrder = c.Query("sort_order")

	users, pagination, err := h.users.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, users, pagination)
}

// Get godoc
// @Summary Get user
// @Tags Users
// @Produce json
// @Param id path string true "User ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /users/{id} [get]
func (h *UserHandler) Get(c *gin.Context) {
	user, err := h.users.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, user, nil)
}

// Create godoc
// @Summary Create user
// @Description Creates the user and assigns the given roles. A failed assignment rolls the whole creation back.
// @Tags Users
// @Accept json
// @Produce json
// @Param payload body dto.CreateUserRequest true "Create user payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /users [post]
func (h *UserHandler) Create(c *gin.Context) {
	var req dto.CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidPayload(c, err)
		return
	}
	user, err := h.users.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, user)
}

// Update godoc
// @Summary Update user
// @Tags Users
// @Accept json
// @Produce json
// @Param id path string true "User ID"
// @Param payload body dto.UpdateUserRequest true "Update user payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /users/{id} [put]
func (h *UserHandler) Update(c *gin.Context) {
	var req dto.UpdateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidPayload(c, err)
		return
	}
	user, err := h.users.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, user, nil)
}

// Delete godoc
// @Summary Delete user
// @Tags Users
// @Param id path string true "User ID"
// @Success 204
// @Failure 404 {object} response.Envelope
// @Router /users/{id} [delete]
func (h *UserHandler) Delete(c *gin.Context) {
	if err := h.users.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// SetRoles godoc
// @Summary Replace user roles
// @Tags Users
// @Accept json
// @Produce json
// @Param id path string true "User ID"
// @Param payload body dto.SetRolesRequest true "Role ids"
// @Success 200 {object} response.Envelope
// @Router /users/{id}/roles [put]
func (h *UserHandler) SetRoles(c *gin.Context) {
	var req dto.SetRolesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidPayload(c, err)
		return
	}
	user, err := h.users.SetRoles(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, user, nil)
}

// AssignRole godoc
// @Summary Assign a role
// @Tags Users
// @Param id path string true "User ID"
// @Param roleId path string true "Role ID"
// @Success 204
// @Failure 404 {object} response.Envelope
// @Router /users/{id}/roles/{roleId} [post]
func (h *UserHandler) AssignRole(c *gin.Context) {
	if err := h.roles.AssignRole(c.Request.Context(), c.Param("id"), c.Param("roleId")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// RevokeRole godoc
// @Summary Revoke a role
// @Tags Users
// @Param id path string true "User ID"
// @Param roleId path string true "Role ID"
// @Success 204
// @Router /users/{id}/roles/{roleId} [delete]
func (h *UserHandler) RevokeRole(c *gin.Context) {
	if err := h.roles.RevokeRole(c.Request.Context(), c.Param("id"), c.Param("roleId")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Permissions godoc
// @Summary Effective permissions of a user
// @Tags Users
// @Produce json
// @Param id path string true "User ID"
// @Success 200 {object} response.Envelope
// @Router /users/{id}/permissions [get]
func (h *UserHandler) Permissions(c *gin.Context) {
	perms, err := h.roles.EffectivePermissions(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, perms, nil)
}
