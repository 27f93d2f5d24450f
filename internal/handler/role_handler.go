package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/school-admin-api/internal/dto"
	"github.com/noah-isme/school-admin-api/internal/models"
	"github.com/noah-isme/school-admin-api/internal/service"
	appErrors "github.com/noah-isme/school-admin-api/pkg/errors"
	"github.com/noah-isme/school-admin-api/pkg/response"
)

type roleService interface {
	ListRoles(ctx context.Context) ([]models.Role, error)
	CreateRole(ctx context.Context, name string) (*models.Role, error)
	DeleteRole(ctx context.Context, id string) error
	ListPermissions(ctx context.Context) ([]models.Permission, error)
	RolePermissions(ctx context.Context, roleID string) ([]models.RolePermissionEntry, error)
	TogglePermission(ctx context.Context, roleID, permissionID string) (bool, error)
}

// RoleHandler exposes role and permission management.
type RoleHandler struct {
	roles roleService
}

// NewRoleHandler constructs the handler.
func NewRoleHandler(roles roleService) *RoleHandler {
	return &RoleHandler{roles: roles}
}

// List godoc
// @Summary List roles
// @Tags Roles
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /roles [get]
func (h *RoleHandler) List(c *gin.Context) {
	roles, err := h.roles.ListRoles(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, roles, nil)
}

// Create godoc
// @Summary Create a custom role
// @Tags Roles
// @Accept json
// @Produce json
// @Param payload body dto.CreateRoleRequest true "Role"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /roles [post]
func (h *RoleHandler) Create(c *gin.Context) {
	var req dto.CreateRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidPayload(c, err)
		return
	}
	name := strings.TrimSpace(req.Name)
	if len(name) < 2 || len(name) > 64 {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "name must be 2 to 64 characters"))
		return
	}
	role, err := h.roles.CreateRole(c.Request.Context(), name)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, role)
}

// Delete godoc
// @Summary Delete a custom role
// @Tags Roles
// @Param id path string true "Role ID"
// @Success 204
// @Failure 400 {object} response.Envelope
// @Router /roles/{id} [delete]
func (h *RoleHandler) Delete(c *gin.Context) {
	if err := h.roles.DeleteRole(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Permissions godoc
// @Summary Permission matrix of a role
// @Tags Roles
// @Produce json
// @Param id path string true "Role ID"
// @Success 200 {object} response.Envelope
// @Router /roles/{id}/permissions [get]
func (h *RoleHandler) Permissions(c *gin.Context) {
	entries, err := h.roles.RolePermissions(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries, nil)
}

// TogglePermission godoc
// @Summary Toggle a permission on a role
// @Tags Roles
// @Produce json
// @Param id path string true "Role ID"
// @Param permissionId path string true "Permission ID"
// @Success 200 {object} response.Envelope
// @Router /roles/{id}/permissions/{permissionId}/toggle [post]
func (h *RoleHandler) TogglePermission(c *gin.Context) {
	roleID, permissionID := c.Param("id"), c.Param("permissionId")
	granted, err := h.roles.TogglePermission(c.Request.Context(), roleID, permissionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.TogglePermissionResponse{RoleID: roleID, PermissionID: permissionID, IsGranted: granted}, nil)
}

// ListPermissions godoc
// @Summary List permissions
// @Tags Roles
// @Produce json
// @Param grouped query bool false "Group by permission group"
// @Success 200 {object} response.Envelope
// @Router /permissions [get]
func (h *RoleHandler) ListPermissions(c *gin.Context) {
	perms, err := h.roles.ListPermissions(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	if grouped, _ := strconv.ParseBool(c.Query("grouped")); grouped {
		response.JSON(c, http.StatusOK, service.GroupPermissionsByGroup(perms), nil)
		return
	}
	response.JSON(c, http.StatusOK, perms, nil)
}

