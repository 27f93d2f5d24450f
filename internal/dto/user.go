package dto

// CreateUserRequest represents payload for creating users.
type CreateUserRequest struct {
	FullName string   `json:"full_name" validate:"required,max=120"`
	Email    string   `json:"email" validate:"required,email"`
	Contact  *string  `json:"contact" validate:"omitempty,max=32"`
	Password string   `json:"password" validate:"omitempty,min=8"`
	RoleIDs  []string `json:"role_ids" validate:"dive,required"`
}

// UpdateUserRequest payload for updating users.
type UpdateUserRequest struct {
	FullName string  `json:"full_name" validate:"required,max=120"`
	Email    string  `json:"email" validate:"required,email"`
	Contact  *string `json:"contact" validate:"omitempty,max=32"`
	Password string  `json:"password" validate:"omitempty,min=8"`
}

// SetRolesRequest replaces a user's role set.
type SetRolesRequest struct {
	RoleIDs []string `json:"role_ids" validate:"dive,required"`
}

// CreateRoleRequest creates a custom role.
type CreateRoleRequest struct {
	Name string `json:"name" validate:"required,min=2,max=64"`
}

// TogglePermissionResponse reports the grant state after a toggle.
type TogglePermissionResponse struct {
	RoleID       string `json:"role_id"`
	PermissionID string `json:"permission_id"`
	IsGranted    bool   `json:"is_granted"`
}
