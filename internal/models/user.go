package models

import "time"

// User represents an application user stored in the users table.
type User struct {
	ID           string    `db:"id" json:"id"`
	FullName     string    `db:"full_name" json:"full_name"`
	Email        string    `db:"email" json:"email"`
	Contact      *string   `db:"contact" json:"contact,omitempty"`
	PasswordHash *string   `db:"password_hash" json:"-"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
	Roles        []Role    `db:"-" json:"roles,omitempty"`
}

// UserFilter captures filtering criteria for listing users.
type UserFilter struct {
	Search    string
	RoleID    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
