package models

import (
	"time"
)

// Role values stored on users.role
const (
	RoleAdmin     = "admin"
	RoleHomeowner = "homeowner"
	RoleTenant    = "tenant"
)

type User struct {
	ID           string
	Email        string
	PasswordHash string
	Name         string
	Role         string // "admin", "homeowner", "tenant"
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Identity is the stable reference a user directory resolves an email to.
type Identity struct {
	ID    string
	Email string
	Name  string
	Role  string
}

// IsAdmin reports whether the identity carries the admin role.
func (i *Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

// Identity projects the user row onto the directory view used by the lockout services.
func (u *User) Identity() *Identity {
	return &Identity{
		ID:    u.ID,
		Email: u.Email,
		Name:  u.Name,
		Role:  u.Role,
	}
}
