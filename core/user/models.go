package user

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/circuscoach/backend/core"
)

// Roles
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

var Roles = []string{RoleAdmin, RoleUser}

type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"` // UTC
	UpdatedAt time.Time `json:"updated_at"` // UTC
}

func (u User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

type (
	NewUser struct {
		Name  string `json:"name" validate:"required,max=255"`
		Email string `json:"email" validate:"required,email,max=255"`
		Role  string `json:"role" validate:"omitempty,oneof=admin user"`
	}

	// GetFilter matches on the first set field.
	GetFilter struct {
		ID    string
		Email string
	}
)

func (nu *NewUser) Validate(validate *validator.Validate) error {
	nu.Name = core.CleanString(nu.Name)
	nu.Email = core.CleanString(nu.Email, true /* lower */)
	if nu.Role == "" {
		nu.Role = RoleUser
	}
	return validate.Struct(nu)
}
