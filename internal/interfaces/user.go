package interfaces

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUserNotFound is returned by stores when no user matches.
	ErrUserNotFound = errors.New("user not found")
	// ErrUserExists is returned when an auth id is already registered.
	ErrUserExists = errors.New("user already exists")
)

// User is the profile record of an authenticated caller. AuthID is the
// subject of their bearer token and doubles as the owner id of their jobs.
type User struct {
	ID        string    `json:"id"`
	AuthID    string    `json:"auth_id"`
	Email     string    `json:"email"`
	Name      string    `json:"name,omitempty"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type UserCreate struct {
	AuthID string `json:"auth_id" validate:"required,max=128"`
	Email  string `json:"email" validate:"required,email,max=254"`
	Name   string `json:"name,omitempty" validate:"max=200"`
}

// UserUpdate is a partial profile update; nil fields are left untouched.
type UserUpdate struct {
	Email    *string `json:"email,omitempty" validate:"omitempty,email,max=254"`
	Name     *string `json:"name,omitempty" validate:"omitempty,max=200"`
	IsActive *bool   `json:"is_active,omitempty"`
}

// Apply copies the non-nil fields of u onto user and stamps UpdatedAt.
func (u *UserUpdate) Apply(user *User, now time.Time) {
	if u.Email != nil {
		user.Email = *u.Email
	}
	if u.Name != nil {
		user.Name = *u.Name
	}
	if u.IsActive != nil {
		user.IsActive = *u.IsActive
	}
	user.UpdatedAt = now
}

// UserStore persists user profiles. Lists are oldest first.
type UserStore interface {
	CreateUser(ctx context.Context, in *UserCreate) (*User, error)
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByAuthID(ctx context.Context, authID string) (*User, error)
	UpdateUser(ctx context.Context, id string, u *UserUpdate) (*User, error)
	ListUsers(ctx context.Context, skip, limit int) ([]*User, error)
}
