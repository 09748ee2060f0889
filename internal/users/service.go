// Package users implements the profile use cases behind /api/v1/users.
package users

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/mtr002/jobpulse/internal/interfaces"
	"github.com/mtr002/jobpulse/internal/logger"
)

var (
	// ErrInvalid wraps every validation failure of a create or update
	ErrInvalid = errors.New("invalid user")
	// ErrForbidden is returned when a caller edits a profile that is not theirs
	ErrForbidden = errors.New("profile belongs to another user")
)

const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

var validate = newValidator()

// newValidator reports fields by their json names
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func check(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var fields validator.ValidationErrors
	if !errors.As(err, &fields) {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	msgs := make([]string, 0, len(fields))
	for _, f := range fields {
		switch f.Tag() {
		case "required":
			msgs = append(msgs, f.Field()+" is required")
		case "email":
			msgs = append(msgs, f.Field()+" must be a valid email address")
		case "max":
			msgs = append(msgs, f.Field()+" must be at most "+f.Param()+" characters")
		default:
			msgs = append(msgs, f.Field()+" failed "+f.Tag())
		}
	}
	return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
}

// Service implements the profile use cases on top of a user store
type Service struct {
	store interfaces.UserStore
}

func NewService(store interfaces.UserStore) *Service {
	return &Service{store: store}
}

// Register creates a profile for an auth id that has none yet
func (s *Service) Register(ctx context.Context, in *interfaces.UserCreate) (*interfaces.User, error) {
	in.AuthID = strings.TrimSpace(in.AuthID)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if err := check(in); err != nil {
		return nil, err
	}

	user, err := s.store.CreateUser(ctx, in)
	if err != nil {
		if errors.Is(err, interfaces.ErrUserExists) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	logger.WithOwnerID(user.AuthID).Info().Str("user_id", user.ID).Msg("User registered")
	return user, nil
}

// Me returns the profile bound to the caller's auth id
func (s *Service) Me(ctx context.Context, authID string) (*interfaces.User, error) {
	return s.store.GetUserByAuthID(ctx, authID)
}

func (s *Service) Get(ctx context.Context, id string) (*interfaces.User, error) {
	return s.store.GetUser(ctx, id)
}

// Update edits the profile id on behalf of authID, who must own it
func (s *Service) Update(ctx context.Context, authID, id string, u *interfaces.UserUpdate) (*interfaces.User, error) {
	if u.Email != nil {
		email := strings.ToLower(strings.TrimSpace(*u.Email))
		u.Email = &email
	}
	if err := check(u); err != nil {
		return nil, err
	}

	current, err := s.store.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.AuthID != authID {
		return nil, ErrForbidden
	}
	return s.store.UpdateUser(ctx, id, u)
}

// List pages through every profile, oldest first
func (s *Service) List(ctx context.Context, skip, limit int) ([]*interfaces.User, error) {
	if skip < 0 {
		skip = 0
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	return s.store.ListUsers(ctx, skip, limit)
}
