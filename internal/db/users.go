package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/mtr002/jobpulse/internal/interfaces"
)

const userColumns = `id, auth_id, email, name, is_active, created_at, updated_at`

// pqUniqueViolation is the SQLSTATE for unique_violation
const pqUniqueViolation = "23505"

// CreateUser inserts a profile; a taken auth id yields ErrUserExists
func (s *Store) CreateUser(ctx context.Context, in *interfaces.UserCreate) (*interfaces.User, error) {
	now := time.Now().UTC()
	user := &interfaces.User{
		ID:        uuid.New().String(),
		AuthID:    in.AuthID,
		Email:     in.Email,
		Name:      in.Name,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	query := `
		INSERT INTO users (id, auth_id, email, name, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.q.ExecContext(ctx, query,
		user.ID, user.AuthID, user.Email, nullString(user.Name), user.IsActive, user.CreatedAt, user.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return nil, interfaces.ErrUserExists
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*interfaces.User, error) {
	return s.getUser(ctx, `id = $1`, id)
}

func (s *Store) GetUserByAuthID(ctx context.Context, authID string) (*interfaces.User, error) {
	return s.getUser(ctx, `auth_id = $1`, authID)
}

func (s *Store) getUser(ctx context.Context, where string, key string) (*interfaces.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE ` + where
	user, err := scanUser(s.q.QueryRowContext(ctx, query, key))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// UpdateUser applies the non-nil fields of u
func (s *Store) UpdateUser(ctx context.Context, id string, u *interfaces.UserUpdate) (*interfaces.User, error) {
	sets := []string{}
	args := []any{id}
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if u.Email != nil {
		add("email", *u.Email)
	}
	if u.Name != nil {
		add("name", nullString(*u.Name))
	}
	if u.IsActive != nil {
		add("is_active", *u.IsActive)
	}
	add("updated_at", time.Now().UTC())

	query := `UPDATE users SET ` + strings.Join(sets, ", ") + ` WHERE id = $1 RETURNING ` + userColumns
	user, err := scanUser(s.q.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to update user: %w", err)
	}
	return user, nil
}

// ListUsers pages through profiles in registration order
func (s *Store) ListUsers(ctx context.Context, skip, limit int) ([]*interfaces.User, error) {
	skip, limit = pageBounds(skip, limit)
	query := `SELECT ` + userColumns + ` FROM users ORDER BY created_at, id OFFSET $1 LIMIT $2`
	rows, err := s.q.QueryContext(ctx, query, skip, sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	users := []*interfaces.User{}
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return users, nil
}

func scanUser(row scanner) (*interfaces.User, error) {
	user := &interfaces.User{}
	var name sql.NullString
	err := row.Scan(&user.ID, &user.AuthID, &user.Email, &name, &user.IsActive, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return nil, err
	}
	user.Name = name.String
	return user, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
