package db

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/mtr002/jobpulse/internal/interfaces"
)

// CreateUser registers a profile; auth ids are unique
func (s *MemoryStore) CreateUser(_ context.Context, in *interfaces.UserCreate) (*interfaces.User, error) {
	now := s.now()
	user := &interfaces.User{
		ID:        uuid.New().String(),
		AuthID:    in.AuthID,
		Email:     in.Email,
		Name:      in.Name,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.AuthID == in.AuthID {
			return nil, interfaces.ErrUserExists
		}
	}
	stored := *user
	s.users[user.ID] = &stored
	s.next++
	s.seq[user.ID] = s.next
	return user, nil
}

func (s *MemoryStore) GetUser(_ context.Context, id string) (*interfaces.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, interfaces.ErrUserNotFound
	}
	c := *u
	return &c, nil
}

func (s *MemoryStore) GetUserByAuthID(_ context.Context, authID string) (*interfaces.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if u.AuthID == authID {
			c := *u
			return &c, nil
		}
	}
	return nil, interfaces.ErrUserNotFound
}

func (s *MemoryStore) UpdateUser(_ context.Context, id string, upd *interfaces.UserUpdate) (*interfaces.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return nil, interfaces.ErrUserNotFound
	}
	upd.Apply(u, s.now())
	c := *u
	return &c, nil
}

// ListUsers pages through profiles in registration order
func (s *MemoryStore) ListUsers(_ context.Context, skip, limit int) ([]*interfaces.User, error) {
	s.mu.RLock()
	out := make([]*interfaces.User, 0, len(s.users))
	for _, u := range s.users {
		c := *u
		out = append(out, &c)
	}
	order := func(i int) int64 { return s.seq[out[i].ID] }
	sort.Slice(out, func(a, b int) bool { return order(a) < order(b) })
	s.mu.RUnlock()

	skip, limit = pageBounds(skip, limit)
	if skip >= len(out) {
		return []*interfaces.User{}, nil
	}
	out = out[skip:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}
