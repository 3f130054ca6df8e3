package repository

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/AlibekovAA/refresh-guard/internal/common/clock"
	"github.com/AlibekovAA/refresh-guard/internal/user/domain"
)

var (
	ErrUserNotFound          = errors.New("user not found")
	ErrUsernameAlreadyExists = errors.New("username already exists")
)

type Repository interface {
	Create(ctx context.Context, user domain.User) error
	FindByUsername(ctx context.Context, username string) (domain.User, error)
}

type MemoryRepository struct {
	mu         sync.RWMutex
	byID       map[domain.ID]domain.User
	byUsername map[string]domain.ID
	clock      clock.Clock
}

func NewMemoryRepository(clk clock.Clock) *MemoryRepository {
	return &MemoryRepository{
		byID:       make(map[domain.ID]domain.User),
		byUsername: make(map[string]domain.ID),
		clock:      clk,
	}
}

func (r *MemoryRepository) Create(ctx context.Context, user domain.User) error {
	key := strings.ToLower(user.Username)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byUsername[key]; exists {
		return ErrUsernameAlreadyExists
	}
	if _, exists := r.byID[user.ID]; exists {
		return ErrUsernameAlreadyExists
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = r.clock.Now()
	}

	r.byID[user.ID] = user
	r.byUsername[key] = user.ID
	return nil
}

func (r *MemoryRepository) FindByUsername(ctx context.Context, username string) (domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byUsername[strings.ToLower(username)]
	if !ok {
		return domain.User{}, ErrUserNotFound
	}
	return r.byID[id], nil
}
