package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/AlibekovAA/refresh-guard/internal/common/crypto"
	"github.com/AlibekovAA/refresh-guard/internal/common/logger"
	"github.com/AlibekovAA/refresh-guard/internal/user/domain"
	"github.com/AlibekovAA/refresh-guard/internal/user/repository"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

type SeedUser struct {
	ID       domain.ID
	Username string
	Name     string
	Password string
}

var DefaultSeedUsers = []SeedUser{
	{ID: "1", Username: "testuser", Name: "Test User", Password: "password123"},
}

// Directory checks username/password pairs against the user repository.
type Directory struct {
	repo      repository.Repository
	hasher    crypto.PasswordHasher
	log       *logger.Logger
	dummyHash string
}

func NewDirectory(repo repository.Repository, hasher crypto.PasswordHasher, log *logger.Logger) (*Directory, error) {
	dummy, err := hasher.Hash("not-a-real-password")
	if err != nil {
		return nil, fmt.Errorf("failed to prepare directory: %w", err)
	}
	return &Directory{repo: repo, hasher: hasher, log: log, dummyHash: dummy}, nil
}

func (d *Directory) Seed(ctx context.Context, users []SeedUser) error {
	for _, u := range users {
		hash, err := d.hasher.Hash(u.Password)
		if err != nil {
			return fmt.Errorf("failed to hash password for %s: %w", u.Username, err)
		}
		err = d.repo.Create(ctx, domain.User{
			ID:           u.ID,
			Username:     u.Username,
			Name:         u.Name,
			PasswordHash: hash,
		})
		if err != nil && !errors.Is(err, repository.ErrUsernameAlreadyExists) {
			return fmt.Errorf("failed to seed user %s: %w", u.Username, err)
		}
	}
	d.log.Infof("user directory seeded with %d users", len(users))
	return nil
}

func (d *Directory) VerifyCredentials(ctx context.Context, username, password string) (domain.User, error) {
	user, err := d.repo.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			// keep timing close to the found-user path
			_ = d.hasher.Compare(d.dummyHash, password)
			return domain.User{}, ErrInvalidCredentials
		}
		return domain.User{}, fmt.Errorf("failed to find user: %w", err)
	}

	if err := d.hasher.Compare(user.PasswordHash, password); err != nil {
		return domain.User{}, ErrInvalidCredentials
	}

	return user, nil
}
