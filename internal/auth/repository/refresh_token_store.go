package repository

import (
	"context"
	"errors"
	"time"

	authdomain "github.com/AlibekovAA/refresh-guard/internal/auth/domain"
	userdomain "github.com/AlibekovAA/refresh-guard/internal/user/domain"
)

var (
	ErrRefreshTokenNotFound      = errors.New("refresh token not found")
	ErrRefreshTokenRevoked       = errors.New("refresh token revoked")
	ErrRefreshTokenConsumed      = errors.New("refresh token already rotated")
	ErrRefreshTokenExpired       = errors.New("refresh token expired")
	ErrRefreshTokenOwnerMismatch = errors.New("refresh token owned by another user")
	ErrDuplicateTokenID          = errors.New("duplicate refresh token id")
)

type CreateParams struct {
	TokenID   string
	UserID    userdomain.ID
	ExpiresAt time.Time
	UserAgent string
	SourceIP  string
}

// RefreshTokenStore keeps the live refresh tokens plus a consumed marker for every
// token that was rotated away, retained until the token's own expiry.
type RefreshTokenStore interface {
	Create(ctx context.Context, params CreateParams) (authdomain.RefreshTokenRecord, error)
	FindByID(ctx context.Context, tokenID string) (authdomain.RefreshTokenRecord, error)
	Revoke(ctx context.Context, tokenID string) error
	Delete(ctx context.Context, tokenID string) (bool, error)
	RevokeAllForUser(ctx context.Context, userID userdomain.ID) (int, error)
	// Rotate atomically retires oldTokenID and inserts next. On ErrRefreshTokenRevoked
	// and ErrRefreshTokenConsumed the returned record identifies the owner.
	Rotate(ctx context.Context, oldTokenID string, next CreateParams) (authdomain.RefreshTokenRecord, error)
	DeleteExpired(ctx context.Context) (int64, error)
}

// IsStoreOutcome reports whether err is a regular store answer rather than a
// backend failure.
func IsStoreOutcome(err error) bool {
	return errors.Is(err, ErrRefreshTokenNotFound) ||
		errors.Is(err, ErrRefreshTokenRevoked) ||
		errors.Is(err, ErrRefreshTokenConsumed) ||
		errors.Is(err, ErrRefreshTokenExpired) ||
		errors.Is(err, ErrRefreshTokenOwnerMismatch) ||
		errors.Is(err, ErrDuplicateTokenID)
}

func newRecord(params CreateParams, createdAt time.Time) authdomain.RefreshTokenRecord {
	return authdomain.RefreshTokenRecord{
		TokenID:   params.TokenID,
		UserID:    params.UserID,
		ExpiresAt: params.ExpiresAt,
		UserAgent: params.UserAgent,
		SourceIP:  params.SourceIP,
		CreatedAt: createdAt,
	}
}
