package domain

import (
	"time"

	userdomain "github.com/AlibekovAA/refresh-guard/internal/user/domain"
)

type RefreshTokenRecord struct {
	TokenID   string
	UserID    userdomain.ID
	ExpiresAt time.Time
	Revoked   bool
	UserAgent string
	SourceIP  string
	CreatedAt time.Time
}

func (r RefreshTokenRecord) ExpiredAt(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}
