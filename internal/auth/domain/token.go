package domain

import (
	"time"

	userdomain "github.com/AlibekovAA/refresh-guard/internal/user/domain"
)

type TokenClass string

const (
	AccessToken  TokenClass = "access"
	RefreshToken TokenClass = "refresh"
)

func (c TokenClass) Valid() bool {
	return c == AccessToken || c == RefreshToken
}

type TokenClaims struct {
	Subject   userdomain.ID
	TokenID   string
	Class     TokenClass
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TokenPair carries both signed tokens with their IDs, so the refresh record can be
// keyed without re-parsing the token.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessTokenID    string
	RefreshTokenID   string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}
