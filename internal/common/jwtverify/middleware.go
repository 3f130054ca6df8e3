package jwtverify

import (
	"context"
	"net/http"
	"strings"
	"time"

	commonerrors "github.com/AlibekovAA/refresh-guard/internal/common/errors"
	commonhttp "github.com/AlibekovAA/refresh-guard/internal/common/http"
	"github.com/AlibekovAA/refresh-guard/internal/common/logger"
)

const AccessTokenCookie = "accessToken"

type Claims struct {
	UserID    string
	TokenID   string
	ExpiresAt time.Time
}

type Verifier interface {
	VerifyAccessToken(ctx context.Context, token string) (Claims, error)
}

type contextKey string

const claimsKey contextKey = "jwt_claims"

// Middleware admits requests carrying a valid access token, taken from the
// accessToken cookie or an Authorization bearer header.
func Middleware(verifier Verifier, log *logger.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractToken(r)
			if token == "" {
				log.WithFields(r.Context(), logger.Fields{
					"path":   r.URL.Path,
					"action": "jwt_auth_missing_token",
				}).Warn("jwt auth failed: missing access token")
				commonhttp.HandleError(w, r, commonerrors.ErrMissingAuthorization, log)
				return
			}

			claims, err := verifier.VerifyAccessToken(r.Context(), token)
			if err != nil {
				log.WithFields(r.Context(), logger.Fields{
					"path":   r.URL.Path,
					"action": "jwt_auth_failed",
				}).Warnf("jwt auth failed: %v", err)
				commonhttp.HandleError(w, r, err, log)
				return
			}

			ctx := WithClaims(r.Context(), claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func extractToken(r *http.Request) string {
	if cookie, err := r.Cookie(AccessTokenCookie); err == nil && cookie.Value != "" {
		return cookie.Value
	}

	raw := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(raw, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

func WithClaims(ctx context.Context, claims Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

func FromContext(ctx context.Context) (Claims, bool) {
	val := ctx.Value(claimsKey)
	claims, ok := val.(Claims)
	return claims, ok
}
