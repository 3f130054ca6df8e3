package http

import (
	"net/http"
	"time"

	authdomain "github.com/AlibekovAA/refresh-guard/internal/auth/domain"
	"github.com/AlibekovAA/refresh-guard/internal/common/config"
	"github.com/AlibekovAA/refresh-guard/internal/common/jwtverify"
)

const (
	AccessTokenCookie  = jwtverify.AccessTokenCookie
	RefreshTokenCookie = "refreshToken"
)

type cookieWriter struct {
	cfg        config.CookieConfig
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func (c cookieWriter) sameSite() http.SameSite {
	switch c.cfg.SameSite {
	case "lax":
		return http.SameSiteLaxMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteStrictMode
	}
}

func (c cookieWriter) build(name, value, path string, ttl time.Duration, expires time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		Domain:   c.cfg.Domain,
		Expires:  expires,
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: c.cfg.HTTPOnly,
		Secure:   c.cfg.Secure,
		SameSite: c.sameSite(),
	}
}

func (c cookieWriter) setPair(w http.ResponseWriter, pair authdomain.TokenPair) {
	http.SetCookie(w, c.build(AccessTokenCookie, pair.AccessToken, "/", c.accessTTL, pair.AccessExpiresAt))
	http.SetCookie(w, c.build(RefreshTokenCookie, pair.RefreshToken, c.cfg.RefreshPath, c.refreshTTL, pair.RefreshExpiresAt))
}

func (c cookieWriter) clear(w http.ResponseWriter) {
	access := c.build(AccessTokenCookie, "", "/", 0, time.Unix(0, 0))
	access.MaxAge = -1
	refresh := c.build(RefreshTokenCookie, "", c.cfg.RefreshPath, 0, time.Unix(0, 0))
	refresh.MaxAge = -1
	http.SetCookie(w, access)
	http.SetCookie(w, refresh)
}
