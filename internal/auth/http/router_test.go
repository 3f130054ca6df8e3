package http

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	authrepo "github.com/AlibekovAA/refresh-guard/internal/auth/repository"
	"github.com/AlibekovAA/refresh-guard/internal/auth/service"
	"github.com/AlibekovAA/refresh-guard/internal/common/clock"
	"github.com/AlibekovAA/refresh-guard/internal/common/config"
	commoncrypto "github.com/AlibekovAA/refresh-guard/internal/common/crypto"
	commonhttp "github.com/AlibekovAA/refresh-guard/internal/common/http"
	"github.com/AlibekovAA/refresh-guard/internal/common/logger"
	"github.com/AlibekovAA/refresh-guard/internal/common/resilience"
	userdomain "github.com/AlibekovAA/refresh-guard/internal/user/domain"
	userrepo "github.com/AlibekovAA/refresh-guard/internal/user/repository"
	userservice "github.com/AlibekovAA/refresh-guard/internal/user/service"
)

const testAdminToken = "admin-token-0123456789abcdef0123456789"

func newTestHandler(t *testing.T) http.Handler {
	t.Helper()
	return newTestHandlerWithAdmin(t, testAdminToken)
}

func newTestHandlerWithAdmin(t *testing.T, adminToken string) http.Handler {
	t.Helper()

	log := logger.NewWithWriter(io.Discard, "test", "critical")
	clk := clock.NewRealClock()

	directory, err := userservice.NewDirectory(
		userrepo.NewMemoryRepository(clk),
		&commoncrypto.BcryptHasher{Cost: bcrypt.MinCost},
		log,
	)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if err := directory.Seed(t.Context(), userservice.DefaultSeedUsers); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	jwtCfg := config.JWTConfig{
		Algorithm:     config.AlgorithmHS256,
		AccessSecret:  "access-secret-0123456789abcdef0123456789",
		RefreshSecret: "refresh-secret-0123456789abcdef012345678",
		AccessTTL:     30 * time.Minute,
		RefreshTTL:    7 * 24 * time.Hour,
	}
	issuer, err := service.NewTokenIssuer(jwtCfg, commoncrypto.NewUUIDGenerator(), clk, log)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Threshold:  5,
		Timeout:    time.Second,
		ResetAfter: time.Second,
		IsFailure:  func(err error) bool { return !authrepo.IsStoreOutcome(err) },
	})
	rotator := service.NewRefreshTokenRotator(authrepo.NewMemoryRefreshTokenStore(clk), breaker, log)
	auth := service.NewAuthService(directory, issuer, rotator, log)

	return NewHandler(auth, Config{
		Cookie: config.CookieConfig{
			HTTPOnly:    true,
			SameSite:    "strict",
			RefreshPath: "/auth",
		},
		AccessTTL:      jwtCfg.AccessTTL,
		RefreshTTL:     jwtCfg.RefreshTTL,
		RequestTimeout: time.Second,
		AdminToken:     adminToken,
	}, log)
}

func findCookie(cookies []*http.Cookie, name string) *http.Cookie {
	for _, c := range cookies {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func doRequest(h http.Handler, method, path, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func login(t *testing.T, h http.Handler) (*http.Cookie, *http.Cookie) {
	t.Helper()
	rec := doRequest(h, http.MethodPost, "/auth/login", `{"username":"testuser","password":"password123"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	cookies := rec.Result().Cookies()
	access := findCookie(cookies, AccessTokenCookie)
	refresh := findCookie(cookies, RefreshTokenCookie)
	if access == nil || refresh == nil {
		t.Fatalf("expected both cookies, got %v", cookies)
	}
	return access, refresh
}

func TestLogin_SetsCookies(t *testing.T) {
	h := newTestHandler(t)

	rec := doRequest(h, http.MethodPost, "/auth/login", `{"username":"testuser","password":"password123"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body loginResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if body.User.ID != userdomain.ID("1") || body.User.Username != "testuser" || body.User.Name != "Test User" {
		t.Errorf("unexpected user %+v", body.User)
	}

	cookies := rec.Result().Cookies()
	refresh := findCookie(cookies, RefreshTokenCookie)
	if refresh == nil || refresh.Path != "/auth" || !refresh.HttpOnly {
		t.Fatalf("unexpected refresh cookie %+v", refresh)
	}
	if refresh.MaxAge != int((7 * 24 * time.Hour).Seconds()) {
		t.Errorf("expected refresh max-age of 7 days, got %d", refresh.MaxAge)
	}
	access := findCookie(cookies, AccessTokenCookie)
	if access == nil || access.Path != "/" || access.MaxAge != 1800 {
		t.Fatalf("unexpected access cookie %+v", access)
	}
}

func TestLogin_Failures(t *testing.T) {
	h := newTestHandler(t)

	rec := doRequest(h, http.MethodPost, "/auth/login", `{"username":"testuser","password":"nope"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	var env commonhttp.ErrorEnvelope
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if env.Code != "INVALID_CREDENTIALS" {
		t.Errorf("expected INVALID_CREDENTIALS, got %s", env.Code)
	}

	if rec := doRequest(h, http.MethodPost, "/auth/login", `{`); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid json, got %d", rec.Code)
	}
	if rec := doRequest(h, http.MethodPost, "/auth/login", `{}`); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing fields, got %d", rec.Code)
	}
	if rec := doRequest(h, http.MethodGet, "/auth/login", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rec.Code)
	}
}

func TestRefresh_RotationAndReuse(t *testing.T) {
	h := newTestHandler(t)
	_, refresh := login(t, h)

	rec := doRequest(h, http.MethodPost, "/auth/refresh", "", refresh)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	rotated := findCookie(rec.Result().Cookies(), RefreshTokenCookie)
	if rotated == nil || rotated.Value == refresh.Value {
		t.Fatal("expected a new refresh cookie")
	}

	rec = doRequest(h, http.MethodPost, "/auth/refresh", "", refresh)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 on reuse, got %d", rec.Code)
	}
	cleared := findCookie(rec.Result().Cookies(), RefreshTokenCookie)
	if cleared == nil || cleared.MaxAge >= 0 {
		t.Errorf("expected refresh cookie to be cleared, got %+v", cleared)
	}

	rec = doRequest(h, http.MethodPost, "/auth/refresh", "", rotated)
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 for revoked descendant, got %d", rec.Code)
	}
}

func TestRefresh_MissingOrGarbageToken(t *testing.T) {
	h := newTestHandler(t)

	if rec := doRequest(h, http.MethodPost, "/auth/refresh", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without cookie, got %d", rec.Code)
	}

	garbage := &http.Cookie{Name: RefreshTokenCookie, Value: "garbage"}
	if rec := doRequest(h, http.MethodPost, "/auth/refresh", "", garbage); rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for garbage token, got %d", rec.Code)
	}
}

func TestProtectedAndLogout(t *testing.T) {
	h := newTestHandler(t)
	access, refresh := login(t, h)

	if rec := doRequest(h, http.MethodGet, "/protected", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	rec := doRequest(h, http.MethodGet, "/protected", "", access)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body protectedResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if body.UserID != "1" {
		t.Errorf("expected user 1, got %q", body.UserID)
	}

	rec = doRequest(h, http.MethodPost, "/auth/logout", "", refresh)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	if rec := doRequest(h, http.MethodPost, "/auth/refresh", "", refresh); rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 after logout, got %d", rec.Code)
	}

	if rec := doRequest(h, http.MethodPost, "/auth/logout", ""); rec.Code != http.StatusOK {
		t.Errorf("expected logout without cookie to succeed, got %d", rec.Code)
	}
}

func TestLogoutAll(t *testing.T) {
	h := newTestHandler(t)
	access, refresh := login(t, h)
	login(t, h)

	rec := doRequest(h, http.MethodPost, "/auth/logout-all", "", access)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body logoutAllResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if body.Revoked != 2 {
		t.Errorf("expected 2 revoked sessions, got %d", body.Revoked)
	}

	if rec := doRequest(h, http.MethodPost, "/auth/refresh", "", refresh); rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 for revoked token, got %d", rec.Code)
	}
}

func TestStatusAndHealth(t *testing.T) {
	h := newTestHandler(t)

	if rec := doRequest(h, http.MethodGet, "/api/status", ""); rec.Code != http.StatusOK {
		t.Errorf("expected 200 from status, got %d", rec.Code)
	}
	if rec := doRequest(h, http.MethodGet, "/health", ""); rec.Code != http.StatusOK {
		t.Errorf("expected 200 from health, got %d", rec.Code)
	}
}

func refreshTokenID(t *testing.T, refresh *http.Cookie) string {
	t.Helper()
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(refresh.Value, &claims); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	return claims.ID
}

func TestAdminRevokeSession(t *testing.T) {
	h := newTestHandler(t)
	_, refresh := login(t, h)
	body := `{"tokenId":"` + refreshTokenID(t, refresh) + `"}`

	rec := doRequest(h, http.MethodPost, "/admin/sessions/revoke", body)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without admin token, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/admin/sessions/revoke", strings.NewReader(`{}`))
	req.Header.Set(AdminTokenHeader, testAdminToken)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing token id, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/admin/sessions/revoke", strings.NewReader(body))
	req.Header.Set(AdminTokenHeader, testAdminToken)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(h, http.MethodPost, "/auth/refresh", "", refresh)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for revoked session, got %d", rec.Code)
	}
}

func TestAdminRoutesDisabledWithoutToken(t *testing.T) {
	h := newTestHandlerWithAdmin(t, "")

	req := httptest.NewRequest(http.MethodPost, "/admin/sessions/revoke", strings.NewReader(`{"tokenId":"x"}`))
	req.Header.Set(AdminTokenHeader, "")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
