package bootstrap

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/AlibekovAA/refresh-guard/internal/auth/service"
	"github.com/AlibekovAA/refresh-guard/internal/common/config"
	"github.com/AlibekovAA/refresh-guard/internal/common/logger"
)

func testConfig(backend string) config.AuthConfig {
	return config.AuthConfig{
		HTTP: config.HTTPConfig{Port: "5000", RequestTimeout: time.Second},
		JWT: config.JWTConfig{
			Algorithm:     config.AlgorithmHS256,
			AccessSecret:  "access-secret-0123456789abcdef0123456789",
			RefreshSecret: "refresh-secret-0123456789abcdef012345678",
			AccessTTL:     30 * time.Minute,
			RefreshTTL:    7 * 24 * time.Hour,
		},
		Cookie: config.CookieConfig{HTTPOnly: true, SameSite: "strict", RefreshPath: "/auth"},
		Store:  config.StoreConfig{Backend: backend, CleanupInterval: time.Hour},
		Redis:  config.RedisConfig{Addr: "localhost:6379", KeyPrefix: "rt"},
		Breaker: config.BreakerConfig{
			Threshold:    5,
			Timeout:      time.Second,
			ResetTimeout: time.Second,
		},
		Log: config.LogConfig{Level: "critical"},
	}
}

func loginAndRefresh(t *testing.T, app *AuthApp) {
	t.Helper()
	ctx := context.Background()

	result, err := app.Service.Login(ctx, service.LoginInput{Username: "testuser", Password: "password123"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if _, err := app.Service.Refresh(ctx, service.RefreshInput{RefreshToken: result.Pair.RefreshToken}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestNewAuthAppWithConfig_Memory(t *testing.T) {
	app, err := NewAuthAppWithConfig(context.Background(), testConfig(config.BackendMemory), logger.NewWithWriter(io.Discard, "test", "critical"))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	defer app.Close()

	loginAndRefresh(t, app)
}

func TestNewAuthAppWithConfig_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(config.BackendRedis)
	cfg.Redis.Addr = mr.Addr()

	app, err := NewAuthAppWithConfig(context.Background(), cfg, logger.NewWithWriter(io.Discard, "test", "critical"))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	defer app.Close()

	loginAndRefresh(t, app)
}

func TestNewAuthAppWithConfig_RedisUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(config.BackendRedis)
	cfg.Redis.Addr = mr.Addr()
	mr.Close()

	if _, err := NewAuthAppWithConfig(context.Background(), cfg, logger.NewWithWriter(io.Discard, "test", "critical")); err == nil {
		t.Fatal("expected error when redis is unreachable")
	}
}
