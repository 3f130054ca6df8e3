package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"

	authrepo "github.com/AlibekovAA/refresh-guard/internal/auth/repository"
	"github.com/AlibekovAA/refresh-guard/internal/auth/repository/migrations"
	"github.com/AlibekovAA/refresh-guard/internal/auth/service"
	"github.com/AlibekovAA/refresh-guard/internal/common/clock"
	"github.com/AlibekovAA/refresh-guard/internal/common/config"
	"github.com/AlibekovAA/refresh-guard/internal/common/constants"
	commoncrypto "github.com/AlibekovAA/refresh-guard/internal/common/crypto"
	"github.com/AlibekovAA/refresh-guard/internal/common/db"
	"github.com/AlibekovAA/refresh-guard/internal/common/logger"
	"github.com/AlibekovAA/refresh-guard/internal/common/resilience"
	userrepo "github.com/AlibekovAA/refresh-guard/internal/user/repository"
	userservice "github.com/AlibekovAA/refresh-guard/internal/user/service"
)

type AuthApp struct {
	Log     *logger.Logger
	Config  config.AuthConfig
	Store   authrepo.RefreshTokenStore
	Issuer  *service.TokenIssuer
	Service *service.AuthService

	closers []func()
}

// Close releases store connections in reverse order of acquisition.
func (a *AuthApp) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func NewAuthApp(ctx context.Context) (*AuthApp, error) {
	log, err := initializeLogger("auth")
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	cfg, err := config.LoadAuthConfig()
	if err != nil {
		log.Errorf("failed to load config: %v", err)
		return nil, err
	}
	log.SetLevel(cfg.Log.Level)

	return NewAuthAppWithConfig(ctx, cfg, log)
}

func NewAuthAppWithConfig(ctx context.Context, cfg config.AuthConfig, log *logger.Logger) (*AuthApp, error) {
	app := &AuthApp{Log: log, Config: cfg}
	clk := clock.NewRealClock()

	store, err := app.initializeStore(ctx, clk)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Store = store

	issuer, err := service.NewTokenIssuer(cfg.JWT, commoncrypto.NewUUIDGenerator(), clk, log)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize token issuer: %w", err)
	}
	app.Issuer = issuer
	log.Infof("token issuer ready: algorithm=%s access_ttl=%s refresh_ttl=%s", issuer.Algorithm(), issuer.AccessTTL(), issuer.RefreshTTL())

	directory, err := userservice.NewDirectory(userrepo.NewMemoryRepository(clk), commoncrypto.NewBcryptHasher(), log)
	if err != nil {
		app.Close()
		return nil, err
	}
	if err := directory.Seed(ctx, userservice.DefaultSeedUsers); err != nil {
		app.Close()
		return nil, err
	}

	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Threshold:  int32(cfg.Breaker.Threshold),
		Timeout:    cfg.Breaker.Timeout,
		ResetAfter: cfg.Breaker.ResetTimeout,
		Name:       "refresh_token_store",
		IsFailure: func(err error) bool {
			return !authrepo.IsStoreOutcome(err) && !errors.Is(err, context.Canceled)
		},
		Logger: log,
	})

	rotator := service.NewRefreshTokenRotator(store, breaker, log)
	app.Service = service.NewAuthService(directory, issuer, rotator, log)

	return app, nil
}

func (a *AuthApp) initializeStore(ctx context.Context, clk clock.Clock) (authrepo.RefreshTokenStore, error) {
	switch a.Config.Store.Backend {
	case config.BackendPostgres:
		if err := db.Migrate(ctx, a.Config.Store.DatabaseURL, migrations.Migrations, "."); err != nil {
			return nil, err
		}
		pool, err := db.NewPool(ctx, a.Log, a.Config.Store.DatabaseURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pool.Close)

		metricsCtx, cancel := context.WithCancel(context.Background())
		a.closers = append(a.closers, cancel)
		db.StartPoolMetrics(metricsCtx, pool, constants.DBPoolMetricsInterval)

		a.Log.Info("refresh token store: postgres")
		return authrepo.NewPgRefreshTokenRepository(pool, clk, a.Log), nil

	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     a.Config.Redis.Addr,
			Password: a.Config.Redis.Password,
			DB:       a.Config.Redis.DB,
		})
		a.closers = append(a.closers, func() { _ = client.Close() })

		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", a.Config.Redis.Addr, err)
		}

		a.Log.Infof("refresh token store: redis at %s", a.Config.Redis.Addr)
		return authrepo.NewRedisRefreshTokenStore(client, a.Config.Redis.KeyPrefix, clk), nil

	default:
		a.Log.Warn("refresh token store: in-memory, sessions are lost on restart")
		return authrepo.NewMemoryRefreshTokenStore(clk), nil
	}
}

func initializeLogger(serviceName string) (*logger.Logger, error) {
	return logger.New(os.Getenv("LOG_DIR"), serviceName, os.Getenv("LOG_LEVEL"))
}
