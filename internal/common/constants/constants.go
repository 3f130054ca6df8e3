package constants

import "time"

const (
	UsernameMinLength  = 3
	UsernameMaxLength  = 32
	PasswordMaxLength  = 72
	JWTSecretMinLength = 32

	DefaultMaxRequestSize = 1 << 20
	BcryptCost            = 12

	DBPoolMaxOpenConns    = 50
	DBPoolMinOpenConns    = 10
	DBPoolConnMaxLifetime = 5 * time.Minute
	DBPoolConnMaxIdleTime = 10 * time.Minute
	DBPoolHealthCheck     = 1 * time.Minute
	DBPoolConnectTimeout  = 15 * time.Second
	DBPoolMaxAttempts     = 10
	DBPoolRetryDelay      = 1 * time.Second
	DBPoolMetricsInterval = 30 * time.Second
	DBQueryTimeout        = 30 * time.Second
	DBRetryAttempts       = 3
	DBRetryBaseDelay      = 100 * time.Millisecond

	ServerReadHeaderTimeout = 10 * time.Second
	ServerReadTimeout       = 30 * time.Second
	ServerWriteTimeout      = 30 * time.Second
	ServerIdleTimeout       = 120 * time.Second

	ShutdownTimeout = 30 * time.Second
	DrainTimeout    = 10 * time.Second

	DefaultAuthHTTPPort = "5000"

	DefaultCircuitBreakerThreshold = 500
	DefaultCircuitBreakerTimeout   = 15 * time.Second
	DefaultCircuitBreakerReset     = 10 * time.Second

	DefaultAuthRequestTimeout = 5 * time.Second
	DefaultAccessTokenTTL     = 30 * time.Minute
	DefaultRefreshTokenTTL    = 7 * 24 * time.Hour
	DefaultCleanupInterval    = 1 * time.Hour

	DefaultRefreshCookiePath = "/auth"
	DefaultRedisAddr         = "localhost:6379"
	DefaultRedisKeyPrefix    = "rt"

	MemoryStoreShards = 64

	LoginRateLimitPerMinute   = 10
	RefreshRateLimitPerMinute = 30
	DefaultRateLimitPerMinute = 120
	RateLimitBurstDivisor     = 2
	RateLimitCleanupInterval  = 10 * time.Minute

	LoggerMaxSize    = 100
	LoggerMaxBackups = 3
	LoggerMaxAge     = 28
)

type TraceIDKeyType string

const TraceIDKey TraceIDKeyType = "trace_id"
