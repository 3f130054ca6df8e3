package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/AlibekovAA/refresh-guard/internal/common/constants"
	commonerrors "github.com/AlibekovAA/refresh-guard/internal/common/errors"
)

const (
	AlgorithmHS256 = "HS256"
	AlgorithmRS256 = "RS256"

	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

type AuthConfig struct {
	HTTP    HTTPConfig
	JWT     JWTConfig
	Cookie  CookieConfig
	Store   StoreConfig
	Redis   RedisConfig
	Breaker BreakerConfig
	Log     LogConfig
}

type HTTPConfig struct {
	Port           string        `validate:"required,numeric"`
	RequestTimeout time.Duration `validate:"gt=0"`
	AdminToken     string        `validate:"omitempty,min=32"`
}

type JWTConfig struct {
	Algorithm     string `validate:"oneof=HS256 RS256"`
	AccessSecret  string
	RefreshSecret string
	PrivateKeyPEM string
	PublicKeyPEM  string
	AccessTTL     time.Duration `validate:"gt=0"`
	RefreshTTL    time.Duration `validate:"gt=0,gtfield=AccessTTL"`
	Issuer        string
	Leeway        time.Duration `validate:"gte=0"`
}

// UsesSharedSecret reports whether tokens end up HMAC-signed, which is also the
// case for RS256 when no private key was supplied.
func (c JWTConfig) UsesSharedSecret() bool {
	return c.Algorithm == AlgorithmHS256 || c.PrivateKeyPEM == ""
}

type CookieConfig struct {
	HTTPOnly    bool
	Secure      bool
	SameSite    string `validate:"oneof=strict lax none"`
	Domain      string
	RefreshPath string `validate:"required,startswith=/"`
}

type StoreConfig struct {
	Backend         string        `validate:"oneof=memory postgres redis"`
	DatabaseURL     string        `validate:"required_if=Backend postgres"`
	CleanupInterval time.Duration `validate:"gt=0"`
}

type RedisConfig struct {
	Addr      string `validate:"required,hostname_port"`
	Password  string
	DB        int    `validate:"gte=0"`
	KeyPrefix string `validate:"required"`
}

type BreakerConfig struct {
	Threshold    int           `validate:"gt=0"`
	Timeout      time.Duration `validate:"gt=0"`
	ResetTimeout time.Duration `validate:"gt=0"`
}

type LogConfig struct {
	Dir   string
	Level string `validate:"omitempty,oneof=debug info warn warning error critical DEBUG INFO WARN WARNING ERROR CRITICAL"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func LoadAuthConfig() (AuthConfig, error) {
	privateKey, err := getPEMEnv("JWT_PRIVATE_KEY")
	if err != nil {
		return AuthConfig{}, err
	}
	publicKey, err := getPEMEnv("JWT_PUBLIC_KEY")
	if err != nil {
		return AuthConfig{}, err
	}

	cfg := AuthConfig{
		HTTP: HTTPConfig{
			Port:           getEnv("AUTH_HTTP_PORT", constants.DefaultAuthHTTPPort),
			RequestTimeout: getDurationEnv("AUTH_REQUEST_TIMEOUT", constants.DefaultAuthRequestTimeout),
			AdminToken:     os.Getenv("AUTH_ADMIN_TOKEN"),
		},
		JWT: JWTConfig{
			Algorithm:     strings.ToUpper(getEnv("JWT_ALGORITHM", AlgorithmHS256)),
			AccessSecret:  os.Getenv("JWT_ACCESS_SECRET"),
			RefreshSecret: os.Getenv("JWT_REFRESH_SECRET"),
			PrivateKeyPEM: privateKey,
			PublicKeyPEM:  publicKey,
			AccessTTL:     getTTLEnv("JWT_ACCESS_EXPIRATION", constants.DefaultAccessTokenTTL),
			RefreshTTL:    getTTLEnv("JWT_REFRESH_EXPIRATION", constants.DefaultRefreshTokenTTL),
			Issuer:        os.Getenv("JWT_ISSUER"),
			Leeway:        getDurationEnv("JWT_LEEWAY", 0),
		},
		Cookie: CookieConfig{
			HTTPOnly:    getBoolEnv("COOKIE_HTTP_ONLY", true),
			Secure:      getBoolEnv("COOKIE_SECURE", os.Getenv("APP_ENV") == "production"),
			SameSite:    strings.ToLower(getEnv("COOKIE_SAME_SITE", "strict")),
			Domain:      os.Getenv("COOKIE_DOMAIN"),
			RefreshPath: getEnv("COOKIE_REFRESH_PATH", constants.DefaultRefreshCookiePath),
		},
		Store: StoreConfig{
			Backend:         strings.ToLower(getEnv("STORE_BACKEND", BackendMemory)),
			DatabaseURL:     os.Getenv("DATABASE_URL"),
			CleanupInterval: getDurationEnv("CLEANUP_INTERVAL", constants.DefaultCleanupInterval),
		},
		Redis: RedisConfig{
			Addr:      getEnv("REDIS_ADDR", constants.DefaultRedisAddr),
			Password:  os.Getenv("REDIS_PASSWORD"),
			DB:        getIntEnv("REDIS_DB", 0),
			KeyPrefix: getEnv("REDIS_KEY_PREFIX", constants.DefaultRedisKeyPrefix),
		},
		Breaker: BreakerConfig{
			Threshold:    getIntEnv("CIRCUIT_BREAKER_THRESHOLD", constants.DefaultCircuitBreakerThreshold),
			Timeout:      getDurationEnv("CIRCUIT_BREAKER_TIMEOUT", constants.DefaultCircuitBreakerTimeout),
			ResetTimeout: getDurationEnv("CIRCUIT_BREAKER_RESET", constants.DefaultCircuitBreakerReset),
		},
		Log: LogConfig{
			Dir:   os.Getenv("LOG_DIR"),
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return AuthConfig{}, err
	}
	return cfg, nil
}

func (c AuthConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %s", commonerrors.ErrInvalidConfig, describeValidation(err))
	}

	if c.JWT.UsesSharedSecret() {
		if err := validateJWTSecret("JWT_ACCESS_SECRET", c.JWT.AccessSecret); err != nil {
			return err
		}
		if err := validateJWTSecret("JWT_REFRESH_SECRET", c.JWT.RefreshSecret); err != nil {
			return err
		}
		if c.JWT.AccessSecret == c.JWT.RefreshSecret {
			return fmt.Errorf("%w: access and refresh secrets must differ", commonerrors.ErrInvalidConfig)
		}
	}

	if c.Cookie.SameSite == "none" && !c.Cookie.Secure {
		return fmt.Errorf("%w: SameSite=None cookies must be Secure", commonerrors.ErrInvalidConfig)
	}

	return nil
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}

	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %q", strings.TrimPrefix(fe.Namespace(), "AuthConfig."), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}

func validateJWTSecret(key, secret string) error {
	if secret == "" {
		return fmt.Errorf("%w: %s", commonerrors.ErrMissingRequiredEnv, key)
	}
	if len(secret) < constants.JWTSecretMinLength {
		return fmt.Errorf("%w: %s got %d bytes", commonerrors.ErrInvalidJWTSecret, key, len(secret))
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

// getPEMEnv reads KEY directly or the file named by KEY_FILE.
func getPEMEnv(key string) (string, error) {
	if v := os.Getenv(key); v != "" {
		return strings.ReplaceAll(v, `\n`, "\n"), nil
	}
	path := os.Getenv(key + "_FILE")
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("%w: read %s_FILE: %v", commonerrors.ErrInvalidConfig, key, err)
	}
	return string(data), nil
}

func getDurationEnv(key string, fallback time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

// getTTLEnv accepts whole seconds ("1800") or a Go duration ("30m").
func getTTLEnv(key string, fallback time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return getDurationEnv(key, fallback)
}

func getIntEnv(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func getBoolEnv(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
