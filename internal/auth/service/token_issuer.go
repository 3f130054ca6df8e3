package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	authdomain "github.com/AlibekovAA/refresh-guard/internal/auth/domain"
	"github.com/AlibekovAA/refresh-guard/internal/common/clock"
	"github.com/AlibekovAA/refresh-guard/internal/common/config"
	commoncrypto "github.com/AlibekovAA/refresh-guard/internal/common/crypto"
	commonerrors "github.com/AlibekovAA/refresh-guard/internal/common/errors"
	"github.com/AlibekovAA/refresh-guard/internal/common/logger"
	userdomain "github.com/AlibekovAA/refresh-guard/internal/user/domain"
)

var errUnexpectedAlgorithm = errors.New("unexpected signing algorithm")

type VerifyOutcome int

const (
	VerifyValid VerifyOutcome = iota
	VerifyExpired
	VerifyInvalid
)

func (o VerifyOutcome) String() string {
	switch o {
	case VerifyValid:
		return "valid"
	case VerifyExpired:
		return "expired"
	default:
		return "invalid"
	}
}

// VerifyResult carries the decoded claims for Valid and Expired outcomes. Err is
// one of ErrExpiredToken, ErrMalformedToken or ErrInvalidToken when not Valid.
type VerifyResult struct {
	Outcome VerifyOutcome
	Claims  authdomain.TokenClaims
	Err     error
}

// ClaimsIgnoringExpiry returns the claims of a token that is authentic but possibly expired.
func (r VerifyResult) ClaimsIgnoringExpiry() (authdomain.TokenClaims, bool) {
	if r.Outcome == VerifyValid || r.Outcome == VerifyExpired {
		return r.Claims, true
	}
	return authdomain.TokenClaims{}, false
}

type tokenClaims struct {
	Type string `json:"typ"`
	jwt.RegisteredClaims
}

type TokenIssuerInterface interface {
	IssuePair(userID userdomain.ID) (authdomain.TokenPair, error)
	Verify(token string, class authdomain.TokenClass) VerifyResult
}

type TokenIssuer struct {
	method      jwt.SigningMethod
	signingKeys map[authdomain.TokenClass]any
	verifyKeys  map[authdomain.TokenClass]any
	idGenerator commoncrypto.IDGenerator
	clock       clock.Clock
	accessTTL   time.Duration
	refreshTTL  time.Duration
	issuer      string
	leeway      time.Duration
	log         *logger.Logger
}

func NewTokenIssuer(
	cfg config.JWTConfig,
	idGenerator commoncrypto.IDGenerator,
	clock clock.Clock,
	log *logger.Logger,
) (*TokenIssuer, error) {
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, commonerrors.ErrInvalidConfig.WithCause(errors.New("token lifetimes must be positive"))
	}

	ti := &TokenIssuer{
		idGenerator: idGenerator,
		clock:       clock,
		accessTTL:   cfg.AccessTTL,
		refreshTTL:  cfg.RefreshTTL,
		issuer:      cfg.Issuer,
		leeway:      cfg.Leeway,
		log:         log,
	}

	if cfg.Algorithm == config.AlgorithmRS256 && cfg.PrivateKeyPEM != "" {
		if err := ti.loadRSAKeys(cfg); err != nil {
			return nil, err
		}
		return ti, nil
	}

	if cfg.Algorithm == config.AlgorithmRS256 && log != nil {
		log.Warn("RS256 selected without a private key, falling back to HS256 with shared secrets")
	}

	if cfg.AccessSecret == "" || cfg.RefreshSecret == "" {
		return nil, commonerrors.ErrInvalidJWTSecret
	}

	access := []byte(cfg.AccessSecret)
	refresh := []byte(cfg.RefreshSecret)
	ti.method = jwt.SigningMethodHS256
	ti.signingKeys = map[authdomain.TokenClass]any{
		authdomain.AccessToken:  access,
		authdomain.RefreshToken: refresh,
	}
	ti.verifyKeys = ti.signingKeys

	return ti, nil
}

func (ti *TokenIssuer) loadRSAKeys(cfg config.JWTConfig) error {
	privateKey, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(cfg.PrivateKeyPEM))
	if err != nil {
		return commonerrors.ErrInvalidConfig.WithCause(fmt.Errorf("parse private key: %w", err))
	}

	publicKey := &privateKey.PublicKey
	if cfg.PublicKeyPEM != "" {
		parsed, err := jwt.ParseRSAPublicKeyFromPEM([]byte(cfg.PublicKeyPEM))
		if err != nil {
			return commonerrors.ErrInvalidConfig.WithCause(fmt.Errorf("parse public key: %w", err))
		}
		if !parsed.Equal(publicKey) {
			return commonerrors.ErrInvalidConfig.WithCause(errors.New("public key does not match private key"))
		}
		publicKey = parsed
	}

	ti.method = jwt.SigningMethodRS256
	ti.signingKeys = map[authdomain.TokenClass]any{
		authdomain.AccessToken:  privateKey,
		authdomain.RefreshToken: privateKey,
	}
	ti.verifyKeys = map[authdomain.TokenClass]any{
		authdomain.AccessToken:  publicKey,
		authdomain.RefreshToken: publicKey,
	}
	return nil
}

// Algorithm returns the effective signing algorithm.
func (ti *TokenIssuer) Algorithm() string {
	return ti.method.Alg()
}

func (ti *TokenIssuer) AccessTTL() time.Duration {
	return ti.accessTTL
}

func (ti *TokenIssuer) RefreshTTL() time.Duration {
	return ti.refreshTTL
}

func (ti *TokenIssuer) IssuePair(userID userdomain.ID) (authdomain.TokenPair, error) {
	if userID == "" {
		return authdomain.TokenPair{}, errors.New("token subject is required")
	}

	now := ti.clock.Now()

	access, accessID, accessExp, err := ti.sign(userID, authdomain.AccessToken, now, ti.accessTTL)
	if err != nil {
		return authdomain.TokenPair{}, err
	}

	refresh, refreshID, refreshExp, err := ti.sign(userID, authdomain.RefreshToken, now, ti.refreshTTL)
	if err != nil {
		return authdomain.TokenPair{}, err
	}

	incrementTokenPairIssued()

	return authdomain.TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessTokenID:    accessID,
		RefreshTokenID:   refreshID,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

func (ti *TokenIssuer) sign(
	userID userdomain.ID,
	class authdomain.TokenClass,
	now time.Time,
	ttl time.Duration,
) (string, string, time.Time, error) {
	id, err := ti.idGenerator.NewID()
	if err != nil {
		return "", "", time.Time{}, fmt.Errorf("generate token id: %w", err)
	}

	issuedAt := time.Unix(now.Unix(), 0).UTC()
	expiresAt := time.Unix(now.Add(ttl).Unix(), 0).UTC()

	claims := tokenClaims{
		Type: string(class),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(userID),
			ID:        id,
			Issuer:    ti.issuer,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(ti.method, claims).SignedString(ti.signingKeys[class])
	if err != nil {
		return "", "", time.Time{}, fmt.Errorf("sign %s token: %w", class, err)
	}

	return signed, id, expiresAt, nil
}

func (ti *TokenIssuer) Verify(token string, class authdomain.TokenClass) VerifyResult {
	result := ti.verify(token, class)
	observeVerification(class, result.Outcome)
	return result
}

func (ti *TokenIssuer) verify(token string, class authdomain.TokenClass) VerifyResult {
	if !class.Valid() {
		return VerifyResult{Outcome: VerifyInvalid, Err: ErrInvalidToken}
	}
	if token == "" {
		return VerifyResult{Outcome: VerifyInvalid, Err: ErrMalformedToken}
	}

	claims := &tokenClaims{}
	_, err := jwt.ParseWithClaims(token, claims, ti.keyFunc(class), ti.parserOptions()...)

	switch {
	case err == nil:
		decoded, claimErr := decodeClaims(claims, class)
		if claimErr != nil {
			return VerifyResult{Outcome: VerifyInvalid, Err: ErrInvalidToken.WithCause(claimErr)}
		}
		return VerifyResult{Outcome: VerifyValid, Claims: decoded}
	case errors.Is(err, errUnexpectedAlgorithm), errors.Is(err, jwt.ErrTokenUnverifiable):
		return VerifyResult{Outcome: VerifyInvalid, Err: ErrInvalidToken.WithCause(err)}
	case errors.Is(err, jwt.ErrTokenMalformed), errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return VerifyResult{Outcome: VerifyInvalid, Err: ErrMalformedToken.WithCause(err)}
	case errors.Is(err, jwt.ErrTokenExpired) && onlyExpired(err):
		decoded, claimErr := decodeClaims(claims, class)
		if claimErr != nil {
			return VerifyResult{Outcome: VerifyInvalid, Err: ErrInvalidToken.WithCause(claimErr)}
		}
		return VerifyResult{Outcome: VerifyExpired, Claims: decoded, Err: ErrExpiredToken.WithCause(err)}
	default:
		return VerifyResult{Outcome: VerifyInvalid, Err: ErrInvalidToken.WithCause(err)}
	}
}

func (ti *TokenIssuer) keyFunc(class authdomain.TokenClass) jwt.Keyfunc {
	return func(t *jwt.Token) (any, error) {
		if t.Method == nil || t.Method.Alg() != ti.method.Alg() {
			return nil, errUnexpectedAlgorithm
		}
		return ti.verifyKeys[class], nil
	}
}

func (ti *TokenIssuer) parserOptions() []jwt.ParserOption {
	opts := []jwt.ParserOption{
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(ti.leeway),
		jwt.WithTimeFunc(ti.clock.Now),
	}
	if ti.issuer != "" {
		opts = append(opts, jwt.WithIssuer(ti.issuer))
	}
	return opts
}

// onlyExpired reports whether expiry is the sole claim violation.
func onlyExpired(err error) bool {
	return !errors.Is(err, jwt.ErrTokenNotValidYet) &&
		!errors.Is(err, jwt.ErrTokenUsedBeforeIssued) &&
		!errors.Is(err, jwt.ErrTokenInvalidIssuer)
}

func decodeClaims(claims *tokenClaims, class authdomain.TokenClass) (authdomain.TokenClaims, error) {
	if claims.Type != string(class) {
		return authdomain.TokenClaims{}, fmt.Errorf("expected %s token, got %q", class, claims.Type)
	}
	if claims.Subject == "" {
		return authdomain.TokenClaims{}, errors.New("missing sub claim")
	}
	if _, err := uuid.Parse(claims.ID); err != nil {
		return authdomain.TokenClaims{}, fmt.Errorf("invalid jti claim: %w", err)
	}
	if claims.IssuedAt == nil || claims.ExpiresAt == nil {
		return authdomain.TokenClaims{}, errors.New("missing iat or exp claim")
	}

	return authdomain.TokenClaims{
		Subject:   userdomain.ID(claims.Subject),
		TokenID:   claims.ID,
		Class:     class,
		IssuedAt:  claims.IssuedAt.Time.UTC(),
		ExpiresAt: claims.ExpiresAt.Time.UTC(),
	}, nil
}
