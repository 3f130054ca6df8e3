package service

import (
	"context"
	"errors"

	authdomain "github.com/AlibekovAA/refresh-guard/internal/auth/domain"
	authrepo "github.com/AlibekovAA/refresh-guard/internal/auth/repository"
	commonerrors "github.com/AlibekovAA/refresh-guard/internal/common/errors"
	"github.com/AlibekovAA/refresh-guard/internal/common/logger"
	"github.com/AlibekovAA/refresh-guard/internal/common/resilience"
	userdomain "github.com/AlibekovAA/refresh-guard/internal/user/domain"
)

type SessionMeta struct {
	UserAgent string
	SourceIP  string
}

// RefreshTokenRotator owns every refresh-token store mutation made by the service.
// Only this type turns a replayed token into a reuse event with cascade revocation.
type RefreshTokenRotator struct {
	store        authrepo.RefreshTokenStore
	storeBreaker resilience.CircuitBreakerInterface
	log          *logger.Logger
}

func NewRefreshTokenRotator(
	store authrepo.RefreshTokenStore,
	storeBreaker resilience.CircuitBreakerInterface,
	log *logger.Logger,
) *RefreshTokenRotator {
	return &RefreshTokenRotator{
		store:        store,
		storeBreaker: storeBreaker,
		log:          log,
	}
}

func createParams(userID userdomain.ID, pair authdomain.TokenPair, meta SessionMeta) authrepo.CreateParams {
	return authrepo.CreateParams{
		TokenID:   pair.RefreshTokenID,
		UserID:    userID,
		ExpiresAt: pair.RefreshExpiresAt,
		UserAgent: meta.UserAgent,
		SourceIP:  meta.SourceIP,
	}
}

func (r *RefreshTokenRotator) Persist(ctx context.Context, userID userdomain.ID, pair authdomain.TokenPair, meta SessionMeta) error {
	err := r.storeBreaker.Call(ctx, func(ctx context.Context) error {
		_, err := r.store.Create(ctx, createParams(userID, pair, meta))
		return err
	})
	if err == nil {
		return nil
	}

	fields := logger.Fields{
		"user_id":  string(userID),
		"token_id": pair.RefreshTokenID,
	}
	switch {
	case errors.Is(err, authrepo.ErrDuplicateTokenID):
		fields["action"] = "create_refresh_token_duplicate_id"
		r.log.WithFields(ctx, fields).Critical("refresh token id collision, random source may be broken")
	case errors.Is(err, commonerrors.ErrCircuitOpen):
		fields["action"] = "create_refresh_token_circuit_open"
		r.log.WithFields(ctx, fields).Error("failed to create refresh token: store circuit breaker is open")
	default:
		fields["action"] = "create_refresh_token_failed"
		r.log.WithFields(ctx, fields).Errorf("failed to create refresh token: %v", err)
	}
	return storeFailure("REFRESH_TOKEN_CREATE_FAILED", "failed to store refresh token", err)
}

// Rotate retires the presented token in favour of pair.RefreshTokenID.
func (r *RefreshTokenRotator) Rotate(
	ctx context.Context,
	presented authdomain.TokenClaims,
	pair authdomain.TokenPair,
	meta SessionMeta,
) error {
	var previous authdomain.RefreshTokenRecord
	err := r.storeBreaker.Call(ctx, func(ctx context.Context) error {
		var err error
		previous, err = r.store.Rotate(ctx, presented.TokenID, createParams(presented.Subject, pair, meta))
		return err
	})

	fields := logger.Fields{
		"user_id":  string(presented.Subject),
		"token_id": presented.TokenID,
	}

	switch {
	case err == nil:
		incrementRefreshTokensRotated()
		fields["action"] = "refresh_token_rotated"
		fields["new_token_id"] = pair.RefreshTokenID
		r.log.WithFields(ctx, fields).Debug("refresh token rotated")
		return nil
	case errors.Is(err, authrepo.ErrRefreshTokenRevoked), errors.Is(err, authrepo.ErrRefreshTokenConsumed):
		return r.handleReuse(ctx, previous.UserID, presented, err)
	case errors.Is(err, authrepo.ErrRefreshTokenNotFound), errors.Is(err, authrepo.ErrRefreshTokenOwnerMismatch):
		fields["action"] = "refresh_token_not_recognized"
		r.log.WithFields(ctx, fields).Warnf("refresh rejected: %v", err)
		return ErrTokenNotRecognized.WithCause(err)
	case errors.Is(err, authrepo.ErrRefreshTokenExpired):
		incrementRefreshTokensExpired()
		fields["action"] = "refresh_token_record_expired"
		r.log.WithFields(ctx, fields).Info("refresh rejected: stored token expired")
		return ErrExpiredToken.WithCause(err)
	case errors.Is(err, authrepo.ErrDuplicateTokenID):
		fields["action"] = "rotate_refresh_token_duplicate_id"
		fields["new_token_id"] = pair.RefreshTokenID
		r.log.WithFields(ctx, fields).Critical("refresh token id collision during rotation, random source may be broken")
		return ErrDuplicateTokenID.WithCause(err)
	case errors.Is(err, commonerrors.ErrCircuitOpen):
		fields["action"] = "rotate_refresh_token_circuit_open"
		r.log.WithFields(ctx, fields).Error("refresh failed: store circuit breaker is open")
		return handleCircuitBreakerError(err)
	default:
		fields["action"] = "rotate_refresh_token_failed"
		r.log.WithFields(ctx, fields).Errorf("refresh failed: %v", err)
		return newInternalError("REFRESH_ROTATE_FAILED", "failed to rotate refresh token", err)
	}
}

func (r *RefreshTokenRotator) handleReuse(
	ctx context.Context,
	owner userdomain.ID,
	presented authdomain.TokenClaims,
	cause error,
) error {
	if owner == "" {
		owner = presented.Subject
	}
	incrementReuseDetected()

	revoked, err := r.RevokeAll(ctx, owner)
	fields := logger.Fields{
		"user_id":  string(owner),
		"token_id": presented.TokenID,
		"action":   "refresh_token_reuse_detected",
		"reason":   cause.Error(),
	}
	if err != nil {
		r.log.WithFields(ctx, fields).Criticalf("refresh token reuse detected, cascade revocation failed: %v", err)
		return ErrTokenReuseDetected.WithCause(errors.Join(cause, err))
	}

	fields["revoked"] = revoked
	r.log.WithFields(ctx, fields).Warn("refresh token reuse detected, all sessions revoked")
	return ErrTokenReuseDetected.WithCause(cause)
}

func (r *RefreshTokenRotator) RevokeAll(ctx context.Context, userID userdomain.ID) (int, error) {
	var revoked int
	err := r.storeBreaker.Call(ctx, func(ctx context.Context) error {
		var err error
		revoked, err = r.store.RevokeAllForUser(ctx, userID)
		return err
	})
	if err != nil {
		return 0, storeFailure("REVOKE_ALL_FAILED", "failed to revoke sessions", err)
	}
	incrementRefreshTokensRevoked(revoked)
	return revoked, nil
}

func (r *RefreshTokenRotator) Revoke(ctx context.Context, tokenID string) error {
	err := r.storeBreaker.Call(ctx, func(ctx context.Context) error {
		return r.store.Revoke(ctx, tokenID)
	})
	if err != nil {
		return storeFailure("REVOKE_FAILED", "failed to revoke session", err)
	}
	incrementRefreshTokensRevoked(1)
	return nil
}

func (r *RefreshTokenRotator) Delete(ctx context.Context, tokenID string) (bool, error) {
	var deleted bool
	err := r.storeBreaker.Call(ctx, func(ctx context.Context) error {
		var err error
		deleted, err = r.store.Delete(ctx, tokenID)
		return err
	})
	if err != nil {
		return false, storeFailure("LOGOUT_DELETE_FAILED", "failed to delete refresh token", err)
	}
	return deleted, nil
}
