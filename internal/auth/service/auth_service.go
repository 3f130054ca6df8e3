package service

import (
	"context"
	"errors"

	authdomain "github.com/AlibekovAA/refresh-guard/internal/auth/domain"
	"github.com/AlibekovAA/refresh-guard/internal/common/jwtverify"
	"github.com/AlibekovAA/refresh-guard/internal/common/logger"
	userdomain "github.com/AlibekovAA/refresh-guard/internal/user/domain"
	userservice "github.com/AlibekovAA/refresh-guard/internal/user/service"
)

type CredentialVerifier interface {
	VerifyCredentials(ctx context.Context, username, password string) (userdomain.User, error)
}

type AuthService struct {
	credentials CredentialVerifier
	issuer      TokenIssuerInterface
	rotator     *RefreshTokenRotator
	validator   CredentialValidator
	log         *logger.Logger
}

func NewAuthService(
	credentials CredentialVerifier,
	issuer TokenIssuerInterface,
	rotator *RefreshTokenRotator,
	log *logger.Logger,
) *AuthService {
	return &AuthService{
		credentials: credentials,
		issuer:      issuer,
		rotator:     rotator,
		validator:   NewCredentialValidator(),
		log:         log,
	}
}

type LoginInput struct {
	Username  string
	Password  string
	UserAgent string
	SourceIP  string
}

type LoginResult struct {
	Pair authdomain.TokenPair
	User userdomain.Summary
}

type RefreshInput struct {
	RefreshToken string
	UserAgent    string
	SourceIP     string
}

func (s *AuthService) Login(ctx context.Context, input LoginInput) (LoginResult, error) {
	if err := s.validator.Validate(input.Username, input.Password); err != nil {
		incrementLoginAttempt("invalid_input")
		s.log.WithFields(ctx, logger.Fields{
			"username": input.Username,
			"action":   "login_validation_failed",
		}).Warnf("login validation failed: %v", err)
		return LoginResult{}, err
	}

	user, err := s.credentials.VerifyCredentials(ctx, input.Username, input.Password)
	if err != nil {
		if errors.Is(err, userservice.ErrInvalidCredentials) {
			incrementLoginAttempt("invalid_credentials")
			s.log.WithFields(ctx, logger.Fields{
				"username": input.Username,
				"action":   "login_invalid_credentials",
			}).Warn("login failed: invalid credentials")
			return LoginResult{}, ErrInvalidCredentials
		}
		incrementLoginAttempt("error")
		s.log.WithFields(ctx, logger.Fields{
			"username": input.Username,
			"action":   "login_credentials_check_failed",
		}).Errorf("login failed: %v", err)
		return LoginResult{}, newInternalError("LOGIN_FAILED", "failed to verify credentials", err)
	}

	pair, err := s.issuer.IssuePair(user.ID)
	if err != nil {
		incrementLoginAttempt("error")
		s.log.WithFields(ctx, logger.Fields{
			"user_id": string(user.ID),
			"action":  "login_issue_tokens_failed",
		}).Errorf("login failed: token issue error: %v", err)
		return LoginResult{}, newInternalError("TOKEN_ISSUE_FAILED", "failed to issue tokens", err)
	}

	meta := SessionMeta{UserAgent: input.UserAgent, SourceIP: input.SourceIP}
	if err := s.rotator.Persist(ctx, user.ID, pair, meta); err != nil {
		incrementLoginAttempt("error")
		return LoginResult{}, err
	}

	incrementLoginAttempt("success")
	s.log.WithFields(ctx, logger.Fields{
		"user_id":  string(user.ID),
		"token_id": pair.RefreshTokenID,
		"action":   "login_success",
	}).Info("login success")

	return LoginResult{Pair: pair, User: user.Summary()}, nil
}

func (s *AuthService) Refresh(ctx context.Context, input RefreshInput) (authdomain.TokenPair, error) {
	result := s.issuer.Verify(input.RefreshToken, authdomain.RefreshToken)
	if result.Outcome != VerifyValid {
		s.log.WithFields(ctx, logger.Fields{
			"outcome": result.Outcome.String(),
			"action":  "refresh_token_verify_failed",
		}).Warnf("refresh rejected: %v", result.Err)
		return authdomain.TokenPair{}, result.Err
	}

	claims := result.Claims
	pair, err := s.issuer.IssuePair(claims.Subject)
	if err != nil {
		s.log.WithFields(ctx, logger.Fields{
			"user_id": string(claims.Subject),
			"action":  "refresh_issue_tokens_failed",
		}).Errorf("refresh failed: token issue error: %v", err)
		return authdomain.TokenPair{}, newInternalError("TOKEN_ISSUE_FAILED", "failed to issue tokens", err)
	}

	meta := SessionMeta{UserAgent: input.UserAgent, SourceIP: input.SourceIP}
	if err := s.rotator.Rotate(ctx, claims, pair, meta); err != nil {
		return authdomain.TokenPair{}, err
	}

	s.log.WithFields(ctx, logger.Fields{
		"user_id":  string(claims.Subject),
		"token_id": pair.RefreshTokenID,
		"action":   "refresh_success",
	}).Info("refresh success")

	return pair, nil
}

// Logout deletes the presented refresh token if it can be identified. Expired
// tokens are accepted; every failure is logged and swallowed.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) {
	if refreshToken == "" {
		incrementLogout("no_token")
		return
	}

	result := s.issuer.Verify(refreshToken, authdomain.RefreshToken)
	claims, ok := result.ClaimsIgnoringExpiry()
	if !ok {
		incrementLogout("invalid_token")
		s.log.WithFields(ctx, logger.Fields{
			"action": "logout_token_invalid",
		}).Warnf("logout: token not usable: %v", result.Err)
		return
	}

	deleted, err := s.rotator.Delete(ctx, claims.TokenID)
	fields := logger.Fields{
		"user_id":  string(claims.Subject),
		"token_id": claims.TokenID,
	}
	switch {
	case err != nil:
		incrementLogout("error")
		fields["action"] = "logout_delete_failed"
		s.log.WithFields(ctx, fields).Errorf("logout: failed to delete refresh token: %v", err)
	case !deleted:
		incrementLogout("not_found")
		fields["action"] = "logout_token_not_found"
		s.log.WithFields(ctx, fields).Info("logout: refresh token already gone")
	default:
		incrementLogout("deleted")
		fields["action"] = "logout_success"
		s.log.WithFields(ctx, fields).Info("logout success")
	}
}

// LogoutAll revokes every refresh token of userID and returns how many sessions it held.
func (s *AuthService) LogoutAll(ctx context.Context, userID userdomain.ID) (int, error) {
	revoked, err := s.rotator.RevokeAll(ctx, userID)
	if err != nil {
		s.log.WithFields(ctx, logger.Fields{
			"user_id": string(userID),
			"action":  "logout_all_failed",
		}).Errorf("logout all failed: %v", err)
		return 0, err
	}

	s.log.WithFields(ctx, logger.Fields{
		"user_id": string(userID),
		"revoked": revoked,
		"action":  "logout_all_success",
	}).Info("all sessions revoked")
	return revoked, nil
}

// RevokeSession marks a single refresh token revoked. Presenting it afterwards
// is treated as reuse.
func (s *AuthService) RevokeSession(ctx context.Context, tokenID string) error {
	if err := s.rotator.Revoke(ctx, tokenID); err != nil {
		s.log.WithFields(ctx, logger.Fields{
			"token_id": tokenID,
			"action":   "revoke_session_failed",
		}).Errorf("revoke session failed: %v", err)
		return err
	}

	s.log.WithFields(ctx, logger.Fields{
		"token_id": tokenID,
		"action":   "revoke_session_success",
	}).Info("session revoked")
	return nil
}

func (s *AuthService) VerifyAccessToken(ctx context.Context, token string) (jwtverify.Claims, error) {
	result := s.issuer.Verify(token, authdomain.AccessToken)
	if result.Outcome != VerifyValid {
		return jwtverify.Claims{}, result.Err
	}

	return jwtverify.Claims{
		UserID:    string(result.Claims.Subject),
		TokenID:   result.Claims.TokenID,
		ExpiresAt: result.Claims.ExpiresAt,
	}, nil
}
