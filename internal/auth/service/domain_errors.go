package service

import (
	"net/http"

	commonerrors "github.com/AlibekovAA/refresh-guard/internal/common/errors"
)

var (
	ErrInvalidCredentials = commonerrors.NewDomainError(
		"INVALID_CREDENTIALS",
		commonerrors.CategoryAuth,
		http.StatusUnauthorized,
		"invalid credentials",
	)

	ErrValidationFailed = commonerrors.NewDomainError(
		"VALIDATION_FAILED",
		commonerrors.CategoryValidation,
		http.StatusBadRequest,
		"username and password are required",
	)

	ErrMalformedToken = commonerrors.NewDomainError(
		"TOKEN_MALFORMED",
		commonerrors.CategoryUnauthorized,
		http.StatusUnauthorized,
		"token is malformed or its signature is invalid",
	)

	ErrExpiredToken = commonerrors.NewDomainError(
		"TOKEN_EXPIRED",
		commonerrors.CategoryUnauthorized,
		http.StatusUnauthorized,
		"token has expired",
	)

	ErrInvalidToken = commonerrors.NewDomainError(
		"TOKEN_INVALID",
		commonerrors.CategoryUnauthorized,
		http.StatusUnauthorized,
		"token is not valid",
	)

	ErrTokenNotRecognized = commonerrors.NewDomainError(
		"TOKEN_NOT_RECOGNIZED",
		commonerrors.CategoryUnauthorized,
		http.StatusUnauthorized,
		"refresh token is not recognized",
	)

	ErrTokenReuseDetected = commonerrors.NewDomainError(
		"TOKEN_REUSE_DETECTED",
		commonerrors.CategoryForbidden,
		http.StatusForbidden,
		"refresh token reuse detected, all sessions revoked",
	)

	ErrDuplicateTokenID = commonerrors.NewDomainError(
		"DUPLICATE_TOKEN_ID",
		commonerrors.CategoryInternal,
		http.StatusInternalServerError,
		"token identifier collision",
	)

	ErrServiceUnavailable = commonerrors.NewDomainError(
		"SERVICE_UNAVAILABLE",
		commonerrors.CategoryExternal,
		http.StatusServiceUnavailable,
		"token store temporarily unavailable",
	)
)
