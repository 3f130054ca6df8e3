package service

import (
	"errors"
	"net/http"

	authrepo "github.com/AlibekovAA/refresh-guard/internal/auth/repository"
	commonerrors "github.com/AlibekovAA/refresh-guard/internal/common/errors"
)

func handleCircuitBreakerError(err error) error {
	if errors.Is(err, commonerrors.ErrCircuitOpen) {
		return ErrServiceUnavailable.WithCause(err)
	}
	return err
}

// storeFailure converts an unexpected store error into a domain error.
func storeFailure(code, message string, err error) error {
	if errors.Is(err, commonerrors.ErrCircuitOpen) {
		return handleCircuitBreakerError(err)
	}
	if errors.Is(err, authrepo.ErrDuplicateTokenID) {
		return ErrDuplicateTokenID.WithCause(err)
	}
	return newInternalError(code, message, err)
}

func newInternalError(code, message string, cause error) commonerrors.DomainError {
	err := commonerrors.NewDomainError(
		code,
		commonerrors.CategoryInternal,
		http.StatusInternalServerError,
		message,
	)
	if cause != nil {
		err = err.WithCause(cause)
	}
	return err
}
