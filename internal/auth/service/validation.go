package service

import (
	"regexp"
	"unicode"

	"github.com/go-playground/validator/v10"

	"github.com/AlibekovAA/refresh-guard/internal/common/constants"
)

var usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

type CredentialValidator struct {
	validate *validator.Validate
}

func NewCredentialValidator() CredentialValidator {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("username", func(fl validator.FieldLevel) bool {
		return isValidUsername(fl.Field().String())
	})
	return CredentialValidator{validate: v}
}

type credentials struct {
	Username string `validate:"required,username"`
	Password string `validate:"required,max=72"`
}

func (cv CredentialValidator) Validate(username, password string) error {
	if err := cv.validate.Struct(credentials{Username: username, Password: password}); err != nil {
		return ErrValidationFailed.WithCause(err)
	}
	return nil
}

func isValidUsername(value string) bool {
	if len(value) < constants.UsernameMinLength || len(value) > constants.UsernameMaxLength {
		return false
	}

	if !usernameRegex.MatchString(value) {
		return false
	}

	first := rune(value[0])
	last := rune(value[len(value)-1])
	if !unicode.IsLetter(first) && !unicode.IsDigit(first) {
		return false
	}

	return unicode.IsLetter(last) || unicode.IsDigit(last)
}
