package auth

import (
	"atme/errors"
	"fmt"
	"unicode"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

type RegisterRequest struct {
	Email     string `validate:"required,email"`
	Password  string `validate:"required,min=12,max=72"`
	FirstName string `validate:"required,max=50"`
	LastName  string `validate:"max=50"`
}

// UsernameRequest mirrors the rules of the sign up screen: lowercase letters
// and digits only, so usernames stay unambiguous in search.
type UsernameRequest struct {
	Username string `validate:"required,min=3,max=20,alphanum,lowercase"`
}

func ValidateRegister(req RegisterRequest) error {
	if err := validate.Struct(req); err != nil {
		return err
	}
	return ValidatePassword(req.Password)
}

func ValidatePassword(password string) error {
	if err := validate.Var(password, "required,min=12,max=72"); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrInvalidPassword, err)
	}
	if !isPasswordComplex(password) {
		return errors.ErrInvalidPassword
	}
	return nil
}

func ValidateUsername(username string) error {
	if err := validate.Struct(UsernameRequest{Username: username}); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrInvalidUsername, err)
	}
	return nil
}

func ValidateEmail(email string) error {
	return validate.Var(email, "required,email")
}

func isPasswordComplex(s string) bool {
	var hasUpper, hasLower, hasNumber, hasSpecial bool
	for _, char := range s {
		switch {
		case unicode.IsUpper(char):
			hasUpper = true
		case unicode.IsLower(char):
			hasLower = true
		case unicode.IsNumber(char):
			hasNumber = true
		case unicode.IsPunct(char) || unicode.IsSymbol(char):
			hasSpecial = true
		}
	}
	return hasUpper && hasLower && hasNumber && hasSpecial
}
