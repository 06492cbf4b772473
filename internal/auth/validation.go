package auth

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

// MinPasswordLength is the shortest acceptable password.
const MinPasswordLength = 8

// RegisterInput is the registration request body.
type RegisterInput struct {
	Email        string   `json:"email" validate:"required,email,max=254"`
	Password     string   `json:"password" validate:"required,strongpassword"`
	FirstName    string   `json:"firstName" validate:"required,max=100"`
	LastName     string   `json:"lastName" validate:"required,max=100"`
	UserType     UserType `json:"userType" validate:"required,usertype"`
	Phone        string   `json:"phone,omitempty" validate:"omitempty,max=32"`
	Zone         string   `json:"zone,omitempty" validate:"omitempty,max=64"`
	ManagedZones []string `json:"managedZones,omitempty" validate:"omitempty,max=50,dive,required,max=64"`
	Organization string   `json:"organization,omitempty" validate:"omitempty,max=200"`
}

// LoginInput is the login request body.
type LoginInput struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// ChangePasswordInput is the password change request body.
type ChangePasswordInput struct {
	CurrentPassword string `json:"currentPassword" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required,strongpassword"`
}

// Validator checks request inputs and reports failures as *ValidationError.
type Validator struct {
	validate *validator.Validate
}

// NewValidator builds a validator that names fields after their JSON tags.
func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0] //nolint:mnd // name,options
		if name == "-" {
			return ""
		}
		return name
	})
	// RegisterValidation only fails for empty or reserved tag names.
	_ = v.RegisterValidation("strongpassword", func(fl validator.FieldLevel) bool {
		return PasswordStrengthError(fl.Field().String()) == ""
	})
	_ = v.RegisterValidation("usertype", func(fl validator.FieldLevel) bool {
		return UserType(fl.Field().String()).IsValid()
	})
	return &Validator{validate: v}
}

// Struct validates s, returning a *ValidationError or nil.
func (v *Validator) Struct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", ErrValidation, err) //nolint:errorlint // Validator internals are not part of the API
	}

	out := &ValidationError{Fields: make(map[string]string, len(fieldErrs))}
	for _, fe := range fieldErrs {
		name := fieldName(fe)
		if _, seen := out.Fields[name]; seen {
			continue
		}
		out.Fields[name] = fieldMessage(fe)
	}
	return out
}

// fieldName strips the struct prefix so nested paths read like
// "managedZones[1]".
func fieldName(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "max":
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("must contain at most %s entries", fe.Param())
		}
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "strongpassword":
		return PasswordStrengthError(fe.Value().(string)) //nolint:forcetypeassert // Tag only used on strings
	case "usertype":
		return "must be one of: citizen, employee, office, environmental"
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}

// PasswordStrengthError describes why password is too weak, or returns ""
// when it is acceptable: at least 8 characters, at most 72 bytes, with an
// upper-case letter, a lower-case letter and a digit.
func PasswordStrengthError(password string) string {
	if len([]rune(password)) < MinPasswordLength {
		return fmt.Sprintf("must be at least %d characters", MinPasswordLength)
	}
	if len(password) > MaxPasswordBytes {
		return fmt.Sprintf("must be at most %d bytes", MaxPasswordBytes)
	}

	var upper, lower, digit bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	if !upper || !lower || !digit {
		return "must contain an upper-case letter, a lower-case letter and a digit"
	}
	return ""
}

// NormalizeEmail lower-cases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
