package auth

import (
	"errors"
	"fmt"
	"regexp"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
)

var (
	upperRe = regexp.MustCompile(`[A-Z]`)
	lowerRe = regexp.MustCompile(`[a-z]`)
	digitRe = regexp.MustCompile(`[0-9]`)
)

// RegisterInput is the payload accepted by Register
type RegisterInput struct {
	FullName        string `json:"full_name"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

// Validate checks the registration payload
func (r RegisterInput) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.FullName, validation.Required, validation.Length(2, 50)),
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.Password, passwordRules()...),
		validation.Field(&r.ConfirmPassword, validation.Required, matches(r.Password)),
	)
}

// ResetPasswordInput is the payload accepted by ResetPassword
type ResetPasswordInput struct {
	Token           string `json:"token"`
	NewPassword     string `json:"new_password"`
	ConfirmPassword string `json:"confirm_password"`
}

// Validate checks the reset payload
func (r ResetPasswordInput) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Token, validation.Required),
		validation.Field(&r.NewPassword, passwordRules()...),
		validation.Field(&r.ConfirmPassword, validation.Required, matches(r.NewPassword)),
	)
}

func passwordRules() []validation.Rule {
	return []validation.Rule{
		validation.Required,
		validation.Length(8, 0),
		validation.By(maxBcryptBytes),
		validation.Match(upperRe).Error("must contain at least one uppercase letter"),
		validation.Match(lowerRe).Error("must contain at least one lowercase letter"),
		validation.Match(digitRe).Error("must contain at least one number"),
	}
}

// bcrypt rejects inputs longer than 72 bytes.
const maxPasswordBytes = 72

func maxBcryptBytes(value any) error {
	s, _ := value.(string)
	if len(s) > maxPasswordBytes {
		return fmt.Errorf("must be at most %d bytes long", maxPasswordBytes)
	}
	return nil
}

func matches(password string) validation.Rule {
	return validation.By(func(value any) error {
		s, _ := value.(string)
		if s != password {
			return errors.New("passwords do not match")
		}
		return nil
	})
}

// validationError wraps ozzo field errors so callers can report them per field.
func validationError(err error) error {
	if err == nil {
		return nil
	}
	out := ErrValidation.Wrap(err)
	var fields validation.Errors
	if errors.As(err, &fields) {
		md := make(map[string]any, len(fields))
		for name, ferr := range fields {
			md[name] = ferr.Error()
		}
		out = out.WithMetadata(md)
	}
	return out
}
