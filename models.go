package session

import (
	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/nyaruka/phonenumbers"
)

// UserRole is the user's role
type UserRole string

const (
	// RoleClient is a regular end user
	RoleClient UserRole = "client"
	// RoleAdmin is an administrative user
	RoleAdmin UserRole = "admin"
	// RoleSuperadmin has unrestricted access
	RoleSuperadmin UserRole = "superadmin"
)

// User is the identity attached to an authenticated session. It is replaced
// wholesale on every fetch and never trusted from client storage.
type User struct {
	ID       uuid.UUID `json:"id,omitempty"`
	Email    string    `json:"email,omitempty"`
	Phone    string    `json:"phone,omitempty"`
	Role     UserRole  `json:"role,omitempty"`
	FullName string    `json:"full_name,omitempty"`
	Avatar   string    `json:"avatar,omitempty"`
}

// Credentials is the identity service's answer to a successful login or OTP
// verification. Token is empty when a second factor is still pending.
type Credentials struct {
	User              *User  `json:"user,omitempty"`
	Token             string `json:"token,omitempty"`
	RequiresTwoFactor bool   `json:"requires_2fa,omitempty"`
}

// LoginPayload carries the primary-factor credentials. Identifier may be an
// email address or a phone number; the service decides.
type LoginPayload struct {
	Identifier string `json:"identifier"`
	Secret     string `json:"secret"`
}

func (p LoginPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Identifier, validation.Required, validation.Length(3, 254)),
		validation.Field(&p.Secret, validation.Required),
	)
}

// RegisterPayload carries the fields needed to create an account. Email or
// phone must be present; registration does not establish a session.
type RegisterPayload struct {
	FullName      string `json:"full_name"`
	Email         string `json:"email,omitempty"`
	Phone         string `json:"phone,omitempty"`
	Secret        string `json:"secret"`
	ConfirmSecret string `json:"confirm_secret"`
}

func (p RegisterPayload) Validate() error {
	emailRules := []validation.Rule{is.Email}
	if p.Phone == "" {
		// at least one contact channel is mandatory
		emailRules = append([]validation.Rule{validation.Required}, emailRules...)
	}
	return validation.ValidateStruct(&p,
		validation.Field(&p.FullName, validation.Required, validation.Length(1, 200)),
		validation.Field(&p.Email, emailRules...),
		validation.Field(&p.Phone, validation.By(validatePhone)),
		validation.Field(&p.Secret, validation.Required, validation.Length(8, 100)),
		validation.Field(&p.ConfirmSecret, validation.Required, validation.By(stringEquals(p.Secret))),
	)
}

func validatePhone(value any) error {
	raw, _ := value.(string)
	if raw == "" {
		return nil
	}
	num, err := phonenumbers.Parse(raw, "US")
	if err != nil {
		return goerrors.New("invalid phone number", goerrors.CategoryValidation)
	}
	if !phonenumbers.IsValidNumber(num) {
		return goerrors.New("invalid phone number", goerrors.CategoryValidation)
	}
	return nil
}

func stringEquals(expected string) validation.RuleFunc {
	return func(value any) error {
		s, _ := value.(string)
		if s != expected {
			return goerrors.New("values do not match", goerrors.CategoryValidation)
		}
		return nil
	}
}

// LoginResult is the structured outcome of Manager.Login. Err is set only
// when Success is false and is always classified.
type LoginResult struct {
	Success           bool
	RequiresTwoFactor bool
	User              *User
	Err               *goerrors.Error
}

// RegisterResult is the structured outcome of Manager.Register.
type RegisterResult struct {
	Success bool
	Err     *goerrors.Error
}
