package auth

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
)

// Role is the closed set of dashboard roles.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleUser
}

func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", invalidInput(fmt.Sprintf("role must be %q or %q", RoleAdmin, RoleUser))
	}
	return r, nil
}

const (
	maxEmailLength = 255
	maxNameLength  = 100
	maxPhoneLength = 32
)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// NormalizeEmail case-folds an email for identity comparison.
func NormalizeEmail(email string) string {
	return cases.Fold().String(strings.TrimSpace(email))
}

func ValidateEmail(email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return invalidInput("email is required")
	}
	if len(email) > maxEmailLength || !emailRegex.MatchString(email) {
		return invalidInput("invalid email format")
	}
	return nil
}

func ValidatePassword(password string, minLength int) error {
	if utf8.RuneCountInString(password) < minLength {
		return invalidInput(fmt.Sprintf("password must be at least %d characters", minLength))
	}
	return nil
}

func ValidateName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return invalidInput("name is required")
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return invalidInput(fmt.Sprintf("name must be at most %d characters", maxNameLength))
	}
	return nil
}

func ValidatePhone(phone string) error {
	if utf8.RuneCountInString(strings.TrimSpace(phone)) > maxPhoneLength {
		return invalidInput(fmt.Sprintf("phone must be at most %d characters", maxPhoneLength))
	}
	return nil
}
