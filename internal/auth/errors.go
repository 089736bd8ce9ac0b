package auth

import (
	"errors"

	"github.com/ricemill/backoffice/internal/db"
)

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrDuplicateIdentity  = errors.New("duplicate identity")
	ErrUserNotFound       = db.ErrUserNotFound
	ErrRateLimited        = errors.New("too many login attempts")

	// ErrUnauthorized is matched by every *TokenError.
	ErrUnauthorized = errors.New("unauthorized")

	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
)

// InputError describes a rejected request field. It matches ErrInvalidInput.
type InputError struct {
	Msg string
}

func (e *InputError) Error() string { return e.Msg }

func (e *InputError) Is(target error) bool { return target == ErrInvalidInput }

func invalidInput(msg string) error {
	return &InputError{Msg: msg}
}

// Token rejection reasons. They are logged and counted, never sent to clients.
const (
	ReasonMalformed       = "malformed"
	ReasonBadSignature    = "bad_signature"
	ReasonExpired         = "expired"
	ReasonRevoked         = "revoked"
	ReasonWrongType       = "wrong_type"
	ReasonInactiveSubject = "inactive_subject"
)

type TokenError struct {
	Reason string
	Err    error
}

func (e *TokenError) Error() string {
	if e.Err != nil {
		return "token " + e.Reason + ": " + e.Err.Error()
	}
	return "token " + e.Reason
}

func (e *TokenError) Unwrap() error { return e.Err }

func (e *TokenError) Is(target error) bool { return target == ErrUnauthorized }

func tokenError(reason string, err error) error {
	return &TokenError{Reason: reason, Err: err}
}

// rejectionReason returns the TokenError reason, or "error" for anything else.
func rejectionReason(err error) string {
	var te *TokenError
	if errors.As(err, &te) {
		return te.Reason
	}
	return "error"
}
