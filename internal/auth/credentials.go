package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ricemill/backoffice/internal/db"
	"github.com/ricemill/backoffice/internal/logger"
)

// UserRepository is the persistence the credential store needs.
type UserRepository interface {
	Create(ctx context.Context, user *db.User) error
	GetByEmail(ctx context.Context, emailNormalized string) (*db.User, error)
	GetByID(ctx context.Context, id uuid.UUID) (*db.User, error)
	UpdateProfile(ctx context.Context, id uuid.UUID, name, phone string) error
	UpdateCredential(ctx context.Context, id uuid.UUID, cred db.Credential) error
	ReplaceCredential(ctx context.Context, id uuid.UUID, cred db.Credential) error
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
}

// CredentialStore is the authority for user identity and password checks.
type CredentialStore struct {
	users             UserRepository
	hasher            *PasswordHasher
	minPasswordLength int
	log               *logger.Logger
	now               func() time.Time

	// dummy is verified against when the account does not exist so that
	// unknown and known identifiers take comparable time.
	dummy db.Credential
}

func NewCredentialStore(users UserRepository, hasher *PasswordHasher, minPasswordLength int, log *logger.Logger) (*CredentialStore, error) {
	dummy, err := hasher.Hash(uuid.NewString())
	if err != nil {
		return nil, err
	}
	return &CredentialStore{
		users:             users,
		hasher:            hasher,
		minPasswordLength: minPasswordLength,
		log:               log.WithComponent("credentials"),
		now:               time.Now,
		dummy:             dummy,
	}, nil
}

// FindByIdentifier looks a user up by email, ignoring case.
func (s *CredentialStore) FindByIdentifier(ctx context.Context, identifier string) (*db.User, error) {
	if strings.TrimSpace(identifier) == "" {
		return nil, invalidInput("identifier is required")
	}
	return s.users.GetByEmail(ctx, NormalizeEmail(identifier))
}

func (s *CredentialStore) GetByID(ctx context.Context, id uuid.UUID) (*db.User, error) {
	return s.users.GetByID(ctx, id)
}

// IsActive reports whether id names an existing, active account.
func (s *CredentialStore) IsActive(ctx context.Context, id uuid.UUID) (bool, error) {
	user, err := s.users.GetByID(ctx, id)
	if errors.Is(err, ErrUserNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return user.IsActive, nil
}

// VerifyPassword checks candidate against the user's stored verifier. A nil
// user is checked against a throwaway verifier and always fails.
func (s *CredentialStore) VerifyPassword(user *db.User, candidate string) bool {
	cred := s.dummy
	if user != nil {
		cred = user.Credential
	}

	ok, err := s.hasher.Verify(cred, candidate)
	if err != nil {
		s.log.Error(context.Background(), "password verification failed", err)
		return false
	}
	return ok && user != nil
}

// CheckLogin resolves identifier and password to an active user. Every
// failure, including unknown and deactivated accounts, is
// ErrInvalidCredentials unless the store itself failed.
func (s *CredentialStore) CheckLogin(ctx context.Context, identifier, password string) (*db.User, error) {
	user, err := s.FindByIdentifier(ctx, identifier)
	if err != nil && !errors.Is(err, db.ErrUserNotFound) {
		return nil, err
	}

	if !s.VerifyPassword(user, password) || !user.IsActive {
		return nil, ErrInvalidCredentials
	}

	if s.hasher.NeedsRehash(user.Credential) {
		s.rehash(ctx, user, password)
	}
	return user, nil
}

func (s *CredentialStore) rehash(ctx context.Context, user *db.User, password string) {
	cred, err := s.hasher.Hash(password)
	if err == nil {
		err = s.users.UpdateCredential(ctx, user.ID, cred)
	}
	if err != nil {
		s.log.Warn(ctx, "password rehash failed", map[string]interface{}{
			"user_id": user.ID.String(),
			"error":   err.Error(),
		})
		return
	}
	user.Credential = cred
	s.log.Info(ctx, "password verifier upgraded", map[string]interface{}{"user_id": user.ID.String()})
}

// CreateUser validates and persists a user with its verifier atomically.
func (s *CredentialStore) CreateUser(ctx context.Context, email, password, name string, role Role) (*db.User, error) {
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if err := ValidatePassword(password, s.minPasswordLength); err != nil {
		return nil, err
	}
	if !role.Valid() {
		return nil, invalidInput("invalid role")
	}

	cred, err := s.hasher.Hash(password)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	email = strings.TrimSpace(email)
	user := &db.User{
		ID:              uuid.New(),
		Email:           email,
		EmailNormalized: NormalizeEmail(email),
		Name:            strings.TrimSpace(name),
		Role:            string(role),
		IsActive:        true,
		CreatedAt:       now,
		UpdatedAt:       now,
		Credential:      cred,
	}

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, db.ErrEmailExists) {
			return nil, ErrDuplicateIdentity
		}
		return nil, err
	}
	return user, nil
}

func (s *CredentialStore) UpdateProfile(ctx context.Context, id uuid.UUID, name, phone string) (*db.User, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if err := ValidatePhone(phone); err != nil {
		return nil, err
	}
	if err := s.users.UpdateProfile(ctx, id, strings.TrimSpace(name), strings.TrimSpace(phone)); err != nil {
		return nil, err
	}
	return s.users.GetByID(ctx, id)
}

// ChangePassword requires the current password before storing a new verifier.
// Refresh tokens issued before the change stop rotating.
func (s *CredentialStore) ChangePassword(ctx context.Context, id uuid.UUID, current, next string) error {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !s.VerifyPassword(user, current) {
		return ErrInvalidCredentials
	}
	if err := ValidatePassword(next, s.minPasswordLength); err != nil {
		return err
	}

	cred, err := s.hasher.Hash(next)
	if err != nil {
		return err
	}
	return s.users.ReplaceCredential(ctx, id, cred)
}

func (s *CredentialStore) Deactivate(ctx context.Context, id uuid.UUID) error {
	return s.users.SetActive(ctx, id, false)
}
