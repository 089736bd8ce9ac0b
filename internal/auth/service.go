package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/ricemill/backoffice/internal/db"
	"github.com/ricemill/backoffice/internal/logger"
	"github.com/ricemill/backoffice/internal/metrics"
	"github.com/ricemill/backoffice/internal/telemetry"
)

// Session is the result of a successful login or registration.
type Session struct {
	User   *db.User
	Tokens *TokenPair
}

// Service composes the credential store and token issuer into the session
// flows exposed over HTTP.
type Service struct {
	creds   *CredentialStore
	tokens  *Issuer
	limiter *loginLimiter
	log     *logger.Logger
	metrics *metrics.Metrics
}

// NewService wires the flows. loginAttemptsPerMinute of zero disables login
// throttling.
func NewService(creds *CredentialStore, tokens *Issuer, loginAttemptsPerMinute int, log *logger.Logger, m *metrics.Metrics) *Service {
	return &Service{
		creds:   creds,
		tokens:  tokens,
		limiter: newLoginLimiter(loginAttemptsPerMinute),
		log:     log.WithComponent("auth"),
		metrics: m,
	}
}

func (s *Service) Tokens() *Issuer {
	return s.tokens
}

// Login checks credentials and issues a token pair. clientAddr scopes login
// throttling; failed attempts from one address cannot lock the account out
// for everyone else.
func (s *Service) Login(ctx context.Context, identifier, password, clientAddr string) (*Session, error) {
	ctx, span := telemetry.StartAuthSpan(ctx, "login")
	session, result, err := s.login(ctx, identifier, password, clientAddr)
	if session != nil {
		telemetry.SetUser(span, session.User.ID.String(), session.User.Role)
	}
	telemetry.EndAuthSpan(span, result, err)
	s.metrics.ObserveLogin(result)
	return session, err
}

func (s *Service) login(ctx context.Context, identifier, password, clientAddr string) (*Session, string, error) {
	if strings.TrimSpace(identifier) == "" || password == "" {
		return nil, "invalid_input", invalidInput("identifier and password are required")
	}
	key := loginLimiterKey(identifier, clientAddr)
	if !s.limiter.allow(key) {
		s.log.Warn(ctx, "login throttled", map[string]interface{}{"client_addr": clientAddr})
		return nil, "rate_limited", ErrRateLimited
	}

	user, err := s.creds.CheckLogin(ctx, identifier, password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			s.limiter.fail(key)
			return nil, "invalid_credentials", err
		}
		s.log.Error(ctx, "login lookup failed", err)
		return nil, "error", err
	}

	pair, err := s.tokens.IssuePair(ctx, user)
	if err != nil {
		s.log.Error(ctx, "token issue failed", err)
		return nil, "error", err
	}

	s.log.Info(ctx, "user logged in", map[string]interface{}{"user_id": user.ID.String(), "role": user.Role})
	return &Session{User: user, Tokens: pair}, "success", nil
}

// Register creates a self-service account with role user and logs it in.
func (s *Service) Register(ctx context.Context, email, password, name string) (*Session, error) {
	ctx, span := telemetry.StartAuthSpan(ctx, "register")

	user, err := s.creds.CreateUser(ctx, email, password, name, RoleUser)
	if err != nil {
		telemetry.EndAuthSpan(span, registerResult(err), err)
		return nil, err
	}
	telemetry.SetUser(span, user.ID.String(), user.Role)

	pair, err := s.tokens.IssuePair(ctx, user)
	if err != nil {
		telemetry.EndAuthSpan(span, "error", err)
		return nil, err
	}

	telemetry.EndAuthSpan(span, "success", nil)
	s.log.Info(ctx, "user registered", map[string]interface{}{"user_id": user.ID.String()})
	return &Session{User: user, Tokens: pair}, nil
}

func registerResult(err error) string {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrDuplicateIdentity):
		return "duplicate_identity"
	default:
		return "error"
	}
}

// Refresh rotates a refresh token into a new pair.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	ctx, span := telemetry.StartAuthSpan(ctx, "refresh")
	if refreshToken == "" {
		err := invalidInput("refresh token is required")
		telemetry.EndAuthSpan(span, "invalid_input", err)
		return nil, err
	}

	pair, err := s.tokens.RotateRefresh(ctx, refreshToken, s.creds.GetByID)
	result := verificationResult(err)
	telemetry.EndAuthSpan(span, result, err)

	if err != nil {
		if errors.Is(err, ErrUnauthorized) {
			s.log.Info(ctx, "refresh rejected", map[string]interface{}{"reason": result})
		} else {
			s.log.Error(ctx, "refresh failed", err)
		}
		return nil, err
	}
	return pair, nil
}

// Logout revokes the refresh token and, when given, the access token too.
// Tokens that are already expired or revoked are accepted.
func (s *Service) Logout(ctx context.Context, refreshToken, accessToken string) error {
	ctx, span := telemetry.StartAuthSpan(ctx, "logout")
	if refreshToken == "" {
		err := invalidInput("refresh token is required")
		telemetry.EndAuthSpan(span, "invalid_input", err)
		return err
	}

	if err := s.tokens.RevokeToken(ctx, refreshToken, TokenRefresh); err != nil {
		telemetry.EndAuthSpan(span, verificationResult(err), err)
		return err
	}

	if accessToken != "" {
		if err := s.tokens.RevokeToken(ctx, accessToken, TokenAccess); err != nil {
			if !errors.Is(err, ErrUnauthorized) {
				telemetry.EndAuthSpan(span, "error", err)
				return err
			}
			s.log.Debug(ctx, "access token on logout ignored", map[string]interface{}{"reason": rejectionReason(err)})
		}
	}

	telemetry.EndAuthSpan(span, "success", nil)
	return nil
}

// Me returns the caller's account. A deactivated or missing account is
// treated as unauthenticated even while its access token is still valid.
func (s *Service) Me(ctx context.Context, id uuid.UUID) (*db.User, error) {
	user, err := s.creds.GetByID(ctx, id)
	if errors.Is(err, ErrUserNotFound) {
		return nil, ErrUnauthenticated
	}
	if err != nil {
		return nil, err
	}
	if !user.IsActive {
		return nil, ErrUnauthenticated
	}
	return user, nil
}

func (s *Service) UpdateProfile(ctx context.Context, id uuid.UUID, name, phone string) (*db.User, error) {
	if _, err := s.Me(ctx, id); err != nil {
		return nil, err
	}
	return s.creds.UpdateProfile(ctx, id, name, phone)
}

func (s *Service) ChangePassword(ctx context.Context, id uuid.UUID, current, next string) error {
	if _, err := s.Me(ctx, id); err != nil {
		return err
	}
	if err := s.creds.ChangePassword(ctx, id, current, next); err != nil {
		return err
	}
	s.log.Info(ctx, "password changed", map[string]interface{}{"user_id": id.String()})
	return nil
}

// CreateUser is the admin path for adding accounts of any role.
func (s *Service) CreateUser(ctx context.Context, email, password, name, role string) (*db.User, error) {
	r, err := ParseRole(role)
	if err != nil {
		return nil, err
	}
	user, err := s.creds.CreateUser(ctx, email, password, name, r)
	if err != nil {
		return nil, err
	}
	s.log.Info(ctx, "user created", map[string]interface{}{"user_id": user.ID.String(), "role": user.Role})
	return user, nil
}

// DeactivateUser blocks future logins and refreshes for id. Access tokens
// already issued remain valid until they expire.
func (s *Service) DeactivateUser(ctx context.Context, actor, id uuid.UUID) error {
	if actor == id {
		return invalidInput("cannot deactivate your own account")
	}
	if err := s.creds.Deactivate(ctx, id); err != nil {
		return err
	}
	s.log.Info(ctx, "user deactivated", map[string]interface{}{"user_id": id.String(), "by": actor.String()})
	return nil
}

// EnsureBootstrapAdmin creates the configured admin account if no account
// with that email exists. It reports whether an account was created.
func (s *Service) EnsureBootstrapAdmin(ctx context.Context, email, password, name string) (bool, error) {
	if email == "" {
		return false, nil
	}

	existing, err := s.creds.FindByIdentifier(ctx, email)
	switch {
	case err == nil:
		if existing.Role != string(RoleAdmin) {
			s.log.Warn(ctx, "bootstrap admin email belongs to a non-admin account", map[string]interface{}{"user_id": existing.ID.String()})
		}
		return false, nil
	case !errors.Is(err, ErrUserNotFound):
		return false, err
	}

	user, err := s.creds.CreateUser(ctx, email, password, name, RoleAdmin)
	if errors.Is(err, ErrDuplicateIdentity) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	s.log.Info(ctx, "bootstrap admin created", map[string]interface{}{"user_id": user.ID.String()})
	return true, nil
}
