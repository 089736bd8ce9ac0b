package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/ricemill/backoffice/internal/db"
	"github.com/ricemill/backoffice/internal/metrics"
	"github.com/ricemill/backoffice/internal/revocation"
)

type TokenType string

const (
	TokenAccess  TokenType = "access"
	TokenRefresh TokenType = "refresh"
)

type Claims struct {
	Role           Role      `json:"role"`
	Type           TokenType `json:"typ"`
	SessionVersion int64     `json:"sv"`
	jwt.RegisteredClaims
}

// UserID parses the subject claim.
func (c *Claims) UserID() (uuid.UUID, error) {
	return uuid.Parse(c.Subject)
}

type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

type IssuerConfig struct {
	Secret     []byte
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// Issuer mints, verifies, rotates and revokes HS256 tokens. It owns the
// revocation record.
type Issuer struct {
	cfg     IssuerConfig
	store   revocation.Store
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewIssuer(cfg IssuerConfig, store revocation.Store, m *metrics.Metrics) *Issuer {
	return &Issuer{cfg: cfg, store: store, metrics: m, now: time.Now}
}

func (i *Issuer) AccessTTL() time.Duration {
	return i.cfg.AccessTTL
}

// IssuePair mints an independent access and refresh token for user.
func (i *Issuer) IssuePair(_ context.Context, user *db.User) (*TokenPair, error) {
	now := i.now()

	access, accessExp, err := i.sign(user, TokenAccess, now, i.cfg.AccessTTL)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}
	refresh, refreshExp, err := i.sign(user, TokenRefresh, now, i.cfg.RefreshTTL)
	if err != nil {
		return nil, fmt.Errorf("sign refresh token: %w", err)
	}

	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

func (i *Issuer) sign(user *db.User, typ TokenType, now time.Time, ttl time.Duration) (string, time.Time, error) {
	claims := &Claims{
		Role:           Role(user.Role),
		Type:           typ,
		SessionVersion: user.SessionVersion,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID.String(),
			Issuer:    i.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.cfg.Secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, claims.ExpiresAt.Time, nil
}

func (i *Issuer) VerifyAccess(ctx context.Context, token string) (*Claims, error) {
	claims, err := i.verify(ctx, token, TokenAccess)
	i.metrics.ObserveTokenVerification(verificationResult(err))
	return claims, err
}

func (i *Issuer) VerifyRefresh(ctx context.Context, token string) (*Claims, error) {
	claims, err := i.verify(ctx, token, TokenRefresh)
	i.metrics.ObserveTokenVerification(verificationResult(err))
	return claims, err
}

// verify checks the signature, then expiry, then revocation.
func (i *Issuer) verify(ctx context.Context, token string, want TokenType) (*Claims, error) {
	claims, err := i.parse(token, want)
	if err != nil {
		return nil, err
	}

	if !i.now().Before(claims.ExpiresAt.Time) {
		return nil, tokenError(ReasonExpired, nil)
	}

	revoked, err := i.store.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, fmt.Errorf("revocation lookup: %w", err)
	}
	if revoked {
		return nil, tokenError(ReasonRevoked, nil)
	}
	return claims, nil
}

// parse validates the signature and claim shape only; expiry is checked by
// the caller against the issuer's clock.
func (i *Issuer) parse(token string, want TokenType) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return i.cfg.Secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			return nil, tokenError(ReasonBadSignature, err)
		}
		return nil, tokenError(ReasonMalformed, err)
	}

	if claims.ExpiresAt == nil || claims.ID == "" || claims.Issuer != i.cfg.Issuer || !claims.Role.Valid() {
		return nil, tokenError(ReasonMalformed, nil)
	}
	if _, err := claims.UserID(); err != nil {
		return nil, tokenError(ReasonMalformed, err)
	}
	if claims.Type != want {
		return nil, tokenError(ReasonWrongType, nil)
	}
	return claims, nil
}

// RotateRefresh exchanges a refresh token for a new pair. The old token id is
// revoked before anything else can fail, so a failed rotation never leaves it
// usable. Of two concurrent rotations of one token, exactly one wins. A token
// minted before the user's last password change is rejected as revoked.
func (i *Issuer) RotateRefresh(ctx context.Context, refreshToken string, loadUser func(context.Context, uuid.UUID) (*db.User, error)) (*TokenPair, error) {
	pair, err := i.rotate(ctx, refreshToken, loadUser)
	i.metrics.ObserveRefresh(verificationResult(err))
	return pair, err
}

func (i *Issuer) rotate(ctx context.Context, refreshToken string, loadUser func(context.Context, uuid.UUID) (*db.User, error)) (*TokenPair, error) {
	claims, err := i.VerifyRefresh(ctx, refreshToken)
	if err != nil {
		return nil, err
	}

	newlyRevoked, err := i.store.Revoke(ctx, claims.ID, claims.ExpiresAt.Time)
	if err != nil {
		return nil, fmt.Errorf("revoke refresh token: %w", err)
	}
	if !newlyRevoked {
		return nil, tokenError(ReasonRevoked, nil)
	}
	i.metrics.ObserveRevocation()

	userID, _ := claims.UserID()
	user, err := loadUser(ctx, userID)
	if errors.Is(err, db.ErrUserNotFound) || (err == nil && !user.IsActive) {
		return nil, tokenError(ReasonInactiveSubject, err)
	}
	if err != nil {
		return nil, err
	}
	if claims.SessionVersion != user.SessionVersion {
		return nil, tokenError(ReasonRevoked, nil)
	}

	return i.IssuePair(ctx, user)
}

// Revoke records tokenID until expiresAt. Revoking twice is harmless.
func (i *Issuer) Revoke(ctx context.Context, tokenID string, expiresAt time.Time) error {
	newlyRevoked, err := i.store.Revoke(ctx, tokenID, expiresAt)
	if err != nil {
		return err
	}
	if newlyRevoked {
		i.metrics.ObserveRevocation()
	}
	return nil
}

// RevokeToken revokes a presented token of the given type. The signature must
// verify; an expired or already revoked token is accepted without error since
// it can no longer be used anyway.
func (i *Issuer) RevokeToken(ctx context.Context, token string, typ TokenType) error {
	claims, err := i.parse(token, typ)
	if err != nil {
		return err
	}
	if !i.now().Before(claims.ExpiresAt.Time) {
		return nil
	}
	return i.Revoke(ctx, claims.ID, claims.ExpiresAt.Time)
}

func verificationResult(err error) string {
	if err == nil {
		return "ok"
	}
	return rejectionReason(err)
}
