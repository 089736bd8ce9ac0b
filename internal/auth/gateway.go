package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/ricemill/backoffice/internal/errors"
	"github.com/ricemill/backoffice/internal/logger"
)

// Identity is what downstream handlers learn about the caller. They never
// see the raw token.
type Identity struct {
	UserID    uuid.UUID
	Role      Role
	TokenID   string
	ExpiresAt time.Time
}

type contextKey string

const identityContextKey contextKey = "identity"

func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, id)
}

func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(identityContextKey).(*Identity)
	return id, ok && id != nil
}

// AccessVerifier is satisfied by *Issuer.
type AccessVerifier interface {
	VerifyAccess(ctx context.Context, token string) (*Claims, error)
}

// AccountChecker reports whether a user may still act. Satisfied by
// *CredentialStore.
type AccountChecker interface {
	IsActive(ctx context.Context, id uuid.UUID) (bool, error)
}

// Gateway authenticates and authorizes requests at the HTTP boundary. It
// holds no per-session state.
type Gateway struct {
	verifier AccessVerifier
	accounts AccountChecker
	log      *logger.Logger
}

func NewGateway(verifier AccessVerifier, log *logger.Logger) *Gateway {
	return &Gateway{verifier: verifier, log: log.WithComponent("gateway")}
}

// WithAccountCheck makes RequireRole confirm the account is still active, so
// a deactivated user's unexpired access token loses role-gated routes at
// once. RequireAuth alone stays a pure token check.
func (g *Gateway) WithAccountCheck(accounts AccountChecker) *Gateway {
	g.accounts = accounts
	return g
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// Authenticate resolves an Authorization header to an identity. Token
// failures all become ErrUnauthenticated; the reason is only logged.
func (g *Gateway) Authenticate(ctx context.Context, header string) (*Identity, error) {
	token, ok := BearerToken(header)
	if !ok {
		return nil, ErrUnauthenticated
	}

	claims, err := g.verifier.VerifyAccess(ctx, token)
	if err != nil {
		if errors.Is(err, ErrUnauthorized) {
			g.log.Debug(ctx, "access token rejected", map[string]interface{}{"reason": rejectionReason(err)})
			return nil, ErrUnauthenticated
		}
		return nil, err
	}

	userID, _ := claims.UserID()
	return &Identity{
		UserID:    userID,
		Role:      claims.Role,
		TokenID:   claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// Authorize requires an exact role match.
func (g *Gateway) Authorize(id *Identity, required Role) error {
	if id == nil {
		return ErrUnauthenticated
	}
	if id.Role != required {
		return ErrForbidden
	}
	return nil
}

// RequireAuth rejects requests without a valid access token and attaches the
// identity to the request context otherwise.
func (g *Gateway) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := g.Authenticate(r.Context(), r.Header.Get("Authorization"))
		if err != nil {
			g.reject(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

// RequireRole authenticates, then demands role. Missing credentials give 401,
// the wrong role gives 403. With an account check configured, a deactivated
// or deleted account gives 401 even while its token is unexpired.
func (g *Gateway) RequireRole(role Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return g.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, _ := IdentityFromContext(r.Context())
			if err := g.Authorize(id, role); err != nil {
				g.reject(w, r, err)
				return
			}
			if err := g.checkAccount(r.Context(), id); err != nil {
				g.reject(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		}))
	}
}

func (g *Gateway) checkAccount(ctx context.Context, id *Identity) error {
	if g.accounts == nil {
		return nil
	}
	active, err := g.accounts.IsActive(ctx, id.UserID)
	if err != nil {
		return err
	}
	if !active {
		g.log.Info(ctx, "inactive account presented a valid token", map[string]interface{}{"user_id": id.UserID.String()})
		return ErrUnauthenticated
	}
	return nil
}

func (g *Gateway) reject(w http.ResponseWriter, r *http.Request, err error) {
	requestID := apperrors.GetRequestID(r.Context())
	switch {
	case errors.Is(err, ErrUnauthenticated):
		w.Header().Set("WWW-Authenticate", `Bearer realm="backoffice"`)
		apperrors.WriteError(w, requestID, apperrors.Unauthenticated())
	case errors.Is(err, ErrForbidden):
		apperrors.WriteError(w, requestID, apperrors.Forbidden())
	default:
		g.log.Error(r.Context(), "authentication failed", err)
		apperrors.WriteError(w, requestID, apperrors.Internal().WithCause(err))
	}
}
