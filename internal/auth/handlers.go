package auth

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/ricemill/backoffice/internal/db"
	apperrors "github.com/ricemill/backoffice/internal/errors"
	"github.com/ricemill/backoffice/internal/logger"
)

const maxBodyBytes = 1 << 20

type LoginRequest struct {
	Identifier string `json:"identifier"`
	// Email is accepted as an alias for Identifier.
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type LogoutRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type UpdateProfileRequest struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

type CreateUserRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Role     string `json:"role"`
}

// PublicUserView is the only user representation sent to clients. It never
// includes the credential.
type PublicUserView struct {
	ID               string  `json:"id"`
	Email            string  `json:"email"`
	Name             string  `json:"name"`
	Role             string  `json:"role"`
	IsPremium        bool    `json:"isPremium"`
	SubscriptionPlan *string `json:"subscriptionPlan"`
	Phone            *string `json:"phone"`
}

func NewPublicUserView(u *db.User) *PublicUserView {
	return &PublicUserView{
		ID:               u.ID.String(),
		Email:            u.Email,
		Name:             u.Name,
		Role:             u.Role,
		IsPremium:        u.IsPremium,
		SubscriptionPlan: optional(u.SubscriptionPlan),
		Phone:            optional(u.Phone),
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

type AuthResponse struct {
	User         *PublicUserView `json:"user,omitempty"`
	AccessToken  string          `json:"accessToken"`
	RefreshToken string          `json:"refreshToken"`
	ExpiresIn    int             `json:"expiresIn"`
}

type Handlers struct {
	service *Service
	log     *logger.Logger
}

func NewHandlers(service *Service, log *logger.Logger) *Handlers {
	return &Handlers{service: service, log: log.WithComponent("auth-http")}
}

// Handle adapts an error-returning handler, logging server errors with their
// cause.
func (h *Handlers) Handle(fn apperrors.Handler) http.HandlerFunc {
	return apperrors.HandleFuncWith(h.report, func(w http.ResponseWriter, r *http.Request) error {
		if err := fn(w, r); err != nil {
			return ToAppError(err)
		}
		return nil
	})
}

func (h *Handlers) report(r *http.Request, err *apperrors.AppError) {
	if err.Category == apperrors.CategoryServer {
		h.log.Error(r.Context(), "request failed", err.Cause, map[string]interface{}{
			"method": r.Method,
			"path":   r.URL.Path,
		})
	}
}

// ToAppError maps session errors onto the client-facing taxonomy. Token
// rejection reasons are collapsed into unauthenticated.
func ToAppError(err error) *apperrors.AppError {
	var appErr *apperrors.AppError
	var inputErr *InputError
	switch {
	case errors.As(err, &appErr):
		return appErr
	case errors.As(err, &inputErr):
		return apperrors.InvalidInput(inputErr.Msg)
	case errors.Is(err, ErrInvalidCredentials):
		return apperrors.InvalidCredentials()
	case errors.Is(err, ErrDuplicateIdentity):
		return apperrors.DuplicateIdentity()
	case errors.Is(err, ErrRateLimited):
		return apperrors.RateLimited()
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrUnauthenticated):
		return apperrors.Unauthenticated()
	case errors.Is(err, ErrForbidden):
		return apperrors.Forbidden()
	case errors.Is(err, ErrUserNotFound):
		return apperrors.NotFound("user")
	default:
		return apperrors.Internal().WithCause(err)
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return invalidInput("invalid request body")
	}
	return nil
}

func (h *Handlers) authResponse(session *Session) *AuthResponse {
	resp := h.tokenResponse(session.Tokens)
	resp.User = NewPublicUserView(session.User)
	return resp
}

func (h *Handlers) tokenResponse(pair *TokenPair) *AuthResponse {
	return &AuthResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresIn:    int(h.service.Tokens().AccessTTL().Seconds()),
	}
}

// remoteHost is the connection's peer address. Forwarding headers are not
// trusted here since a client could rotate them to dodge login throttling.
func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func requestID(r *http.Request) string {
	return apperrors.GetRequestID(r.Context())
}

func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) error {
	var req LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return err
	}
	identifier := req.Identifier
	if identifier == "" {
		identifier = req.Email
	}

	session, err := h.service.Login(r.Context(), identifier, req.Password, remoteHost(r))
	if err != nil {
		if errors.Is(err, ErrRateLimited) {
			w.Header().Set("Retry-After", "60")
		}
		return err
	}

	apperrors.WriteJSON(w, requestID(r), http.StatusOK, h.authResponse(session))
	return nil
}

func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) error {
	var req RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return err
	}

	session, err := h.service.Register(r.Context(), req.Email, req.Password, req.Name)
	if err != nil {
		return err
	}

	apperrors.WriteJSON(w, requestID(r), http.StatusCreated, h.authResponse(session))
	return nil
}

func (h *Handlers) Refresh(w http.ResponseWriter, r *http.Request) error {
	var req RefreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return err
	}

	pair, err := h.service.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		return err
	}

	apperrors.WriteJSON(w, requestID(r), http.StatusOK, h.tokenResponse(pair))
	return nil
}

// Logout takes the refresh token from the body and an optional bearer
// access token from the Authorization header.
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) error {
	var req LogoutRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return err
	}
	access, _ := BearerToken(r.Header.Get("Authorization"))

	if err := h.service.Logout(r.Context(), req.RefreshToken, access); err != nil {
		return err
	}

	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) error {
	id, ok := IdentityFromContext(r.Context())
	if !ok {
		return ErrUnauthenticated
	}

	user, err := h.service.Me(r.Context(), id.UserID)
	if err != nil {
		return err
	}

	apperrors.WriteJSON(w, requestID(r), http.StatusOK, NewPublicUserView(user))
	return nil
}

func (h *Handlers) UpdateMe(w http.ResponseWriter, r *http.Request) error {
	id, ok := IdentityFromContext(r.Context())
	if !ok {
		return ErrUnauthenticated
	}
	var req UpdateProfileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return err
	}

	user, err := h.service.UpdateProfile(r.Context(), id.UserID, req.Name, req.Phone)
	if err != nil {
		return err
	}

	apperrors.WriteJSON(w, requestID(r), http.StatusOK, NewPublicUserView(user))
	return nil
}

func (h *Handlers) ChangePassword(w http.ResponseWriter, r *http.Request) error {
	id, ok := IdentityFromContext(r.Context())
	if !ok {
		return ErrUnauthenticated
	}
	var req ChangePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return err
	}

	if err := h.service.ChangePassword(r.Context(), id.UserID, req.CurrentPassword, req.NewPassword); err != nil {
		return err
	}

	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (h *Handlers) CreateUser(w http.ResponseWriter, r *http.Request) error {
	var req CreateUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return err
	}

	user, err := h.service.CreateUser(r.Context(), req.Email, req.Password, req.Name, strings.ToLower(req.Role))
	if err != nil {
		return err
	}

	apperrors.WriteJSON(w, requestID(r), http.StatusCreated, NewPublicUserView(user))
	return nil
}

func (h *Handlers) DeactivateUser(w http.ResponseWriter, r *http.Request) error {
	actor, ok := IdentityFromContext(r.Context())
	if !ok {
		return ErrUnauthenticated
	}
	target, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		return invalidInput("invalid user id")
	}

	if err := h.service.DeactivateUser(r.Context(), actor.UserID, target); err != nil {
		return err
	}

	w.WriteHeader(http.StatusNoContent)
	return nil
}
