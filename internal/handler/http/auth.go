package http

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Pranjalshukla1602/task-manager/internal/domain"
	"github.com/Pranjalshukla1602/task-manager/internal/service"
	"github.com/Pranjalshukla1602/task-manager/pkg/httputil"
	"github.com/Pranjalshukla1602/task-manager/pkg/middleware"
	"github.com/Pranjalshukla1602/task-manager/pkg/validator"
)

// AuthHandler handles the /auth endpoints.
type AuthHandler struct {
	service *service.AuthService
	logger  *slog.Logger
}

func NewAuthHandler(svc *service.AuthService, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{service: svc, logger: logger}
}

// --- Request DTOs ---

type RegisterRequest struct {
	Name     string `json:"name" validate:"required,min=2,max=50"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6,strongpassword"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required,min=10"`
}

// --- Response DTOs ---

type userResponse struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Email     string     `json:"email"`
	IsActive  bool       `json:"isActive"`
	LastLogin *time.Time `json:"lastLogin,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

type authResponse struct {
	User             userResponse `json:"user"`
	Token            string       `json:"token"`
	RefreshToken     string       `json:"refreshToken"`
	ExpiresAt        time.Time    `json:"expiresAt"`
	RefreshExpiresAt time.Time    `json:"refreshExpiresAt"`
}

type sessionResponse struct {
	ID         string            `json:"id"`
	DeviceInfo domain.DeviceInfo `json:"deviceInfo"`
	CreatedAt  time.Time         `json:"createdAt"`
	LastUsed   time.Time         `json:"lastUsed"`
	ExpiresAt  time.Time         `json:"expiresAt"`
	IsCurrent  bool              `json:"isCurrent"`
}

type sessionListResponse struct {
	Sessions []sessionResponse `json:"sessions"`
	Total    int               `json:"total"`
}

type messageResponse struct {
	Message         string `json:"message"`
	SessionsRevoked *int   `json:"sessionsRevoked,omitempty"`
}

func toUserResponse(u *domain.User) userResponse {
	return userResponse{
		ID:        u.ID,
		Name:      u.Name,
		Email:     u.Email,
		IsActive:  u.IsActive,
		LastLogin: u.LastLogin,
		CreatedAt: u.CreatedAt,
	}
}

func toAuthResponse(res *service.AuthResult) authResponse {
	return authResponse{
		User:             toUserResponse(res.User),
		Token:            res.AccessToken.Value,
		RefreshToken:     res.RefreshToken.Value,
		ExpiresAt:        res.AccessToken.ExpiresAt,
		RefreshExpiresAt: res.RefreshToken.ExpiresAt,
	}
}

// --- Public handlers ---

// Register handles POST /auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := validator.DecodeAndValidate(w, r, &req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	res, err := h.service.Register(r.Context(), service.RegisterInput{
		Name:     strings.TrimSpace(req.Name),
		Email:    req.Email,
		Password: req.Password,
		Device:   deviceFromRequest(r),
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusCreated, toAuthResponse(res))
}

// Login handles POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := validator.DecodeAndValidate(w, r, &req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	res, err := h.service.Login(r.Context(), service.LoginInput{
		Email:    req.Email,
		Password: req.Password,
		Device:   deviceFromRequest(r),
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, toAuthResponse(res))
}

// Refresh handles POST /auth/refresh
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := validator.DecodeAndValidate(w, r, &req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	res, err := h.service.Refresh(r.Context(), req.RefreshToken, deviceFromRequest(r))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, toAuthResponse(res))
}

// --- Authenticated handlers ---

// Me handles GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFromContext(r.Context())

	user, err := h.service.Me(r.Context(), p.UserID, p.Token)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, toUserResponse(user))
}

// Logout handles POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFromContext(r.Context())

	if err := h.service.Logout(r.Context(), p.UserID, p.Token); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, messageResponse{Message: "Logged out successfully"})
}

// LogoutAll handles POST /auth/logout-all
func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFromContext(r.Context())

	n, err := h.service.LogoutAll(r.Context(), p.UserID)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, messageResponse{
		Message:         "Logged out from all devices successfully",
		SessionsRevoked: &n,
	})
}

// ListSessions handles GET /auth/sessions
func (h *AuthHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFromContext(r.Context())

	sessions, err := h.service.ListSessions(r.Context(), p.UserID, p.Token)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	out := make([]sessionResponse, 0, len(sessions))
	for _, s := range sessions {
		// Sessions never used since issue report their creation time.
		lastUsed := s.CreatedAt
		if s.LastUsed != nil {
			lastUsed = *s.LastUsed
		}
		out = append(out, sessionResponse{
			ID:         s.ID,
			DeviceInfo: s.Device,
			CreatedAt:  s.CreatedAt,
			LastUsed:   lastUsed,
			ExpiresAt:  s.ExpiresAt,
			IsCurrent:  s.Current,
		})
	}
	httputil.WriteData(w, http.StatusOK, sessionListResponse{Sessions: out, Total: len(out)})
}

// RevokeSession handles DELETE /auth/sessions/{id}
func (h *AuthHandler) RevokeSession(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFromContext(r.Context())

	if err := h.service.RevokeSession(r.Context(), p.UserID, chi.URLParam(r, "id")); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, messageResponse{Message: "Session revoked successfully"})
}
