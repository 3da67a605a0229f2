package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/docchat/docchat/internal/auth"
	"github.com/docchat/docchat/internal/log"
	"github.com/docchat/docchat/internal/user"
)

const maxAuthBodyBytes = 16 << 10

// authHandler serves registration, login, and identity endpoints.
type authHandler struct {
	users  *user.Service
	tokens *auth.TokenManager
	logger log.Logger
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// register creates an account.
func (h *authHandler) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req, maxAuthBodyBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid request body", h.logger)
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Username == "" || req.Email == "" || !strings.Contains(req.Email, "@") {
		writeError(w, http.StatusBadRequest, "invalid_fields", "username and a valid email are required", h.logger)
		return
	}
	if len(req.Password) < 8 {
		writeError(w, http.StatusBadRequest, "weak_password", "password must be at least 8 characters", h.logger)
		return
	}

	u, err := h.users.Register(r.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, user.ErrEmailTaken) {
			writeError(w, http.StatusConflict, "email_taken", "email already registered", h.logger)
			return
		}
		h.logger.Error("register user", "error", err)
		writeError(w, http.StatusInternalServerError, "register_failed", "could not create account", h.logger)
		return
	}

	writeJSON(w, http.StatusCreated, u, h.logger)
}

// token exchanges credentials for a bearer token.
func (h *authHandler) token(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decodeJSON(r, &req, maxAuthBodyBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid request body", h.logger)
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))

	u, err := h.users.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, user.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "invalid_credentials", "incorrect email or password", h.logger)
			return
		}
		h.logger.Error("authenticate user", "error", err)
		writeError(w, http.StatusInternalServerError, "auth_failed", "could not authenticate", h.logger)
		return
	}

	token, err := h.tokens.CreateToken(u.Email)
	if err != nil {
		h.logger.Error("create token", "error", err)
		writeError(w, http.StatusInternalServerError, "auth_failed", "could not authenticate", h.logger)
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{AccessToken: token, TokenType: "bearer"}, h.logger)
}

// me returns the authenticated account.
func (h *authHandler) me(w http.ResponseWriter, r *http.Request) {
	u, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated", "authentication required", h.logger)
		return
	}
	writeJSON(w, http.StatusOK, u, h.logger)
}
