// Package http provides the admin HTTP API for ejabberd accounts.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/atinyakov/ejauth/internal/middleware"
	"github.com/atinyakov/ejauth/internal/repository"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// UserService defines the account operations required by UsersHandler.
type UserService interface {
	// RegisterUser creates an active account. It returns
	// repository.ErrUserExists when the account is already present.
	RegisterUser(ctx context.Context, username, server, password string) error
	// SetActive reports false when the account does not exist.
	SetActive(ctx context.Context, username, server string, active bool) (bool, error)
	// UserExists reports whether the account exists, active or not.
	UserExists(ctx context.Context, username, server string) (bool, error)
}

// UsersHandler handles account administration requests.
type UsersHandler struct {
	UserService UserService
	Log         *zap.Logger
}

// RegisterRequest represents the JSON payload for account registration.
type RegisterRequest struct {
	User     string `json:"user"`
	Server   string `json:"server"`
	Password string `json:"password"`
}

// UserResponse is returned by Get.
type UserResponse struct {
	User   string `json:"user"`
	Server string `json:"server"`
	Exists bool   `json:"exists"`
}

type activeRequest struct {
	Active *bool `json:"active"`
}

func (h *UsersHandler) logger() *zap.Logger {
	if h.Log == nil {
		return zap.NewNop()
	}
	return h.Log
}

// Register handles POST /api/users.
func (h *UsersHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil ||
		req.User == "" || req.Server == "" || req.Password == "" {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	err := h.UserService.RegisterUser(r.Context(), req.User, req.Server, req.Password)
	if errors.Is(err, repository.ErrUserExists) {
		http.Error(w, "user already exists", http.StatusConflict)
		return
	}
	if err != nil {
		h.logger().Error("failed to register user", zap.String("user", req.User),
			zap.String("server", req.Server), zap.Error(err))
		http.Error(w, "failed to save user", http.StatusInternalServerError)
		return
	}

	h.logger().Info("user registered",
		zap.String("user", req.User),
		zap.String("server", req.Server),
		zap.String("operator", middleware.OperatorFromContext(r.Context())),
	)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(UserResponse{User: req.User, Server: req.Server, Exists: true})
}

// SetActive handles PUT /api/users/{server}/{user}/active.
func (h *UsersHandler) SetActive(w http.ResponseWriter, r *http.Request) {
	user, server := chi.URLParam(r, "user"), chi.URLParam(r, "server")

	var req activeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Active == nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	ok, err := h.UserService.SetActive(r.Context(), user, server, *req.Active)
	if err != nil {
		h.logger().Error("failed to update user", zap.String("user", user),
			zap.String("server", server), zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "user not found", http.StatusNotFound)
		return
	}

	h.logger().Info("user activation changed",
		zap.String("user", user),
		zap.String("server", server),
		zap.Bool("active", *req.Active),
		zap.String("operator", middleware.OperatorFromContext(r.Context())),
	)
	w.WriteHeader(http.StatusNoContent)
}

// Get handles GET /api/users/{server}/{user}.
func (h *UsersHandler) Get(w http.ResponseWriter, r *http.Request) {
	user, server := chi.URLParam(r, "user"), chi.URLParam(r, "server")

	exists, err := h.UserService.UserExists(r.Context(), user, server)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(UserResponse{User: user, Server: server, Exists: exists})
}
