package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/yakka/backend/internal/apperrors"
	"github.com/yakka/backend/internal/auth"
	"github.com/yakka/backend/internal/models"
	"github.com/yakka/backend/internal/observability"
)

type UserStore interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	IsBanned(ctx context.Context, userID uuid.UUID) (bool, error)
	CreateSession(ctx context.Context, userID uuid.UUID, ttl time.Duration) (*models.Session, error)
	DeleteSession(ctx context.Context, sessionID uuid.UUID) error
}

type TokenIssuer interface {
	GenerateToken(userID, sessionID uuid.UUID) (string, error)
	Expiry() time.Duration
}

type AuthHandler struct {
	users  UserStore
	tokens TokenIssuer
	log    *observability.Logger
}

func NewAuthHandler(users UserStore, tokens TokenIssuer) *AuthHandler {
	return &AuthHandler{
		users:  users,
		tokens: tokens,
		log:    observability.GlobalLogger.With("auth_handler"),
	}
}

// Register handles user registration
func (h *AuthHandler) Register(c *gin.Context) {
	var req models.CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	// Hash password
	hashedPassword, err := auth.HashPassword(req.Password)
	if err != nil {
		ErrorResponse(c, http.StatusInternalServerError, "Failed to hash password")
		return
	}

	now := time.Now()
	user := &models.User{
		ID:           uuid.New(),
		Email:        req.Email,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		PasswordHash: hashedPassword,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := user.Validate(); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	ctx := c.Request.Context()
	if err := h.users.Create(ctx, user); err != nil {
		h.log.ErrorContext(ctx, "failed to create user", slog.String("error", err.Error()))
		ErrorResponse(c, http.StatusInternalServerError, "Failed to create user")
		return
	}

	token, err := h.issue(ctx, user.ID)
	if err != nil {
		ErrorResponse(c, http.StatusInternalServerError, "Failed to generate token")
		return
	}

	c.JSON(http.StatusCreated, models.LoginResponse{
		Token: token,
		User:  *user,
	})
}

// Login handles user login
func (h *AuthHandler) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	ctx := c.Request.Context()

	// Get user by email
	user, err := h.users.GetByEmail(ctx, req.Email)
	if err != nil {
		if !errors.Is(err, apperrors.ErrNotFound) {
			h.log.ErrorContext(ctx, "failed to load user", slog.String("error", err.Error()))
		}
		ErrorResponse(c, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	// Check password
	if err := auth.CheckPassword(user.PasswordHash, req.Password); err != nil {
		ErrorResponse(c, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	banned, err := h.users.IsBanned(ctx, user.ID)
	if err != nil {
		h.log.ErrorContext(ctx, "failed to check ban", slog.String("error", err.Error()))
		ErrorResponse(c, http.StatusInternalServerError, "Failed to log in")
		return
	}
	if banned {
		ErrorResponse(c, http.StatusForbidden, "You have been banned")
		return
	}

	token, err := h.issue(ctx, user.ID)
	if err != nil {
		ErrorResponse(c, http.StatusInternalServerError, "Failed to generate token")
		return
	}

	c.JSON(http.StatusOK, models.LoginResponse{
		Token: token,
		User:  *user,
	})
}

// Logout deletes the session behind the caller's token, revoking it.
func (h *AuthHandler) Logout(c *gin.Context) {
	v, ok := c.Get("session_id")
	sessionID, isID := v.(uuid.UUID)
	if !ok || !isID {
		ErrorResponse(c, http.StatusUnauthorized, "Unauthorized")
		return
	}

	if err := h.users.DeleteSession(c.Request.Context(), sessionID); err != nil {
		h.log.ErrorContext(c.Request.Context(), "failed to delete session", slog.String("error", err.Error()))
		ErrorResponse(c, http.StatusInternalServerError, "Failed to log out")
		return
	}

	c.Status(http.StatusNoContent)
}

// GetMe returns the current user
func (h *AuthHandler) GetMe(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		ErrorResponse(c, http.StatusUnauthorized, "Unauthorized")
		return
	}

	user, err := h.users.GetByID(c.Request.Context(), uid)
	if err != nil {
		RespondError(c, err, "Failed to get user")
		return
	}

	c.JSON(http.StatusOK, user)
}

func (h *AuthHandler) issue(ctx context.Context, userID uuid.UUID) (string, error) {
	session, err := h.users.CreateSession(ctx, userID, h.tokens.Expiry())
	if err != nil {
		h.log.ErrorContext(ctx, "failed to create session", slog.String("error", err.Error()))
		return "", err
	}
	token, err := h.tokens.GenerateToken(userID, session.ID)
	if err != nil {
		h.log.ErrorContext(ctx, "failed to sign token", slog.String("error", err.Error()))
		return "", err
	}
	return token, nil
}
