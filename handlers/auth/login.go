package auth

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/pixscaler/pixscaler-api/model"
	"github.com/pixscaler/pixscaler-api/services"
	authutil "github.com/pixscaler/pixscaler-api/utils/auth"
	"github.com/pixscaler/pixscaler-api/utils/response"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// LoginRequest represents a user login request
type LoginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// Login handles user login
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	if err := h.validator.ValidateStruct(req); err != nil {
		return response.BadRequest(c, credentialsMessage(err))
	}

	ctx := c.UserContext()
	ip := c.IP()

	var user model.User
	if err := h.db.WithContext(ctx).Where("email = ?", req.Email).First(&user).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			h.log.Error("failed to look up user", zap.Error(err))
			return response.InternalServerError(c, "Server error during login")
		}
		// Record failed attempt even if user not found
		h.bruteForceProtection.RecordFailedAttempt(ctx, ip)
		return response.Unauthorized(c, "Invalid email or password")
	}

	if err := h.passwords.Verify(user.PasswordHash, req.Password); err != nil {
		if !errors.Is(err, authutil.ErrPasswordMismatch) {
			h.log.Warn("stored password hash is unreadable", zap.Uint("user_id", user.ID), zap.Error(err))
		}
		h.bruteForceProtection.RecordFailedAttempt(ctx, ip)
		return response.Unauthorized(c, "Invalid email or password")
	}
	h.rehashPassword(c, &user, req.Password)

	h.bruteForceProtection.RecordSuccessfulAttempt(ctx, ip)

	res, err := h.issueTokens(&user)
	if err != nil {
		return response.InternalServerError(c, "Failed to generate tokens")
	}

	h.analytics.Track(ctx, services.Event{
		Type:      model.EventTypeLogin,
		UserID:    &user.ID,
		IPAddress: ip,
		UserAgent: c.Get(fiber.HeaderUserAgent),
	})

	return response.Success(c, res)
}

// rehashPassword upgrades a hash made at an old bcrypt cost. Failures are
// logged and the login goes ahead.
func (h *AuthHandler) rehashPassword(c *fiber.Ctx, user *model.User, password string) {
	if !h.passwords.NeedsRehash(user.PasswordHash) {
		return
	}
	hashed, err := h.passwords.Hash(password)
	if err == nil {
		err = h.db.WithContext(c.UserContext()).Model(user).Update("password_hash", hashed).Error
	}
	if err != nil {
		h.log.Warn("failed to rehash password", zap.Uint("user_id", user.ID), zap.Error(err))
	}
}
