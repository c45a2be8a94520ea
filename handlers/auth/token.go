package auth

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/pixscaler/pixscaler-api/model"
	"github.com/pixscaler/pixscaler-api/utils/middleware"
	"github.com/pixscaler/pixscaler-api/utils/response"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// RefreshRequest represents a token refresh request
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// LogoutRequest optionally carries the refresh token to revoke with the access token
type LogoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// RefreshToken rotates a refresh token into a new token pair
func (h *AuthHandler) RefreshToken(c *fiber.Ctx) error {
	var req RefreshRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		return response.BadRequest(c, "Refresh token is required")
	}

	ctx := c.UserContext()

	claims, err := h.jwtManager.ValidateRefreshToken(req.RefreshToken)
	if err != nil {
		return response.Unauthorized(c, "Invalid or expired refresh token")
	}

	isRevoked, err := h.blacklistService.IsTokenRevoked(ctx, claims.ID)
	if err != nil {
		h.log.Error("failed to check token status", zap.Error(err))
		return response.InternalServerError(c, "Failed to check token status")
	}
	if isRevoked {
		return response.Unauthorized(c, "Token has been revoked")
	}

	var user model.User
	if err := h.db.WithContext(ctx).First(&user, claims.UserID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return response.Unauthorized(c, "User not found")
		}
		return response.InternalServerError(c, "Failed to load user")
	}
	if user.TokenVersion != claims.TokenVersion {
		return response.Unauthorized(c, "Token has been invalidated")
	}

	// Rotate: the presented refresh token cannot be used again
	if err := h.blacklistService.RevokeToken(ctx, claims.ID, user.ID, claims.ExpiresAt.Time, "refresh"); err != nil {
		h.log.Error("failed to revoke refresh token", zap.Error(err))
		return response.InternalServerError(c, "Failed to rotate token")
	}

	res, err := h.issueTokens(&user)
	if err != nil {
		return response.InternalServerError(c, "Failed to generate tokens")
	}

	return response.Success(c, res)
}

// Logout revokes the current access token and, if supplied, the refresh token
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	ctx := c.UserContext()

	claims, ok := middleware.GetClaims(c)
	if !ok {
		return response.Unauthorized(c, "")
	}

	if err := h.blacklistService.RevokeToken(ctx, claims.ID, claims.UserID, claims.ExpiresAt.Time, "logout"); err != nil {
		h.log.Error("failed to revoke access token", zap.Error(err))
		return response.InternalServerError(c, "Failed to logout")
	}

	var req LogoutRequest
	if err := c.BodyParser(&req); err == nil && req.RefreshToken != "" {
		refreshClaims, err := h.jwtManager.ValidateRefreshToken(req.RefreshToken)
		if err == nil && refreshClaims.UserID == claims.UserID {
			if err := h.blacklistService.RevokeToken(ctx, refreshClaims.ID, refreshClaims.UserID, refreshClaims.ExpiresAt.Time, "logout"); err != nil {
				h.log.Warn("failed to revoke refresh token", zap.Error(err))
			}
		}
	}

	return response.SuccessWithMessage(c, "Logged out successfully", nil)
}
