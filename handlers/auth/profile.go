package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/pixscaler/pixscaler-api/model"
	"github.com/pixscaler/pixscaler-api/services"
	"github.com/pixscaler/pixscaler-api/utils/middleware"
	"github.com/pixscaler/pixscaler-api/utils/response"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// UpdateProfileRequest represents a profile update request
type UpdateProfileRequest struct {
	Name *string `json:"name" validate:"omitempty,max=100"`
}

// ChangePasswordRequest represents a password change request
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=6"`
}

// GetProfile returns the current user's profile
func (h *AuthHandler) GetProfile(c *fiber.Ctx) error {
	user, ok := middleware.GetUser(c)
	if !ok {
		return response.Unauthorized(c, "Not authenticated")
	}

	return response.Success(c, fiber.Map{"user": h.toUserResponse(user)})
}

// UpdateProfile updates the current user's profile
func (h *AuthHandler) UpdateProfile(c *fiber.Ctx) error {
	user, ok := middleware.GetUser(c)
	if !ok {
		return response.Unauthorized(c, "Not authenticated")
	}

	var req UpdateProfileRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}
	if req.Name == nil {
		return response.BadRequest(c, "No valid fields to update")
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		return response.BadRequest(c, "Name must be at most 100 characters")
	}

	name := strings.TrimSpace(*req.Name)
	if err := h.db.WithContext(c.UserContext()).Model(user).Update("name", name).Error; err != nil {
		h.log.Error("failed to update profile", zap.Uint("user_id", user.ID), zap.Error(err))
		return response.InternalServerError(c, "Failed to update profile")
	}
	user.Name = name

	return response.SuccessWithMessage(c, "Profile updated successfully", fiber.Map{"user": h.toUserResponse(user)})
}

// ChangePassword verifies the current password, stores the new one and
// invalidates every previously issued token.
func (h *AuthHandler) ChangePassword(c *fiber.Ctx) error {
	user, ok := middleware.GetUser(c)
	if !ok {
		return response.Unauthorized(c, "Not authenticated")
	}

	var req ChangePasswordRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		if req.CurrentPassword == "" || req.NewPassword == "" {
			return response.BadRequest(c, "Current password and new password are required")
		}
		return response.BadRequest(c, "New password must be at least 6 characters long")
	}

	if err := h.passwords.Verify(user.PasswordHash, req.CurrentPassword); err != nil {
		return response.Unauthorized(c, "Current password is incorrect")
	}

	hashed, err := h.passwords.Hash(req.NewPassword)
	if err != nil {
		return response.InternalServerError(c, "Failed to process password")
	}

	err = h.db.WithContext(c.UserContext()).Model(user).Updates(map[string]interface{}{
		"password_hash": hashed,
		"token_version": gorm.Expr("token_version + ?", 1),
	}).Error
	if err != nil {
		h.log.Error("failed to change password", zap.Uint("user_id", user.ID), zap.Error(err))
		return response.InternalServerError(c, "Server error changing password")
	}

	var updated model.User
	if err := h.db.WithContext(c.UserContext()).First(&updated, user.ID).Error; err != nil {
		return response.InternalServerError(c, "Failed to load user")
	}

	res, err := h.issueTokens(&updated)
	if err != nil {
		return response.InternalServerError(c, "Failed to generate tokens")
	}

	h.analytics.Track(c.UserContext(), services.Event{
		Type:      model.EventTypePasswordSwap,
		UserID:    &user.ID,
		IPAddress: c.IP(),
	})

	return response.SuccessWithMessage(c, "Password changed successfully", res)
}
