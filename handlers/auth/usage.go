package auth

import (
	"github.com/gofiber/fiber/v2"
	"github.com/pixscaler/pixscaler-api/model"
	"github.com/pixscaler/pixscaler-api/services"
	"github.com/pixscaler/pixscaler-api/utils/middleware"
	"github.com/pixscaler/pixscaler-api/utils/response"
	"go.uber.org/zap"
)

const unlimited = "unlimited"

// UsageLimits is either a number or "unlimited" per period.
type UsageLimits struct {
	Hourly interface{} `json:"hourly"`
	Daily  interface{} `json:"daily"`
}

// UsageStats mirrors what the frontend quota widget reads.
type UsageStats struct {
	CurrentHour int         `json:"currentHour"`
	Today       int         `json:"today"` // trailing 24 hours
	Limits      UsageLimits `json:"limits"`
	IsPremium   bool        `json:"isPremium"`
	ResetTime   int64       `json:"resetTime"` // unix milliseconds
}

// GetUsage returns the caller's image processing usage
func (h *AuthHandler) GetUsage(c *fiber.Ctx) error {
	user, ok := middleware.GetUser(c)
	if !ok {
		return response.Unauthorized(c, "Not authenticated")
	}

	ctx := c.UserContext()
	subject := middleware.GetSubject(c)

	currentHour, err := h.usage.GetUsageCount(ctx, subject, model.ActionImageProcessing, services.QuotaWindowHours)
	if err != nil {
		h.log.Error("failed to load hourly usage", zap.Uint("user_id", user.ID), zap.Error(err))
		return response.InternalServerError(c, "Server error fetching usage stats")
	}
	today, err := h.usage.GetUsageCount(ctx, subject, model.ActionImageProcessing, 24)
	if err != nil {
		h.log.Error("failed to load daily usage", zap.Uint("user_id", user.ID), zap.Error(err))
		return response.InternalServerError(c, "Server error fetching usage stats")
	}

	now := h.clock.Now()
	premium := user.HasActivePremium(now)

	limits := UsageLimits{Hourly: h.freeTierLimit, Daily: h.freeTierLimit * 24}
	if premium {
		limits = UsageLimits{Hourly: unlimited, Daily: unlimited}
	}

	return response.Success(c, fiber.Map{"usage": UsageStats{
		CurrentHour: currentHour,
		Today:       today,
		Limits:      limits,
		IsPremium:   premium,
		ResetTime:   now.Add(services.QuotaResetAfter).UnixMilli(),
	}})
}

// UserStatusResponse tells the frontend whether a session is active
type UserStatusResponse struct {
	IsAuthenticated bool              `json:"isAuthenticated"`
	User            *UserStatusPublic `json:"user"`
}

type UserStatusPublic struct {
	ID        uint   `json:"id"`
	Email     string `json:"email"`
	IsPremium bool   `json:"isPremium"`
}

// UserStatus reports the optional principal of the request. Never fails.
func (h *AuthHandler) UserStatus(c *fiber.Ctx) error {
	user, ok := middleware.GetUser(c)
	if !ok {
		return response.Success(c, UserStatusResponse{})
	}

	return response.Success(c, UserStatusResponse{
		IsAuthenticated: true,
		User: &UserStatusPublic{
			ID:        user.ID,
			Email:     user.Email,
			IsPremium: user.HasActivePremium(h.clock.Now()),
		},
	})
}
