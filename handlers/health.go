package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/pixscaler/pixscaler-api/database"
	"github.com/pixscaler/pixscaler-api/utils/response"
)

// HandleCheckHealth reports liveness plus database reachability.
func HandleCheckHealth(c *fiber.Ctx, store database.Storage) error {
	if err := store.HealthCheck(); err != nil {
		return response.ServiceUnavailable(c, "database unavailable")
	}
	return c.JSON(fiber.Map{"status": "ok"})
}
