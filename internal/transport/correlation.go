package transport

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/investor-mailer/internal/observability"
)

// CorrelationMiddleware copies the request id into the user context so
// service logs carry it. It must run after the requestid middleware.
func CorrelationMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := strings.TrimSpace(c.Get(fiber.HeaderXRequestID))
		if id == "" {
			if value, ok := c.Locals("requestid").(string); ok {
				id = value
			}
		}
		if id != "" {
			c.SetUserContext(observability.WithCorrelationID(c.UserContext(), id))
		}
		return c.Next()
	}
}
