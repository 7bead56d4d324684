package transport

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/kursadbilgin/alert-engine/internal/observability"
)

// CorrelationMiddleware assigns each request a correlation id, taken from the
// X-Request-ID header when the caller supplies one. The id is echoed on the
// response and stored in the user context so service logs downstream carry it.
func CorrelationMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		correlationID := strings.TrimSpace(c.Get(fiber.HeaderXRequestID))
		if correlationID == "" {
			correlationID = uuid.NewString()
		}

		c.Set(fiber.HeaderXRequestID, correlationID)
		c.SetUserContext(observability.WithCorrelationID(c.UserContext(), correlationID))

		return c.Next()
	}
}
