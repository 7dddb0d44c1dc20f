package middleware

import (
	"log"

	"github.com/gofiber/fiber/v2"

	"github.com/example/storefront/internal/services"
)

// BlocklistMiddleware rejects requests from blocked source IPs. The
// allowlist is consulted inside the abuse service before any lookup.
func BlocklistMiddleware(abuse *services.AbuseService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		blocked, err := abuse.IsBlocked(c.Context(), c.IP())
		if err != nil {
			// A lookup failure must not take the storefront down.
			log.Printf("[Abuse] Block lookup failed for %s: %v", c.IP(), err)
			return c.Next()
		}
		if blocked {
			return fiber.NewError(fiber.StatusTooManyRequests, "source temporarily blocked")
		}
		return c.Next()
	}
}
