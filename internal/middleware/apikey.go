package middleware

import (
	"crypto/subtle"
	"log"

	"github.com/gofiber/fiber/v2"
)

// APIKeyMiddleware validates the X-API-Key header against the statically
// configured keys. Token issuance and identity live in the external auth
// layer; this is the ingress guard for direct API access.
func APIKeyMiddleware(validKeys []string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if len(validKeys) == 0 {
			// No keys configured: open instance (development mode).
			return c.Next()
		}

		apiKey := c.Get("X-API-Key")
		if apiKey == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Missing API key. Include X-API-Key header.",
			})
		}

		for _, valid := range validKeys {
			if subtle.ConstantTimeCompare([]byte(apiKey), []byte(valid)) == 1 {
				c.Locals("auth_type", "api_key")
				return c.Next()
			}
		}

		log.Printf("❌ [APIKEY-AUTH] Invalid key attempt from %s", c.IP())
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Invalid API key",
		})
	}
}
