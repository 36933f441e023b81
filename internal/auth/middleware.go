package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// LocalsKey is the request-local key holding the user id.
const LocalsKey = "user_id"

// Middleware resolves the caller's user id into the request context.
// With no secret configured every request runs as devUser, or as the
// X-User-ID header when present.
func Middleware(cfg Config, devUser string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !cfg.Enabled() {
			user := c.Get("X-User-ID")
			if user == "" {
				user = devUser
			}
			c.Locals(LocalsKey, user)
			return c.Next()
		}

		token := bearerToken(c.Get(fiber.HeaderAuthorization))
		if token == "" {
			// Browsers cannot set headers on WebSocket upgrades.
			token = c.Query("token")
		}
		if token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Missing bearer token",
				"code":  "ERR_UNAUTHORIZED",
			})
		}

		user, err := ValidateToken(cfg, token)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": err.Error(),
				"code":  "ERR_UNAUTHORIZED",
			})
		}
		c.Locals(LocalsKey, user)
		return c.Next()
	}
}

// UserID returns the user id resolved by Middleware, or "".
func UserID(c *fiber.Ctx) string {
	user, _ := c.Locals(LocalsKey).(string)
	return user
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
