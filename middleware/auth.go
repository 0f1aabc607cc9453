// middleware/auth.go
package middleware

import (
	"log"
	"slices"
	"strings"

	"github.com/gofiber/fiber/v2"
)

const (
	LocalUserID    = "user_id"
	LocalUserRoles = "user_roles"
)

// UserContextMiddleware extracts user identity and roles set by Gateway.
func UserContextMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := strings.TrimSpace(c.Get("X-User-ID"))

		var roles []string
		for _, r := range strings.Split(c.Get("X-User-Roles"), ",") {
			r = strings.TrimSpace(r)
			if r != "" {
				roles = append(roles, r)
			}
		}

		c.Locals(LocalUserID, userID)
		c.Locals(LocalUserRoles, roles)
		return c.Next()
	}
}

// RequireUser rejects requests without a gateway-supplied user id.
func RequireUser() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if UserID(c) == "" {
			log.Printf("❌ [USER_CTX] X-User-ID required but missing: %s", c.Path())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing X-User-ID — request must come through gateway with auth context",
			})
		}
		return c.Next()
	}
}

// Roles granted by the gateway.
const (
	RoleAdmin         = "admin"
	RoleMatchOperator = "match_operator"
)

func hasAnyRole(c *fiber.Ctx, roles []string) bool {
	granted, _ := c.Locals(LocalUserRoles).([]string)
	for _, r := range roles {
		if slices.Contains(granted, r) {
			return true
		}
	}
	return false
}

// RequireRole rejects requests whose gateway roles include none of roles.
func RequireRole(roles ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !hasAnyRole(c, roles) {
			log.Printf("🚫 [USER_CTX] %q lacks role %v for %s", UserID(c), roles, c.Path())
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "forbidden",
			})
		}
		return c.Next()
	}
}

// RequireSelfOrRole lets through the user named by the route param, or
// anyone holding one of roles.
func RequireSelfOrRole(param string, roles ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := UserID(c)
		if (id != "" && id == c.Params(param)) || hasAnyRole(c, roles) {
			return c.Next()
		}
		log.Printf("🚫 [USER_CTX] %q may not read %s", id, c.Path())
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "forbidden",
		})
	}
}

func UserID(c *fiber.Ctx) string {
	id, _ := c.Locals(LocalUserID).(string)
	return id
}
