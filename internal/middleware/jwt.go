package middleware

import (
	"net/http"
	"slices"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/ragkasi/BreatheSafe/internal/auth"
)

const subjectLocal = "auth_subject"

// TokenVerifier validates bearer tokens.
type TokenVerifier interface {
	Verify(raw string) (*auth.Claims, error)
}

// JWTAuth requires a valid bearer token carrying one of roles.
func JWTAuth(verifier TokenVerifier, roles ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authz := c.Get(fiber.HeaderAuthorization)
		if len(authz) < len("Bearer ") || !strings.EqualFold(authz[:len("Bearer ")], "bearer ") {
			return fiber.NewError(http.StatusUnauthorized, "missing bearer token")
		}
		claims, err := verifier.Verify(strings.TrimSpace(authz[len("Bearer "):]))
		if err != nil {
			return fiber.NewError(http.StatusUnauthorized, "invalid token")
		}
		if len(roles) > 0 && !slices.Contains(roles, claims.Role) {
			return fiber.NewError(http.StatusForbidden, "insufficient role")
		}

		c.Locals(subjectLocal, claims.Subject)
		return c.Next()
	}
}

// SubjectFrom returns the authenticated token subject, if any.
func SubjectFrom(c *fiber.Ctx) string {
	sub, _ := c.Locals(subjectLocal).(string)
	return sub
}
