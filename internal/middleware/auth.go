package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/portside-dev/portside/internal/logger"
)

// AuthMiddleware guards the REST surface with the same shared secret the
// gateway's auth message checks. A nil *AuthMiddleware is the documented
// no-auth mode: RequireAuth on nil passes everything through.
type AuthMiddleware struct {
	secret []byte
}

// NewAuthMiddleware creates the middleware for a shared secret. An empty
// secret returns nil, which disables REST authentication entirely.
func NewAuthMiddleware(secret string) *AuthMiddleware {
	if secret == "" {
		return nil
	}
	return &AuthMiddleware{secret: []byte(secret)}
}

// RequireAuth checks the bearer token on every request except /health
// (open for load balancers and uptime probes) and the gateway upgrade,
// which authenticates in-band with the auth message after the socket is up.
func (am *AuthMiddleware) RequireAuth(c *fiber.Ctx) error {
	if am == nil {
		return c.Next()
	}

	path := c.Path()
	if path == "/health" || path == "/v1/gateway" {
		return c.Next()
	}

	token := am.extractToken(c)
	if token == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "authentication required",
		})
	}

	if subtle.ConstantTimeCompare([]byte(token), am.secret) != 1 {
		logger.Debugf("REST auth failed for %s %s", c.Method(), c.Path())
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "invalid token",
		})
	}

	return c.Next()
}

// extractToken accepts the Authorization header or a token query parameter,
// the latter for EventSource clients that cannot set headers.
func (am *AuthMiddleware) extractToken(c *fiber.Ctx) string {
	authHeader := c.Get("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return parts[1]
		}
	}

	return c.Query("token", "")
}
