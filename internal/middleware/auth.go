package middleware

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/matrixai/api/internal/auth"
	"github.com/matrixai/api/pkg/response"
)

// AuthMiddleware handles bearer token authentication
type AuthMiddleware struct {
	authn *auth.Authenticator
}

// NewAuthMiddleware creates auth middleware backed by authn
func NewAuthMiddleware(authn *auth.Authenticator) *AuthMiddleware {
	return &AuthMiddleware{authn: authn}
}

// NewLegacyAuthMiddleware creates auth middleware using only HMAC signing (for testing/dev)
func NewLegacyAuthMiddleware(jwtSecret string) *AuthMiddleware {
	return NewAuthMiddleware(auth.NewAuthenticator(nil, jwtSecret))
}

// Authenticate validates the JWT from the Authorization header
func (m *AuthMiddleware) Authenticate() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := m.authn.Authenticate(c.Get("Authorization"))
		if err != nil {
			switch {
			case errors.Is(err, auth.ErrMissingToken):
				return response.Unauthorized(c, "Missing authorization header")
			case errors.Is(err, auth.ErrMalformed):
				return response.Unauthorized(c, "Invalid authorization header format")
			case errors.Is(err, auth.ErrNotConfigured):
				return response.Unauthorized(c, "Authentication not configured")
			default:
				return response.Unauthorized(c, "Invalid or expired token")
			}
		}

		setIdentity(c, id.UserID, id.Email, id.Name)
		return c.Next()
	}
}

func setIdentity(c *fiber.Ctx, userID, email, name string) {
	c.Locals("userId", userID)
	c.Locals("email", email)
	c.Locals("name", name)
}

// GetUserID extracts user ID from context
func GetUserID(c *fiber.Ctx) string {
	if userID, ok := c.Locals("userId").(string); ok {
		return userID
	}
	return ""
}

// GetUserEmail extracts user email from context
func GetUserEmail(c *fiber.Ctx) string {
	if email, ok := c.Locals("email").(string); ok {
		return email
	}
	return ""
}
