package handler

import (
	"github.com/gofiber/fiber/v2"

	"github.com/matrixai/api/internal/auth"
)

// AuthHandler handles ForwardAuth verification for the API gateway
type AuthHandler struct {
	authn *auth.Authenticator
}

// NewAuthHandler creates a new auth handler for ForwardAuth verification
func NewAuthHandler(authn *auth.Authenticator) *AuthHandler {
	return &AuthHandler{authn: authn}
}

// Verify handles GET /auth/verify, called by Traefik ForwardAuth.
// Returns 200 with X-User-* headers on success, 401 on failure.
// @Summary      Verify bearer token
// @Tags         Auth
// @Success      200
// @Failure      401
// @Router       /auth/verify [get]
func (h *AuthHandler) Verify(c *fiber.Ctx) error {
	id, err := h.authn.Authenticate(c.Get("Authorization"))
	if err != nil {
		return c.SendStatus(fiber.StatusUnauthorized)
	}

	c.Set("X-User-Id", id.UserID)
	c.Set("X-User-Email", id.Email)
	if id.Name != "" {
		c.Set("X-User-Name", id.Name)
	}
	return c.SendStatus(fiber.StatusOK)
}
