package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"dm-backend/internal/services"
)

// AuthMiddleware resolves the bearer token to a user and stores the
// user id and external id in locals. Reads degrade rather than fail:
// a GET with no resolvable identity proceeds with an empty caller id and
// the service layer returns empty results; writes are rejected outright.
func AuthMiddleware(auth *services.AuthService, users *services.UserService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, externalID := resolveCaller(c, auth, users)
		if userID == "" && c.Method() != fiber.MethodGet {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthenticated"})
		}
		c.Locals("user_id", userID)
		c.Locals("external_id", externalID)
		return c.Next()
	}
}

func resolveCaller(c *fiber.Ctx, auth *services.AuthService, users *services.UserService) (userID, externalID string) {
	// Token from query param `access_token` or Authorization header.
	token := c.Query("access_token")
	if token == "" {
		authHeader := c.Get("Authorization")
		if len(authHeader) > 7 && authHeader[:7] == "Bearer " {
			token = authHeader[7:]
		}
	}
	if token == "" {
		return "", ""
	}

	sub, err := auth.ValidateAccessToken(token)
	if err != nil {
		return "", ""
	}
	user, err := users.ByExternalID(c.Context(), sub)
	if err != nil {
		// Authenticated but not yet synced; identity exists, user
		// record does not.
		return "", sub
	}
	return user.ID, sub
}

// CallerID returns the resolved user id for the request, empty when the
// request carries no resolvable identity.
func CallerID(c *fiber.Ctx) string {
	if id, ok := c.Locals("user_id").(string); ok {
		return id
	}
	return ""
}

// WSUpgradeMiddleware admits only websocket upgrade requests.
func WSUpgradeMiddleware(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		c.Locals("allowed", true)
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}
