package handlers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"dm-backend/internal/services"
)

// identityEvent is the payload shape delivered by the identity
// provider's user webhook.
type identityEvent struct {
	Type string `json:"type"`
	Data struct {
		ID             string  `json:"id"`
		FirstName      string  `json:"first_name"`
		LastName       string  `json:"last_name"`
		Username       string  `json:"username"`
		ImageURL       *string `json:"image_url"`
		EmailAddresses []struct {
			EmailAddress string `json:"email_address"`
		} `json:"email_addresses"`
	} `json:"data"`
}

// IdentityWebhookHandler is the landing point for user.created and
// user.updated events. The signature scheme is svix-compatible:
// HMAC-SHA256 over "<id>.<timestamp>.<body>" keyed by the base64 part
// of the shared secret, carried in the webhook-signature header as a
// space-separated list of "v1,<base64>" entries.
func IdentityWebhookHandler(users *services.UserService, secret string, log *zap.SugaredLogger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		// No secret means no way to authenticate deliveries. Refuse
		// instead of verifying against the empty key.
		if secret == "" {
			log.Errorw("webhook secret not configured")
			return c.Status(fiber.StatusInternalServerError).SendString("webhook not configured")
		}

		msgID := c.Get("svix-id")
		timestamp := c.Get("svix-timestamp")
		signatures := c.Get("svix-signature")
		if msgID == "" || timestamp == "" || signatures == "" {
			return c.Status(fiber.StatusBadRequest).SendString("missing signature headers")
		}

		if !verifySignature(secret, msgID, timestamp, c.Body(), signatures) {
			log.Warnw("webhook verification failed", "msg_id", msgID)
			return c.Status(fiber.StatusBadRequest).SendString("webhook verification failed")
		}

		var evt identityEvent
		if err := json.Unmarshal(c.Body(), &evt); err != nil {
			return c.Status(fiber.StatusBadRequest).SendString("malformed payload")
		}

		if evt.Type == "user.created" || evt.Type == "user.updated" {
			name := strings.TrimSpace(evt.Data.FirstName + " " + evt.Data.LastName)
			if name == "" {
				name = evt.Data.Username
			}
			email := ""
			if len(evt.Data.EmailAddresses) > 0 {
				email = evt.Data.EmailAddresses[0].EmailAddress
			}

			if _, err := users.Upsert(c.Context(), evt.Data.ID, name, email, evt.Data.ImageURL); err != nil {
				log.Errorw("webhook upsert", "external_id", evt.Data.ID, "error", err)
				return c.Status(fiber.StatusInternalServerError).SendString("sync failed")
			}
		}

		return c.SendString("OK")
	}
}

func verifySignature(secret, msgID, timestamp string, body []byte, signatureHeader string) bool {
	key, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(secret, "whsec_"))
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(msgID + "." + timestamp + "."))
	mac.Write(body)
	want := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	for _, part := range strings.Fields(signatureHeader) {
		version, sig, ok := strings.Cut(part, ",")
		if !ok || version != "v1" {
			continue
		}
		if hmac.Equal([]byte(sig), []byte(want)) {
			return true
		}
	}
	return false
}
