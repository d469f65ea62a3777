package handlers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"dm-backend/internal/services"
	"dm-backend/internal/store"
)

const testWebhookSecret = "whsec_dGVzdC13ZWJob29rLXNlY3JldA=="

func newWebhookApp(t *testing.T) (*fiber.App, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	users := services.NewUserService(mem, zap.NewNop().Sugar())
	app := fiber.New()
	app.Post("/webhooks/identity", IdentityWebhookHandler(users, testWebhookSecret, zap.NewNop().Sugar()))
	return app, mem
}

func signPayload(t *testing.T, msgID, timestamp, body string) string {
	t.Helper()
	key, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(testWebhookSecret, "whsec_"))
	if err != nil {
		t.Fatalf("decode secret: %v", err)
	}
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(msgID + "." + timestamp + "." + body))
	return "v1," + base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func webhookRequest(body, msgID, timestamp, signature string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/identity", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if msgID != "" {
		req.Header.Set("svix-id", msgID)
	}
	if timestamp != "" {
		req.Header.Set("svix-timestamp", timestamp)
	}
	if signature != "" {
		req.Header.Set("svix-signature", signature)
	}
	return req
}

func TestIdentityWebhookCreatesUser(t *testing.T) {
	app, mem := newWebhookApp(t)

	body := `{"type":"user.created","data":{"id":"idp_123","first_name":"Alice","last_name":"Smith","email_addresses":[{"email_address":"alice@example.com"}]}}`
	sig := signPayload(t, "msg_1", "1717243200", body)

	resp, err := app.Test(webhookRequest(body, "msg_1", "1717243200", sig))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	u, err := mem.UserByExternalID(context.Background(), "idp_123")
	if err != nil {
		t.Fatalf("UserByExternalID: %v", err)
	}
	if u.Name != "Alice Smith" || u.Email != "alice@example.com" {
		t.Errorf("user not synced: %+v", u)
	}
}

func TestIdentityWebhookUpdatesExistingUser(t *testing.T) {
	app, mem := newWebhookApp(t)

	create := `{"type":"user.created","data":{"id":"idp_123","first_name":"Alice","email_addresses":[{"email_address":"alice@example.com"}]}}`
	resp, err := app.Test(webhookRequest(create, "msg_1", "100", signPayload(t, "msg_1", "100", create)))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create: status = %d, want 200", resp.StatusCode)
	}
	first, err := mem.UserByExternalID(context.Background(), "idp_123")
	if err != nil {
		t.Fatalf("UserByExternalID: %v", err)
	}

	update := `{"type":"user.updated","data":{"id":"idp_123","first_name":"Alicia","email_addresses":[{"email_address":"alicia@example.com"}]}}`
	resp, err = app.Test(webhookRequest(update, "msg_2", "200", signPayload(t, "msg_2", "200", update)))
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update: status = %d, want 200", resp.StatusCode)
	}

	second, err := mem.UserByExternalID(context.Background(), "idp_123")
	if err != nil {
		t.Fatalf("UserByExternalID after update: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("update created a second user: %s vs %s", first.ID, second.ID)
	}
	if second.Name != "Alicia" || second.Email != "alicia@example.com" {
		t.Errorf("profile not updated: %+v", second)
	}
}

func TestIdentityWebhookFallsBackToUsername(t *testing.T) {
	app, mem := newWebhookApp(t)

	body := `{"type":"user.created","data":{"id":"idp_9","username":"nameless","email_addresses":[]}}`
	resp, err := app.Test(webhookRequest(body, "msg_1", "100", signPayload(t, "msg_1", "100", body)))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	u, err := mem.UserByExternalID(context.Background(), "idp_9")
	if err != nil {
		t.Fatalf("UserByExternalID: %v", err)
	}
	if u.Name != "nameless" {
		t.Errorf("name = %q, want username fallback", u.Name)
	}
}

func TestIdentityWebhookRejectsBadSignature(t *testing.T) {
	app, mem := newWebhookApp(t)

	body := `{"type":"user.created","data":{"id":"idp_123","first_name":"Mallory"}}`
	resp, err := app.Test(webhookRequest(body, "msg_1", "100", "v1,bm90LWEtcmVhbC1zaWduYXR1cmU="))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if _, err := mem.UserByExternalID(context.Background(), "idp_123"); err != store.ErrNotFound {
		t.Errorf("forged event reached the store: %v", err)
	}
}

func TestIdentityWebhookRejectsTamperedBody(t *testing.T) {
	app, _ := newWebhookApp(t)

	body := `{"type":"user.created","data":{"id":"idp_123","first_name":"Alice"}}`
	sig := signPayload(t, "msg_1", "100", body)
	tampered := strings.Replace(body, "Alice", "Mallory", 1)

	resp, err := app.Test(webhookRequest(tampered, "msg_1", "100", sig))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestIdentityWebhookRefusesWithoutSecret(t *testing.T) {
	mem := store.NewMemory()
	users := services.NewUserService(mem, zap.NewNop().Sugar())
	app := fiber.New()
	app.Post("/webhooks/identity", IdentityWebhookHandler(users, "", zap.NewNop().Sugar()))

	body := `{"type":"user.created","data":{"id":"idp_123","first_name":"Alice"}}`
	resp, err := app.Test(webhookRequest(body, "msg_1", "100", "v1,irrelevant"))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}
	if _, err := mem.UserByExternalID(context.Background(), "idp_123"); err != store.ErrNotFound {
		t.Errorf("event processed without a configured secret: %v", err)
	}
}

func TestIdentityWebhookRequiresHeaders(t *testing.T) {
	app, _ := newWebhookApp(t)

	body := `{"type":"user.created","data":{"id":"idp_123"}}`
	resp, err := app.Test(webhookRequest(body, "", "", ""))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestIdentityWebhookIgnoresUnknownEventTypes(t *testing.T) {
	app, mem := newWebhookApp(t)

	body := `{"type":"session.created","data":{"id":"idp_123"}}`
	resp, err := app.Test(webhookRequest(body, "msg_1", "100", signPayload(t, "msg_1", "100", body)))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if _, err := mem.UserByExternalID(context.Background(), "idp_123"); err != store.ErrNotFound {
		t.Errorf("unexpected user created for unrelated event: %v", err)
	}
}
