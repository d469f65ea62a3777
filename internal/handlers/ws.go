package handlers

import (
	"context"
	"encoding/json"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"dm-backend/internal/services"
)

// wsClientEvent is what clients send over the socket. The REST API is
// the primary surface; the socket carries only the chatty advisory
// signals (typing, read receipts) plus server pushes.
type wsClientEvent struct {
	Event          string `json:"event"`
	ConversationID string `json:"conversation_id"`
	IsTyping       bool   `json:"is_typing"`
}

// WebSocketHandler runs the per-connection read loop. Connecting marks
// the user online on their first connection; disconnecting marks them
// offline on their last. The core makes no assumption about when these
// happen beyond that, so flaky clients only ever toggle presence.
func WebSocketHandler(hub *ConnManager, users *services.UserService, convs *services.ConversationService, typing *services.TypingService, log *zap.SugaredLogger) fiber.Handler {
	return websocket.New(func(c *websocket.Conn) {
		userID, _ := c.Locals("user_id").(string)
		externalID, _ := c.Locals("external_id").(string)
		if userID == "" {
			_ = c.WriteJSON(map[string]string{"event": "error", "error": "unauthenticated"})
			c.Close()
			return
		}

		connID := uuid.NewString()
		ctx := context.Background()

		if first := hub.Register(userID, connID, c); first {
			if err := users.SetPresence(ctx, externalID, true); err != nil {
				log.Warnw("set presence online", "user_id", userID, "error", err)
			}
		}
		defer func() {
			if last := hub.Unregister(userID, connID); last {
				if err := users.SetPresence(ctx, externalID, false); err != nil {
					log.Warnw("set presence offline", "user_id", userID, "error", err)
				}
			}
			c.Close()
		}()

		_ = c.WriteJSON(map[string]string{"event": "connected"})

		for {
			msgType, msg, err := c.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Debugw("websocket closed", "user_id", userID, "error", err)
				}
				return
			}
			if msgType != websocket.TextMessage {
				continue
			}

			var evt wsClientEvent
			if err := json.Unmarshal(msg, &evt); err != nil {
				log.Debugw("bad websocket payload", "user_id", userID, "error", err)
				continue
			}

			switch evt.Event {
			case "typing":
				handleTyping(ctx, hub, convs, typing, userID, &evt, log)
			case "read":
				handleRead(ctx, hub, convs, userID, &evt, log)
			default:
				log.Debugw("unknown websocket event", "event", evt.Event)
			}
		}
	})
}

func handleTyping(ctx context.Context, hub *ConnManager, convs *services.ConversationService, typing *services.TypingService, userID string, evt *wsClientEvent, log *zap.SugaredLogger) {
	if err := typing.SetTyping(ctx, evt.ConversationID, userID, evt.IsTyping); err != nil {
		log.Debugw("set typing", "conversation_id", evt.ConversationID, "error", err)
		return
	}
	detail, err := convs.Get(ctx, userID, evt.ConversationID)
	if err != nil || detail.OtherUser == nil {
		return
	}
	hub.SendToUser(detail.OtherUser.ID, map[string]interface{}{
		"event":           "typing",
		"conversation_id": evt.ConversationID,
		"user_id":         userID,
		"is_typing":       evt.IsTyping,
	})
}

func handleRead(ctx context.Context, hub *ConnManager, convs *services.ConversationService, userID string, evt *wsClientEvent, log *zap.SugaredLogger) {
	if err := convs.MarkRead(ctx, userID, evt.ConversationID); err != nil {
		log.Debugw("mark read", "conversation_id", evt.ConversationID, "error", err)
		return
	}
	detail, err := convs.Get(ctx, userID, evt.ConversationID)
	if err != nil || detail.OtherUser == nil {
		return
	}
	hub.SendToUser(detail.OtherUser.ID, map[string]interface{}{
		"event":           "read",
		"conversation_id": evt.ConversationID,
		"user_id":         userID,
	})
}
