package models

import "time"

// TypingIndicator is an ephemeral per-(conversation,user) mark. A mark
// older than the liveness window is treated as absent by readers even if
// it has not been physically deleted.
type TypingIndicator struct {
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type TypingRequest struct {
	IsTyping bool `json:"is_typing"`
}
