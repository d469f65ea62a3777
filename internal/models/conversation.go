package models

import "time"

// Conversation is a two-party chat. At most one exists per unordered pair
// of users; the store enforces this with a unique key over the sorted
// participant ids.
type Conversation struct {
	ID                 string    `json:"id"`
	ParticipantIDs     []string  `json:"participant_ids"`
	LastMessageTime    time.Time `json:"last_message_time"`
	LastMessagePreview *string   `json:"last_message_preview,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

// HasParticipant reports whether userID is one of the two members.
func (c *Conversation) HasParticipant(userID string) bool {
	for _, id := range c.ParticipantIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// OtherParticipant returns the member that is not userID. Empty string if
// userID is not a member.
func (c *Conversation) OtherParticipant(userID string) string {
	for _, id := range c.ParticipantIDs {
		if id != userID {
			return id
		}
	}
	return ""
}

// ConversationSummary is a list item: the conversation plus the other
// participant and the caller's unread count.
type ConversationSummary struct {
	Conversation
	OtherUser   *User `json:"other_user"`
	UnreadCount int   `json:"unread_count"`
}

// ConversationDetail is the single-conversation view.
type ConversationDetail struct {
	Conversation
	OtherUser   *User `json:"other_user"`
	CurrentUser *User `json:"current_user"`
}

type CreateConversationRequest struct {
	OtherUserID string `json:"other_user_id"`
}

type ConversationResponse struct {
	ConversationID string `json:"conversation_id"`
}
