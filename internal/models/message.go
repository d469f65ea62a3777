package models

import "time"

// Reaction is a single (emoji, user) entry on a message. The store keeps
// at most one entry per pair.
type Reaction struct {
	Emoji  string `json:"emoji"`
	UserID string `json:"user_id"`
}

// Message is an append-only record in a conversation. CreatedAt is the
// ordering key and never changes. A soft-deleted message keeps its row
// and position; only the body is hidden from readers.
type Message struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversation_id"`
	SenderID       string     `json:"sender_id"`
	Body           string     `json:"body"`
	CreatedAt      time.Time  `json:"created_at"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty"`
	Reactions      []Reaction `json:"reactions"`
}

// Deleted reports whether the message has been soft-deleted.
func (m *Message) Deleted() bool {
	return m.DeletedAt != nil
}

// MessageView is a message enriched with its sender, as returned to
// readers. For soft-deleted messages Body is empty and Deleted is true.
type MessageView struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversation_id"`
	SenderID       string     `json:"sender_id"`
	Sender         *User      `json:"sender"`
	Body           string     `json:"body"`
	Deleted        bool       `json:"deleted"`
	CreatedAt      time.Time  `json:"created_at"`
	Reactions      []Reaction `json:"reactions"`
}

type SendMessageRequest struct {
	Body string `json:"body"`
}

type ReactionRequest struct {
	Emoji string `json:"emoji"`
}
