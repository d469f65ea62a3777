package models

import "time"

// User is a chat account synced from the identity provider (or created by
// the bundled local register endpoint). Users are never deleted.
type User struct {
	ID         string    `json:"id"`
	ExternalID string    `json:"-"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	ImageURL   *string   `json:"image_url,omitempty"`
	IsOnline   bool      `json:"is_online"`
	LastSeen   time.Time `json:"last_seen"`
	CreatedAt  time.Time `json:"created_at"`
}

type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	User         *User  `json:"user"`
}

type PresenceRequest struct {
	IsOnline bool `json:"is_online"`
}
