// Package session persists conversation sessions and their messages in
// PostgreSQL. A session is an ordered transcript; messages are append-only
// and deleting a session removes its messages with it.
package session

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Valid message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Sentinel errors, checked with errors.Is.
var (
	// ErrSessionNotFound indicates the requested session does not exist.
	ErrSessionNotFound = errors.New("session not found")

	// ErrInvalidRole indicates a message role outside user/assistant.
	ErrInvalidRole = errors.New("invalid message role")
)

// Session is one conversation. UpdatedAt moves on every rename and on every
// appended message, which is what keeps recently active sessions at the top
// of listings.
type Session struct {
	ID        uuid.UUID `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Message is one transcript entry. Messages are never edited or deleted
// individually.
type Message struct {
	ID        uuid.UUID `json:"id"`
	SessionID uuid.UUID `json:"sessionId"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}
