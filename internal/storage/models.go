package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist or is
// owned by a different user.
var ErrNotFound = errors.New("not found")

// Conversation is a chat conversation owned by a single user. It is
// returned verbatim by the conversations API, hence the JSON tags.
type Conversation struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	Title         string    `json:"title"`
	LastMessageAt time.Time `json:"last_message_at"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// MessageRow is a persisted chat message. Parts and Metadata hold
// JSON-encoded structured content; Metadata is empty when NULL.
type MessageRow struct {
	ID             string
	ConversationID string
	UserID         string
	Role           string
	Parts          string
	Metadata       string
	MessageIndex   int
	CreatedAt      time.Time
}
