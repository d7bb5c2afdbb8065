// Package conversation persists chat conversations and their ordered
// message history, scoped to an owning user.
package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/stridelabs/stride/internal/storage"
)

// FallbackTitle is used when title generation fails or the first message
// carries no text.
const FallbackTitle = "New Conversation"

// TitleGenerator produces a short title from the first user message. The
// llm package provides the production implementation.
type TitleGenerator interface {
	GenerateTitle(ctx context.Context, firstMessage string) (string, error)
}

// Store owns conversation metadata and message history.
type Store struct {
	db     *storage.Store
	titles TitleGenerator
	logger *slog.Logger
}

// NewStore creates a conversation store. titles may be nil, in which case
// every conversation gets the fallback title.
func NewStore(db *storage.Store, titles TitleGenerator) *Store {
	return &Store{db: db, titles: titles, logger: slog.Default()}
}

// Exists reports whether the conversation exists for userID.
func (s *Store) Exists(ctx context.Context, userID, id string) (bool, error) {
	return s.db.ConversationExists(userID, id)
}

// Create inserts a conversation row, deriving the title from the first
// message's text. Title generation failure is non-fatal: the fallback title
// is used and the failure logged.
func (s *Store) Create(ctx context.Context, userID, id string, first Message) error {
	title := FallbackTitle
	if text := first.FirstText(); text != "" && first.Role == RoleUser && s.titles != nil {
		generated, err := s.titles.GenerateTitle(ctx, text)
		if err != nil {
			s.logger.Warn("title generation failed, using fallback",
				"conversation_id", id, "error", err)
		} else {
			title = generated
		}
	}

	now := time.Now().UTC()
	return s.db.InsertConversation(storage.Conversation{
		ID:            id,
		UserID:        userID,
		Title:         title,
		LastMessageAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
}

// Save persists the complete ordered message list for the conversation,
// creating the conversation lazily from the first message when it does not
// exist yet. Callers pass the full history each time; message_index is
// assigned by position.
func (s *Store) Save(ctx context.Context, userID, id string, msgs []Message) error {
	if len(msgs) == 0 {
		return fmt.Errorf("messages must not be empty")
	}

	exists, err := s.db.ConversationExists(userID, id)
	if err != nil {
		return fmt.Errorf("checking conversation: %w", err)
	}
	if !exists {
		if err := s.Create(ctx, userID, id, msgs[0]); err != nil {
			return fmt.Errorf("creating conversation: %w", err)
		}
	}

	rows := make([]storage.MessageRow, len(msgs))
	for i, m := range msgs {
		parts, err := json.Marshal(m.Parts)
		if err != nil {
			return fmt.Errorf("encoding parts for message %s: %w", m.ID, err)
		}
		rows[i] = storage.MessageRow{
			ID:       m.ID,
			Role:     m.Role,
			Parts:    string(parts),
			Metadata: string(m.Metadata),
		}
	}
	return s.db.UpsertMessages(userID, id, rows)
}

// Load returns the conversation metadata and its messages ordered by
// message_index. A missing or foreign-owned conversation yields
// storage.ErrNotFound.
func (s *Store) Load(ctx context.Context, userID, id string) (storage.Conversation, []Message, error) {
	conv, err := s.db.GetConversation(userID, id)
	if err != nil {
		return storage.Conversation{}, nil, err
	}

	rows, err := s.db.GetMessages(userID, id)
	if err != nil {
		return storage.Conversation{}, nil, fmt.Errorf("loading messages: %w", err)
	}

	msgs := make([]Message, len(rows))
	for i, r := range rows {
		m := Message{ID: r.ID, Role: r.Role}
		if err := json.Unmarshal([]byte(r.Parts), &m.Parts); err != nil {
			return storage.Conversation{}, nil, fmt.Errorf("decoding parts for message %s: %w", r.ID, err)
		}
		if r.Metadata != "" {
			m.Metadata = json.RawMessage(r.Metadata)
		}
		msgs[i] = m
	}
	return conv, msgs, nil
}

// List returns the user's conversations, most recently active first.
func (s *Store) List(ctx context.Context, userID string) ([]storage.Conversation, error) {
	return s.db.ListConversations(userID)
}

// Delete removes the conversation and, via cascade, its messages.
func (s *Store) Delete(ctx context.Context, userID, id string) error {
	return s.db.DeleteConversation(userID, id)
}

// UpdateTitle sets a new title on the user's conversation.
func (s *Store) UpdateTitle(ctx context.Context, userID, id, title string) error {
	if title == "" {
		return fmt.Errorf("title must not be empty")
	}
	return s.db.UpdateConversationTitle(userID, id, title)
}
