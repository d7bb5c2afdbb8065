package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// ConversationExists reports whether the conversation exists and belongs to userID.
func (s *Store) ConversationExists(userID, id string) (bool, error) {
	var n int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM conversations WHERE id = ? AND user_id = ?", id, userID,
	).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// InsertConversation creates a conversation row.
func (s *Store) InsertConversation(c Conversation) error {
	_, err := s.db.Exec(`
		INSERT INTO conversations (id, user_id, title, last_message_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.UserID, c.Title,
		c.LastMessageAt.UTC().Format(time.RFC3339),
		c.CreatedAt.UTC().Format(time.RFC3339),
		c.UpdatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

// GetConversation returns the conversation owned by userID, or ErrNotFound.
func (s *Store) GetConversation(userID, id string) (Conversation, error) {
	var c Conversation
	var lastMessageAt, createdAt, updatedAt string
	err := s.db.QueryRow(`
		SELECT id, user_id, title, last_message_at, created_at, updated_at
		FROM conversations WHERE id = ? AND user_id = ?`, id, userID,
	).Scan(&c.ID, &c.UserID, &c.Title, &lastMessageAt, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return Conversation{}, ErrNotFound
	}
	if err != nil {
		return Conversation{}, err
	}
	if c.LastMessageAt, err = time.Parse(time.RFC3339, lastMessageAt); err != nil {
		return Conversation{}, fmt.Errorf("parsing last_message_at: %w", err)
	}
	if c.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return Conversation{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if c.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return Conversation{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return c, nil
}

// ListConversations returns all conversations for userID, most recently
// active first.
func (s *Store) ListConversations(userID string) ([]Conversation, error) {
	rows, err := s.db.Query(`
		SELECT id, user_id, title, last_message_at, created_at, updated_at
		FROM conversations WHERE user_id = ?
		ORDER BY last_message_at DESC`, userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Conversation
	for rows.Next() {
		var c Conversation
		var lastMessageAt, createdAt, updatedAt string
		if err := rows.Scan(&c.ID, &c.UserID, &c.Title, &lastMessageAt, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		if c.LastMessageAt, err = time.Parse(time.RFC3339, lastMessageAt); err != nil {
			return nil, fmt.Errorf("parsing last_message_at: %w", err)
		}
		if c.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		if c.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
			return nil, fmt.Errorf("parsing updated_at: %w", err)
		}
		results = append(results, c)
	}
	return results, rows.Err()
}

// DeleteConversation removes the conversation owned by userID; messages are
// removed by the cascade. Returns ErrNotFound when no row matches.
func (s *Store) DeleteConversation(userID, id string) error {
	res, err := s.db.Exec("DELETE FROM conversations WHERE id = ? AND user_id = ?", id, userID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateConversationTitle updates the title of the conversation owned by userID.
func (s *Store) UpdateConversationTitle(userID, id, title string) error {
	res, err := s.db.Exec(`
		UPDATE conversations SET title = ?, updated_at = ?
		WHERE id = ? AND user_id = ?`,
		title, time.Now().UTC().Format(time.RFC3339), id, userID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpsertMessages writes the full ordered message list for a conversation in
// one transaction and bumps the conversation's activity timestamps. Each
// message is keyed by its own ID; on conflict only parts and metadata are
// overwritten, and only when the existing row belongs to the same user and
// conversation — role, index, and ownership stay as first written, and an ID
// collision with another owner's row fails the save with ErrNotFound.
func (s *Store) UpsertMessages(userID, conversationID string, msgs []MessageRow) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning save transaction: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO messages (id, conversation_id, user_id, role, parts, metadata, message_index, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET parts = excluded.parts, metadata = excluded.metadata
		WHERE messages.user_id = excluded.user_id AND messages.conversation_id = excluded.conversation_id`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("preparing message upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for i, m := range msgs {
		createdAt := m.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		var metadata any
		if m.Metadata != "" {
			metadata = m.Metadata
		}
		res, err := stmt.Exec(m.ID, conversationID, userID, m.Role, m.Parts, metadata, i, createdAt.Format(time.RFC3339))
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("upserting message %s: %w", m.ID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("upserting message %s: %w", m.ID, err)
		}
		if n == 0 {
			// The guarded conflict clause skipped the update: the ID exists
			// under another owner or conversation.
			tx.Rollback()
			return fmt.Errorf("upserting message %s: %w", m.ID, ErrNotFound)
		}
	}

	nowStr := now.Format(time.RFC3339)
	if _, err := tx.Exec(`
		UPDATE conversations SET last_message_at = ?, updated_at = ?
		WHERE id = ? AND user_id = ?`, nowStr, nowStr, conversationID, userID); err != nil {
		tx.Rollback()
		return fmt.Errorf("updating conversation activity: %w", err)
	}

	return tx.Commit()
}

// GetMessages returns all messages of the conversation owned by userID,
// ordered by message_index ascending.
func (s *Store) GetMessages(userID, conversationID string) ([]MessageRow, error) {
	rows, err := s.db.Query(`
		SELECT id, conversation_id, user_id, role, parts, metadata, message_index, created_at
		FROM messages WHERE conversation_id = ? AND user_id = ?
		ORDER BY message_index ASC`, conversationID, userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []MessageRow
	for rows.Next() {
		var m MessageRow
		var metadata sql.NullString
		var createdAt string
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.UserID, &m.Role, &m.Parts, &metadata, &m.MessageIndex, &createdAt); err != nil {
			return nil, err
		}
		m.Metadata = metadata.String
		if m.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at for message %s: %w", m.ID, err)
		}
		results = append(results, m)
	}
	return results, rows.Err()
}

// CountMessages returns the number of messages in a conversation owned by userID.
func (s *Store) CountMessages(userID, conversationID string) (int, error) {
	var n int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM messages WHERE conversation_id = ? AND user_id = ?",
		conversationID, userID,
	).Scan(&n)
	return n, err
}
