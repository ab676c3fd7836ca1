package store

import (
	"database/sql"
	"fmt"
	"slices"
	"time"

	"github.com/ridelink/chatsync/internal/chat"
)

// InsertMessage stores m, makes it the conversation's latest activity and
// counts it as unread for every participant except the sender.
func (db *DB) InsertMessage(m chat.Message) error {
	if m.Status == "" {
		m.Status = chat.StatusSent
	}
	at := m.CreatedAt.UnixMilli()
	return db.inTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`
			INSERT INTO messages (id, conversation_id, sender_id, content, status, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			m.ID, m.ConversationID, m.SenderID, m.Content, string(m.Status), at); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		if _, err := tx.Exec(`
			UPDATE conversations SET last_message_text = ?, last_message_at = ?
			WHERE id = ? AND (last_message_at IS NULL OR last_message_at <= ?)`,
			m.Content, at, m.ConversationID, at); err != nil {
			return fmt.Errorf("update conversation activity: %w", err)
		}
		if _, err := tx.Exec(`
			UPDATE participants SET unread_count = unread_count + 1
			WHERE conversation_id = ? AND user_id != ?`,
			m.ConversationID, m.SenderID); err != nil {
			return fmt.Errorf("count unread: %w", err)
		}
		return nil
	})
}

// ListMessages returns the latest limit messages of a conversation in
// ascending order of creation, insertion order breaking ties.
func (db *DB) ListMessages(conversationID string, limit int) ([]chat.Message, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := db.Query(`
		SELECT id, conversation_id, sender_id, content, status, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at DESC, seq DESC
		LIMIT ?`, conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []chat.Message
	for rows.Next() {
		var (
			m      chat.Message
			status string
			at     int64
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &status, &at); err != nil {
			return nil, err
		}
		m.Status = chat.MessageStatus(status)
		m.CreatedAt = time.UnixMilli(at).UTC()
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.Reverse(msgs)
	return msgs, nil
}

// MarkRead zeroes readerID's unread counter and marks every message the
// other participants sent as read. Returns how many messages changed.
func (db *DB) MarkRead(conversationID, readerID string) (int64, error) {
	var flipped int64
	err := db.inTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`
			UPDATE participants SET unread_count = 0
			WHERE conversation_id = ? AND user_id = ?`, conversationID, readerID); err != nil {
			return fmt.Errorf("reset unread: %w", err)
		}
		res, err := tx.Exec(`
			UPDATE messages SET status = ?
			WHERE conversation_id = ? AND sender_id != ? AND status != ?`,
			string(chat.StatusRead), conversationID, readerID, string(chat.StatusRead))
		if err != nil {
			return fmt.Errorf("mark messages read: %w", err)
		}
		flipped, err = res.RowsAffected()
		return err
	})
	return flipped, err
}
