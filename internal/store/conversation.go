package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/ridelink/chatsync/internal/chat"
)

// CreateConversation stores c and its participants. c.ParticipantIDs must
// already be normalized.
func (db *DB) CreateConversation(c chat.Conversation, createdAt time.Time) error {
	return db.inTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`
			INSERT INTO conversations (id, participant_key, title, last_message_text, last_message_at, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			c.ID, chat.ParticipantKey(c.ParticipantIDs), c.Title, c.LastMessageText,
			toMillis(c.LastMessageAt), createdAt.UnixMilli()); err != nil {
			return fmt.Errorf("insert conversation: %w", err)
		}
		for _, userID := range c.ParticipantIDs {
			if _, err := tx.Exec(`
				INSERT INTO participants (conversation_id, user_id, unread_count)
				VALUES (?, ?, 0)`, c.ID, userID); err != nil {
				return fmt.Errorf("insert participant %s: %w", userID, err)
			}
		}
		return nil
	})
}

// FindConversation returns the oldest conversation with exactly this
// participant set and title, or nil when there is none.
func (db *DB) FindConversation(participantIDs []string, title, viewerID string) (*chat.Conversation, error) {
	var id string
	err := db.QueryRow(`
		SELECT id FROM conversations
		WHERE participant_key = ? AND title = ?
		ORDER BY created_at
		LIMIT 1`, chat.ParticipantKey(participantIDs), title).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return db.GetConversation(id, viewerID)
}

// GetConversation returns a conversation as viewerID sees it, with viewerID's
// unread counter. Returns nil when it does not exist.
func (db *DB) GetConversation(id, viewerID string) (*chat.Conversation, error) {
	var (
		c      chat.Conversation
		lastAt sql.NullInt64
	)
	err := db.QueryRow(`
		SELECT c.id, c.title, c.last_message_text, c.last_message_at, COALESCE(p.unread_count, 0)
		FROM conversations c
		LEFT JOIN participants p ON p.conversation_id = c.id AND p.user_id = ?
		WHERE c.id = ?`, viewerID, id).
		Scan(&c.ID, &c.Title, &c.LastMessageText, &lastAt, &c.UnreadCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.LastMessageAt = fromMillis(lastAt)
	if c.ParticipantIDs, err = db.Participants(id); err != nil {
		return nil, err
	}
	return &c, nil
}

// ListConversations returns the conversations userID takes part in, most
// recent activity first; conversations without messages come last, newest
// first.
func (db *DB) ListConversations(userID string) ([]chat.Conversation, error) {
	rows, err := db.Query(`
		SELECT c.id, c.title, c.last_message_text, c.last_message_at, p.unread_count
		FROM conversations c
		JOIN participants p ON p.conversation_id = c.id
		WHERE p.user_id = ?
		ORDER BY c.last_message_at IS NULL, c.last_message_at DESC, c.created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	var convs []chat.Conversation
	index := make(map[string]int)
	for rows.Next() {
		var (
			c      chat.Conversation
			lastAt sql.NullInt64
		)
		if err := rows.Scan(&c.ID, &c.Title, &c.LastMessageText, &lastAt, &c.UnreadCount); err != nil {
			_ = rows.Close()
			return nil, err
		}
		c.LastMessageAt = fromMillis(lastAt)
		index[c.ID] = len(convs)
		convs = append(convs, c)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	members, err := db.Query(`
		SELECT conversation_id, user_id FROM participants
		WHERE conversation_id IN (SELECT conversation_id FROM participants WHERE user_id = ?)
		ORDER BY user_id`, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = members.Close() }()
	for members.Next() {
		var convID, member string
		if err := members.Scan(&convID, &member); err != nil {
			return nil, err
		}
		if i, ok := index[convID]; ok {
			convs[i].ParticipantIDs = append(convs[i].ParticipantIDs, member)
		}
	}
	return convs, members.Err()
}

// Participants returns the user ids of a conversation, sorted.
func (db *DB) Participants(conversationID string) ([]string, error) {
	rows, err := db.Query(`
		SELECT user_id FROM participants
		WHERE conversation_id = ?
		ORDER BY user_id`, conversationID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// IsParticipant reports whether userID belongs to the conversation.
func (db *DB) IsParticipant(conversationID, userID string) (bool, error) {
	var n int
	err := db.QueryRow(`
		SELECT COUNT(*) FROM participants
		WHERE conversation_id = ? AND user_id = ?`, conversationID, userID).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func toMillis(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UnixMilli()
}

func fromMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}
