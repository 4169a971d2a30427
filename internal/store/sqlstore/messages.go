package sqlstore

import (
	"database/sql"
	"time"

	"github.com/vanish-chat/vanish/internal/models"
)

// SaveMessage persists a message, bumps the receiver's unread counter
// and updates the chat's last-message pointer in one transaction. The
// generated id is written back to msg.
func (s *SQLStore) SaveMessage(msg *models.Message) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := s.rebind(`
		INSERT INTO messages (chat_id, sender_id, receiver_id, content, message_type, file_name, file_size, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id
	`)
	err = tx.QueryRow(query,
		msg.ChatID, msg.SenderID, msg.ReceiverID, msg.Content, msg.Type,
		msg.FileName, msg.FileSize, msg.CreatedAt.UTC(), nullableTime(msg.ExpiresAt),
	).Scan(&msg.ID)
	if err != nil {
		return err
	}

	var userA int
	query = s.rebind("SELECT user_a FROM chats WHERE id = ?")
	if err := tx.QueryRow(query, msg.ChatID).Scan(&userA); err != nil {
		return err
	}

	// Row-scoped increment, no read-then-write on the counter itself.
	unreadCol := "unread_b"
	if msg.ReceiverID == userA {
		unreadCol = "unread_a"
	}
	query = s.rebind("UPDATE chats SET last_message_id = ?, " + unreadCol + " = " + unreadCol + " + 1 WHERE id = ?")
	if _, err := tx.Exec(query, msg.ID, msg.ChatID); err != nil {
		return err
	}

	return tx.Commit()
}

// GetChatMessages returns the chat's messages with expired rows filtered
// out. expires_at is the sole server-side visibility authority; local
// cutoffs never reach this query.
func (s *SQLStore) GetChatMessages(chatID int, now time.Time) ([]models.Message, error) {
	query := s.rebind(`
		SELECT id, chat_id, sender_id, receiver_id, content, message_type,
			COALESCE(file_name, ''), COALESCE(file_size, 0), created_at, expires_at, is_read
		FROM messages
		WHERE chat_id = ? AND (expires_at IS NULL OR expires_at > ?)
		ORDER BY created_at ASC, id ASC
	`)
	rows, err := s.db.Query(query, chatID, now.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var m models.Message
		var expires sql.NullTime
		if err := rows.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.ReceiverID, &m.Content, &m.Type,
			&m.FileName, &m.FileSize, &m.CreatedAt, &expires, &m.Read); err != nil {
			return nil, err
		}
		m.CreatedAt = m.CreatedAt.UTC()
		m.ExpiresAt = scanTime(expires)
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func (s *SQLStore) getMessage(id int, now time.Time) (*models.Message, error) {
	query := s.rebind(`
		SELECT id, chat_id, sender_id, receiver_id, content, message_type,
			COALESCE(file_name, ''), COALESCE(file_size, 0), created_at, expires_at, is_read
		FROM messages
		WHERE id = ? AND (expires_at IS NULL OR expires_at > ?)
	`)
	var m models.Message
	var expires sql.NullTime
	err := s.db.QueryRow(query, id, now.UTC()).Scan(&m.ID, &m.ChatID, &m.SenderID, &m.ReceiverID,
		&m.Content, &m.Type, &m.FileName, &m.FileSize, &m.CreatedAt, &expires, &m.Read)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	m.CreatedAt = m.CreatedAt.UTC()
	m.ExpiresAt = scanTime(expires)
	return &m, nil
}

// MarkChatRead flips the read flag on every unread, non-expired message
// addressed to the reader in the chat and resets the reader's unread
// counter, atomically. It returns the affected message ids so the sender
// can be notified with a receipt.
func (s *SQLStore) MarkChatRead(chatID, readerID int, now time.Time) ([]int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	query := s.rebind(`
		UPDATE messages SET is_read = TRUE
		WHERE chat_id = ? AND receiver_id = ? AND is_read = FALSE
			AND (expires_at IS NULL OR expires_at > ?)
		RETURNING id
	`)
	rows, err := tx.Query(query, chatID, readerID, now.UTC())
	if err != nil {
		return nil, err
	}
	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for _, side := range []string{"a", "b"} {
		query = s.rebind("UPDATE chats SET unread_" + side + " = 0 WHERE id = ? AND user_" + side + " = ?")
		if _, err := tx.Exec(query, chatID, readerID); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ids, nil
}

// DeleteExpired hard-deletes every message whose expiry has passed and
// clears any chat last-message pointer referencing a deleted row.
func (s *SQLStore) DeleteExpired(now time.Time) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	query := s.rebind(`
		UPDATE chats SET last_message_id = NULL
		WHERE last_message_id IN (SELECT id FROM messages WHERE expires_at IS NOT NULL AND expires_at <= ?)
	`)
	if _, err := tx.Exec(query, now.UTC()); err != nil {
		return 0, err
	}

	query = s.rebind("DELETE FROM messages WHERE expires_at IS NOT NULL AND expires_at <= ?")
	result, err := tx.Exec(query, now.UTC())
	if err != nil {
		return 0, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}

	return n, tx.Commit()
}
