package sqlstore

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/vanish-chat/vanish/internal/models"
)

// GetOrCreateChat returns the chat for the unordered pair, creating the
// row on first contact. The pair is normalized so (a,b) and (b,a) map to
// one row.
func (s *SQLStore) GetOrCreateChat(userA, userB int) (*models.Chat, error) {
	if userA > userB {
		userA, userB = userB, userA
	}

	chat := &models.Chat{}
	query := s.rebind("SELECT id, user_a, user_b FROM chats WHERE user_a = ? AND user_b = ?")
	err := s.db.QueryRow(query, userA, userB).Scan(&chat.ID, &chat.UserAID, &chat.UserBID)
	if err == nil {
		return chat, nil
	}
	if err != sql.ErrNoRows {
		return nil, err
	}

	var id int
	query = s.rebind("INSERT INTO chats (user_a, user_b) VALUES (?, ?) RETURNING id")
	if err := s.db.QueryRow(query, userA, userB).Scan(&id); err != nil {
		return nil, err
	}
	return &models.Chat{ID: id, UserAID: userA, UserBID: userB}, nil
}

func (s *SQLStore) GetChat(chatID int) (*models.Chat, error) {
	chat := &models.Chat{}
	query := s.rebind("SELECT id, user_a, user_b FROM chats WHERE id = ?")
	err := s.db.QueryRow(query, chatID).Scan(&chat.ID, &chat.UserAID, &chat.UserBID)
	if err != nil {
		return nil, err
	}
	return chat, nil
}

func (s *SQLStore) IsParticipant(chatID, userID int) (bool, error) {
	var exists bool
	query := s.rebind("SELECT EXISTS(SELECT 1 FROM chats WHERE id = ? AND (user_a = ? OR user_b = ?))")
	err := s.db.QueryRow(query, chatID, userID, userID).Scan(&exists)
	return exists, err
}

// GetUserChats lists the user's chats with that user's unread counter and
// cutoff, plus the last surviving message for preview. Expired last
// messages are filtered out even if the sweeper has not caught up yet.
func (s *SQLStore) GetUserChats(userID int, now time.Time) ([]models.Chat, error) {
	// cutoff_a/cutoff_b are selected as plain columns: wrapping them in a
	// CASE strips the DATETIME decltype on sqlite and the driver hands
	// back a string that sql.NullTime cannot scan. The caller's side is
	// picked in Go instead.
	query := s.rebind(`
		SELECT c.id, c.user_a, c.user_b,
			CASE WHEN c.user_a = ? THEN c.unread_a ELSE c.unread_b END,
			c.cutoff_a, c.cutoff_b,
			c.last_message_id
		FROM chats c
		WHERE c.user_a = ? OR c.user_b = ?
		ORDER BY c.id
	`)
	rows, err := s.db.Query(query, userID, userID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chats []models.Chat
	var lastIDs []sql.NullInt64
	for rows.Next() {
		var chat models.Chat
		var cutoffA, cutoffB sql.NullTime
		var lastID sql.NullInt64
		if err := rows.Scan(&chat.ID, &chat.UserAID, &chat.UserBID, &chat.Unread, &cutoffA, &cutoffB, &lastID); err != nil {
			return nil, err
		}
		if chat.UserAID == userID {
			chat.Cutoff = scanTime(cutoffA)
		} else {
			chat.Cutoff = scanTime(cutoffB)
		}
		chats = append(chats, chat)
		lastIDs = append(lastIDs, lastID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range chats {
		if !lastIDs[i].Valid {
			continue
		}
		msg, err := s.getMessage(int(lastIDs[i].Int64), now)
		if err != nil {
			return nil, err
		}
		chats[i].LastMessage = msg
	}
	return chats, nil
}

// SetCutoff records the caller's "delete chat for me" timestamp. The
// peer's view is unaffected; the column only feeds the caller's own
// client, never authorization.
func (s *SQLStore) SetCutoff(chatID, userID int, at time.Time) error {
	return s.updateCutoff(chatID, userID, at.UTC())
}

// ClearCutoff reactivates the chat for the caller.
func (s *SQLStore) ClearCutoff(chatID, userID int) error {
	return s.updateCutoff(chatID, userID, nil)
}

func (s *SQLStore) updateCutoff(chatID, userID int, at interface{}) error {
	affected := int64(0)
	for _, side := range []string{"a", "b"} {
		query := s.rebind(fmt.Sprintf("UPDATE chats SET cutoff_%s = ? WHERE id = ? AND user_%s = ?", side, side))
		result, err := s.db.Exec(query, at, chatID, userID)
		if err != nil {
			return err
		}
		n, err := result.RowsAffected()
		if err != nil {
			return err
		}
		affected += n
	}
	if affected == 0 {
		return fmt.Errorf("user %d is not a participant of chat %d", userID, chatID)
	}
	return nil
}
