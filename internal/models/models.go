package models

import "time"

// Message content types carried in the message_type field.
const (
	MessageTypeText  = "text"
	MessageTypeImage = "image"
	MessageTypeFile  = "file"
)

type User struct {
	ID                  int    `json:"id"`
	Username            string `json:"username"`
	Email               string `json:"email"`
	Password            string `json:"-"`
	PublicKey           string `json:"public_key"`
	EncryptedPrivateKey string `json:"encrypted_private_key"`
	IsVerified          bool   `json:"is_verified"`
	VerificationToken   string `json:"-"`
}

// Chat is an unordered pair of participants. UserAID is always the smaller
// id so the pair has a single canonical row. Unread and Cutoff carry the
// requesting user's side when loaded through the store.
type Chat struct {
	ID          int        `json:"id"`
	UserAID     int        `json:"user_a_id"`
	UserBID     int        `json:"user_b_id"`
	Unread      int        `json:"unread"`
	Cutoff      *time.Time `json:"cutoff,omitempty"`
	LastMessage *Message   `json:"last_message,omitempty"`
}

// Peer returns the other participant of the chat.
func (c *Chat) Peer(userID int) int {
	if c.UserAID == userID {
		return c.UserBID
	}
	return c.UserAID
}

// Message is a persisted chat message. Content is either a serialized
// envelope or, for legacy rows, plaintext. A nil ExpiresAt means the
// message never self-destructs.
type Message struct {
	ID         int        `json:"id"`
	ChatID     int        `json:"chat_id"`
	SenderID   int        `json:"sender_id"`
	ReceiverID int        `json:"receiver_id"`
	Content    string     `json:"content"`
	Type       string     `json:"message_type"`
	FileName   string     `json:"file_name,omitempty"`
	FileSize   int64      `json:"file_size,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	Read       bool       `json:"read"`
}
