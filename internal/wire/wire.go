// Package wire defines the JSON frames exchanged over the websocket
// channel. Both the server hub and the client session speak this format.
package wire

import "github.com/vanish-chat/vanish/internal/models"

// Frame type tags.
const (
	TypeJoin        = "join"         // client -> server: authenticate the connection
	TypePing        = "ping"         // client -> server: keepalive
	TypeMessage     = "message"      // client -> server: send a message
	TypeTyping      = "typing"       // bidirectional: typing indicator
	TypeNewMessage  = "new_message"  // server -> client: persisted message delivery
	TypeUserStatus  = "user_status"  // server -> client: presence delta
	TypeOnlineUsers = "online_users" // server -> client: presence snapshot
	TypeMessageRead = "message_read" // server -> client: read receipt
)

// Frame is a single duplex frame. Type selects which fields are meaningful;
// everything else is omitted on the wire.
type Frame struct {
	Type string `json:"type"`

	// join / ping
	Token     string `json:"token,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`

	// message / typing
	ChatID        int    `json:"chat_id,omitempty"`
	SenderID      int    `json:"sender_id,omitempty"`
	ReceiverID    int    `json:"receiver_id,omitempty"`
	Content       string `json:"content,omitempty"`
	MessageType   string `json:"message_type,omitempty"`
	DestructTimer int    `json:"destruct_timer,omitempty"` // seconds, 0 = never
	FileName      string `json:"file_name,omitempty"`
	FileSize      int64  `json:"file_size,omitempty"`
	IsTyping      bool   `json:"is_typing,omitempty"`

	// new_message
	Message *models.Message `json:"message,omitempty"`

	// user_status / online_users
	UserID   int   `json:"user_id,omitempty"`
	IsOnline bool  `json:"is_online,omitempty"`
	UserIDs  []int `json:"user_ids,omitempty"`

	// message_read
	MessageIDs []int `json:"message_ids,omitempty"`
	ReaderID   int   `json:"reader_id,omitempty"`
}
