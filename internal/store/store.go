package store

import (
	"time"

	"github.com/vanish-chat/vanish/internal/models"
)

type Store interface {
	// User operations
	CreateUser(user *models.User) error
	GetUserByUsername(username string) (*models.User, error)
	GetUserByID(id int) (*models.User, error)
	SearchUsers(query string) ([]models.User, error)
	VerifyUser(token string) error

	// Chat operations
	GetOrCreateChat(userA, userB int) (*models.Chat, error)
	GetChat(chatID int) (*models.Chat, error)
	GetUserChats(userID int, now time.Time) ([]models.Chat, error)
	IsParticipant(chatID, userID int) (bool, error)
	SetCutoff(chatID, userID int, at time.Time) error
	ClearCutoff(chatID, userID int) error

	// Message lifecycle
	SaveMessage(msg *models.Message) error
	GetChatMessages(chatID int, now time.Time) ([]models.Message, error)
	MarkChatRead(chatID, readerID int, now time.Time) ([]int, error)
	DeleteExpired(now time.Time) (int64, error)

	// Blocking
	BlockUser(userID, blockedID int) error
	UnblockUser(userID, blockedID int) error
	IsBlocked(userID, blockedID int) (bool, error)
	GetBlockedUsers(userID int) ([]int, error)
}
