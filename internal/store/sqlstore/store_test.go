package sqlstore

import (
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/vanish-chat/vanish/internal/models"
)

var testStore *SQLStore

func SetupTestDB(t *testing.T) {
	var err error
	testStore, err = New("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
}

func TeardownTestDB() {
	testStore.db.Close()
}

func createTestUser(t *testing.T, username string) *models.User {
	err := testStore.CreateUser(&models.User{
		Username: username,
		Email:    username + "@example.com",
		Password: "pass",
	})
	if err != nil {
		t.Fatalf("Failed to create user %s: %v", username, err)
	}
	user, err := testStore.GetUserByUsername(username)
	if err != nil {
		t.Fatalf("Failed to load user %s: %v", username, err)
	}
	return user
}

func saveTestMessage(t *testing.T, chatID, senderID, receiverID int, content string, expiresAt *time.Time) *models.Message {
	msg := &models.Message{
		ChatID:     chatID,
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    content,
		Type:       models.MessageTypeText,
		CreatedAt:  time.Now().UTC(),
		ExpiresAt:  expiresAt,
	}
	if err := testStore.SaveMessage(msg); err != nil {
		t.Fatalf("Failed to save message: %v", err)
	}
	return msg
}
