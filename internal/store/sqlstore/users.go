package sqlstore

import (
	"fmt"
	"strings"

	"github.com/vanish-chat/vanish/internal/models"
)

func (s *SQLStore) CreateUser(user *models.User) error {
	query := s.rebind("INSERT INTO users (username, email, password, public_key, encrypted_private_key, is_verified, verification_token) VALUES (?, ?, ?, ?, ?, ?, ?)")
	_, err := s.db.Exec(query, user.Username, user.Email, user.Password, user.PublicKey, user.EncryptedPrivateKey, user.IsVerified, user.VerificationToken)
	return err
}

func (s *SQLStore) GetUserByUsername(username string) (*models.User, error) {
	var user models.User
	query := s.rebind("SELECT id, username, email, password, COALESCE(public_key, ''), COALESCE(encrypted_private_key, ''), is_verified FROM users WHERE username = ?")

	err := s.db.QueryRow(query, username).Scan(&user.ID, &user.Username, &user.Email, &user.Password, &user.PublicKey, &user.EncryptedPrivateKey, &user.IsVerified)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *SQLStore) GetUserByID(id int) (*models.User, error) {
	var user models.User
	query := s.rebind("SELECT id, username, email, password, COALESCE(public_key, ''), COALESCE(encrypted_private_key, ''), is_verified FROM users WHERE id = ?")
	err := s.db.QueryRow(query, id).Scan(&user.ID, &user.Username, &user.Email, &user.Password, &user.PublicKey, &user.EncryptedPrivateKey, &user.IsVerified)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *SQLStore) SearchUsers(queryStr string) ([]models.User, error) {
	query := s.rebind("SELECT id, username, email, COALESCE(public_key, '') FROM users WHERE username LIKE ? LIMIT 10")
	rows, err := s.db.Query(query, "%"+queryStr+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var user models.User
		if err := rows.Scan(&user.ID, &user.Username, &user.Email, &user.PublicKey); err != nil {
			return nil, err
		}
		user.Email = maskEmail(user.Email)
		users = append(users, user)
	}
	return users, rows.Err()
}

func (s *SQLStore) VerifyUser(token string) error {
	query := s.rebind("UPDATE users SET is_verified = TRUE, verification_token = '' WHERE verification_token = ?")
	result, err := s.db.Exec(query, token)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("invalid token")
	}
	return nil
}

func maskEmail(email string) string {
	if email == "" {
		return ""
	}
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return email
	}
	local, domain := parts[0], parts[1]
	length := len(local)
	visible := 1
	if length > 2 {
		visible = length / 2
		if visible > 3 {
			visible = 3
		}
	}

	maskedLocal := local[:visible] + strings.Repeat("*", length-visible)
	return maskedLocal + "@" + domain
}
