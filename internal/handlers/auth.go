package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/vanish-chat/vanish/internal/auth"
	"github.com/vanish-chat/vanish/internal/email"
	"github.com/vanish-chat/vanish/internal/models"
	"github.com/vanish-chat/vanish/internal/store"
	"golang.org/x/crypto/bcrypt"
)

type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type AuthHandler struct {
	Store   store.Store
	Signer  *auth.Signer
	Email   *email.Sender
	BaseURL string
	Log     *logrus.Entry
}

func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	type SignupRequest struct {
		Username            string `json:"username"`
		Email               string `json:"email"`
		Password            string `json:"password"`
		PublicKey           string `json:"public_key"`
		EncryptedPrivateKey string `json:"encrypted_private_key"`
	}

	var req SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Username == "" || req.Email == "" || req.Password == "" {
		http.Error(w, "username, email and password are required", http.StatusBadRequest)
		return
	}
	if req.PublicKey == "" {
		http.Error(w, "public_key is required", http.StatusBadRequest)
		return
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	user := &models.User{
		Username:            req.Username,
		Email:               req.Email,
		Password:            string(hashedPassword),
		PublicKey:           req.PublicKey,
		EncryptedPrivateKey: req.EncryptedPrivateKey,
		VerificationToken:   uuid.NewString(),
	}

	if err := h.Store.CreateUser(user); err != nil {
		http.Error(w, "Username or email already exists", http.StatusConflict)
		return
	}

	if h.Email != nil {
		link := h.BaseURL + "/verify?token=" + user.VerificationToken
		go func() {
			if err := h.Email.SendVerificationEmail(user.Email, user.Username, link); err != nil {
				h.Log.WithError(err).WithField("user", user.Username).Error("verification email failed")
			}
		}()
	}

	w.WriteHeader(http.StatusCreated)
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var creds Credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	user, err := h.Store.GetUserByUsername(creds.Username)
	if err != nil {
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(creds.Password)); err != nil {
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"token": h.Signer.Sign(user.ID),
		"user":  user,
	})
}

// Verify consumes the token from the signup email.
func (h *AuthHandler) Verify(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "token is required", http.StatusBadRequest)
		return
	}
	if err := h.Store.VerifyUser(token); err != nil {
		http.Error(w, "Invalid or expired token", http.StatusNotFound)
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"status": "verified"})
}

func (h *AuthHandler) SearchUsers(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		json.NewEncoder(w).Encode([]interface{}{})
		return
	}

	users, err := h.Store.SearchUsers(query)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(users)
}
