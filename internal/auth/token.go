package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// TokenSource supplies the current bearer credential. The transport
// session and upload client only depend on this capability, not on how
// the credential is stored.
type TokenSource interface {
	Token() string
}

// StaticToken is a TokenSource for a fixed credential.
type StaticToken string

func (t StaticToken) Token() string { return string(t) }

// Signer issues and verifies HMAC-signed bearer tokens in the format
// "base64(userID)|base64(signature)". The secret is injected, never a
// package global.
type Signer struct {
	secret []byte
}

func NewSigner(secret []byte) *Signer {
	return &Signer{secret: secret}
}

// Sign creates a bearer token for the given user.
func (s *Signer) Sign(userID int) string {
	value := strconv.Itoa(userID)
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(value))
	signature := mac.Sum(nil)
	return fmt.Sprintf("%s|%s",
		base64.URLEncoding.EncodeToString([]byte(value)),
		base64.URLEncoding.EncodeToString(signature))
}

// Verify checks the token signature and returns the user id it was
// issued for.
func (s *Signer) Verify(token string) (int, error) {
	parts := strings.Split(token, "|")
	if len(parts) != 2 {
		return 0, errors.New("invalid token format")
	}

	valueBytes, err := base64.URLEncoding.DecodeString(parts[0])
	if err != nil {
		return 0, errors.New("invalid value encoding")
	}
	signature, err := base64.URLEncoding.DecodeString(parts[1])
	if err != nil {
		return 0, errors.New("invalid signature encoding")
	}

	mac := hmac.New(sha256.New, s.secret)
	mac.Write(valueBytes)
	expected := mac.Sum(nil)
	if !hmac.Equal(signature, expected) {
		return 0, errors.New("invalid signature")
	}

	userID, err := strconv.Atoi(string(valueBytes))
	if err != nil {
		return 0, errors.New("invalid user id")
	}
	return userID, nil
}
