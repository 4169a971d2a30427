package envelope

import (
	"crypto/rand"
	"encoding/hex"
	"errors"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"
)

// KeyPair is a Curve25519 key pair. The public half is distributed to
// peers; the private half never leaves its owner.
type KeyPair struct {
	Public  [32]byte
	Private [32]byte
}

// GenerateKeyPair creates a new random key pair.
func GenerateKeyPair() (*KeyPair, error) {
	publicKey, privateKey, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &KeyPair{Public: *publicKey, Private: *privateKey}, nil
}

// FromPrivateKey rebuilds a key pair from an existing private key by
// deriving the public half.
func FromPrivateKey(privateKey [32]byte) (*KeyPair, error) {
	if isZeroKey(privateKey) {
		return nil, errors.New("invalid private key: all zeros")
	}
	pub, err := curve25519.X25519(privateKey[:], curve25519.Basepoint)
	if err != nil {
		return nil, err
	}
	kp := &KeyPair{Private: privateKey}
	copy(kp.Public[:], pub)
	return kp, nil
}

// PublicHex returns the hex encoding used to register and exchange
// public keys.
func (k *KeyPair) PublicHex() string {
	return hex.EncodeToString(k.Public[:])
}

func (k *KeyPair) PrivateHex() string {
	return hex.EncodeToString(k.Private[:])
}

// ParseKey decodes a hex-encoded 32-byte key.
func ParseKey(s string) ([32]byte, error) {
	var key [32]byte
	raw, err := hex.DecodeString(s)
	if err != nil {
		return key, err
	}
	if len(raw) != 32 {
		return key, errors.New("key must be 32 bytes")
	}
	copy(key[:], raw)
	return key, nil
}

func isZeroKey(key [32]byte) bool {
	for _, b := range key {
		if b != 0 {
			return false
		}
	}
	return true
}
