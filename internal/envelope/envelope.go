// Package envelope implements the hybrid encryption scheme protecting
// message content end to end.
//
// Each envelope carries the content encrypted under a fresh symmetric key
// and two independently wrapped copies of that key: one for the receiver
// and one for the sender, so the sender can re-read their own sent
// messages. Key wrapping uses NaCl sealed boxes; content encryption uses
// ChaCha20-Poly1305 with a random 96-bit nonce per envelope.
package envelope

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/nacl/box"
)

const (
	// Version tags the envelope layout.
	Version = 1
	// Algorithm identifies the key-wrap and AEAD pair in use.
	Algorithm = "x25519-chacha20poly1305"

	// MaxContentSize caps plaintext and payload sizes (16 MB).
	MaxContentSize = 16 * 1024 * 1024
)

// ErrDecrypt is returned when no wrapped key matches the supplied private
// key or when authentication fails. Callers render a placeholder instead
// of the content; this error never carries plaintext detail.
var ErrDecrypt = errors.New("envelope: decryption failed")

// Envelope is the self-describing encrypted container. For text the
// ciphertext travels inline; for files and images it is stored
// out-of-band and ContentURL points at it.
type Envelope struct {
	Version   int    `json:"v"`
	Algorithm string `json:"alg"`
	Nonce     string `json:"nonce"`

	Ciphertext string `json:"ciphertext,omitempty"`
	ContentURL string `json:"content_url,omitempty"`

	// The same content key wrapped under each party's public key.
	KeyForReceiver string `json:"key_r"`
	KeyForSender   string `json:"key_s"`

	// Cleartext file metadata.
	FileName string `json:"file_name,omitempty"`
	FileType string `json:"file_type,omitempty"`
	FileSize int64  `json:"file_size,omitempty"`
}

// FileMeta describes a binary payload. It is stored in the clear so the
// receiver can render a download affordance before fetching ciphertext.
type FileMeta struct {
	Name string
	Type string
	Size int64
}

// Encode serializes the envelope for storage in a message content field.
func (e *Envelope) Encode() (string, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// Decode attempts to parse s as an envelope. The second return is false
// when s is not a recognized envelope, which callers treat as legacy
// plaintext.
func Decode(s string) (*Envelope, bool) {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "{") {
		return nil, false
	}
	var e Envelope
	if err := json.Unmarshal([]byte(trimmed), &e); err != nil {
		return nil, false
	}
	if e.Version != Version || e.Algorithm != Algorithm || e.KeyForReceiver == "" || e.KeyForSender == "" {
		return nil, false
	}
	return &e, true
}

// EncryptText encrypts plaintext into a serialized envelope. A fresh
// content key and nonce are generated on every call.
func EncryptText(plaintext string, receiverPub, senderPub [32]byte) (string, error) {
	env, ciphertext, err := seal([]byte(plaintext), receiverPub, senderPub)
	if err != nil {
		return "", err
	}
	env.Ciphertext = base64.StdEncoding.EncodeToString(ciphertext)
	return env.Encode()
}

// DecryptText reverses EncryptText. Input that is not a recognized
// envelope is returned unchanged, keeping pre-encryption rows readable.
func DecryptText(content string, keys *KeyPair) (string, error) {
	env, ok := Decode(content)
	if !ok {
		return content, nil
	}
	ciphertext, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return "", ErrDecrypt
	}
	plaintext, err := open(env, ciphertext, keys)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// EncryptBytes encrypts a binary payload. The ciphertext is returned
// separately from the envelope; callers upload it and record the
// resulting locator in ContentURL before encoding the envelope.
func EncryptBytes(data []byte, receiverPub, senderPub [32]byte, meta FileMeta) (*Envelope, []byte, error) {
	env, ciphertext, err := seal(data, receiverPub, senderPub)
	if err != nil {
		return nil, nil, err
	}
	env.FileName = meta.Name
	env.FileType = meta.Type
	env.FileSize = meta.Size
	return env, ciphertext, nil
}

// DecryptBytes decrypts an out-of-band payload fetched for env.
func DecryptBytes(env *Envelope, ciphertext []byte, keys *KeyPair) ([]byte, error) {
	return open(env, ciphertext, keys)
}

func seal(data []byte, receiverPub, senderPub [32]byte) (*Envelope, []byte, error) {
	if len(data) > MaxContentSize {
		return nil, nil, errors.New("envelope: content too large")
	}

	var contentKey [chacha20poly1305.KeySize]byte
	if _, err := rand.Read(contentKey[:]); err != nil {
		return nil, nil, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, err
	}

	aead, err := chacha20poly1305.New(contentKey[:])
	if err != nil {
		return nil, nil, err
	}
	ciphertext := aead.Seal(nil, nonce, data, nil)

	keyR, err := wrapKey(contentKey, receiverPub)
	if err != nil {
		return nil, nil, err
	}
	keyS, err := wrapKey(contentKey, senderPub)
	if err != nil {
		return nil, nil, err
	}

	env := &Envelope{
		Version:        Version,
		Algorithm:      Algorithm,
		Nonce:          base64.StdEncoding.EncodeToString(nonce),
		KeyForReceiver: keyR,
		KeyForSender:   keyS,
	}
	return env, ciphertext, nil
}

func open(env *Envelope, ciphertext []byte, keys *KeyPair) ([]byte, error) {
	nonce, err := base64.StdEncoding.DecodeString(env.Nonce)
	if err != nil || len(nonce) != chacha20poly1305.NonceSize {
		return nil, ErrDecrypt
	}

	// Receiver copy first, sender copy as fallback so a sender can read
	// back their own sent content.
	contentKey, err := unwrapKey(env.KeyForReceiver, keys)
	if err != nil {
		contentKey, err = unwrapKey(env.KeyForSender, keys)
	}
	if err != nil {
		return nil, ErrDecrypt
	}

	aead, err := chacha20poly1305.New(contentKey[:])
	if err != nil {
		return nil, ErrDecrypt
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}

// wrapKey seals the content key to a public key. Sealed boxes use an
// ephemeral key pair per call, so wrapping is non-malleable and leaks
// nothing about the wrapping party.
func wrapKey(contentKey [chacha20poly1305.KeySize]byte, pub [32]byte) (string, error) {
	sealed, err := box.SealAnonymous(nil, contentKey[:], &pub, rand.Reader)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func unwrapKey(wrapped string, keys *KeyPair) ([chacha20poly1305.KeySize]byte, error) {
	var contentKey [chacha20poly1305.KeySize]byte
	sealed, err := base64.StdEncoding.DecodeString(wrapped)
	if err != nil {
		return contentKey, ErrDecrypt
	}
	raw, ok := box.OpenAnonymous(nil, sealed, &keys.Public, &keys.Private)
	if !ok || len(raw) != chacha20poly1305.KeySize {
		return contentKey, ErrDecrypt
	}
	copy(contentKey[:], raw)
	return contentKey, nil
}
