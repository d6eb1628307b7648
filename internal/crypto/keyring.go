// Package crypto seals provider credentials so they can live in the
// environment or a secret store without appearing in plaintext.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// credentialAAD binds every envelope to its purpose; a ciphertext sealed for
// another use cannot be opened as a credential.
var credentialAAD = []byte("flowair/credential/v1")

var ErrUnknownKey = errors.New("unknown key id")

// Sealed is the JSON envelope stored in *_API_KEY_SEALED variables.
type Sealed struct {
	KeyID      string `json:"kid"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ct"`
}

// Keyring holds the master keys. The current key seals; every key opens,
// which lets old credentials keep working through a rotation.
type Keyring struct {
	current string
	keys    map[string][]byte
}

func NewKeyring(currentKeyID string, keys map[string][]byte) (*Keyring, error) {
	if currentKeyID == "" {
		return nil, fmt.Errorf("current key id is empty")
	}
	if _, ok := keys[currentKeyID]; !ok {
		return nil, fmt.Errorf("current key id %q not found", currentKeyID)
	}
	cp := make(map[string][]byte, len(keys))
	for id, key := range keys {
		if len(key) != 32 {
			return nil, fmt.Errorf("key %q must be 32 bytes", id)
		}
		cp[id] = append([]byte(nil), key...)
	}
	return &Keyring{current: currentKeyID, keys: cp}, nil
}

func (k *Keyring) CurrentKeyID() string {
	return k.current
}

func (k *Keyring) Seal(plaintext []byte) (Sealed, error) {
	aead, err := k.aead(k.current)
	if err != nil {
		return Sealed{}, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return Sealed{}, fmt.Errorf("nonce: %w", err)
	}
	return Sealed{
		KeyID:      k.current,
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(aead.Seal(nil, nonce, plaintext, credentialAAD)),
	}, nil
}

func (k *Keyring) Open(s Sealed) ([]byte, error) {
	aead, err := k.aead(s.KeyID)
	if err != nil {
		return nil, err
	}
	nonce, err := base64.StdEncoding.DecodeString(s.Nonce)
	if err != nil {
		return nil, fmt.Errorf("decode nonce: %w", err)
	}
	if len(nonce) != aead.NonceSize() {
		return nil, fmt.Errorf("nonce must be %d bytes", aead.NonceSize())
	}
	ct, err := base64.StdEncoding.DecodeString(s.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decode ciphertext: %w", err)
	}
	plain, err := aead.Open(nil, nonce, ct, credentialAAD)
	if err != nil {
		return nil, fmt.Errorf("open credential: %w", err)
	}
	return plain, nil
}

// SealString returns the envelope as compact JSON, ready for an env var.
func (k *Keyring) SealString(value string) (string, error) {
	s, err := k.Seal([]byte(value))
	if err != nil {
		return "", err
	}
	b, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("marshal envelope: %w", err)
	}
	return string(b), nil
}

func (k *Keyring) OpenString(raw string) (string, error) {
	var s Sealed
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &s); err != nil {
		return "", fmt.Errorf("unmarshal envelope: %w", err)
	}
	plain, err := k.Open(s)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

func (k *Keyring) aead(keyID string) (cipher.AEAD, error) {
	key, ok := k.keys[keyID]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownKey, keyID)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}
	return aead, nil
}
