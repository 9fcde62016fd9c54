/*
Package vault seals payout payment methods at rest.

KEY DERIVATION:
  Each record gets its own key:
    key = HKDF-SHA256(master, salt = record id, info = "payout-payment-method")
  A leaked ciphertext/key pair exposes one record, not every payout.

SEALING:
  XChaCha20-Poly1305 with a random 24-byte nonce. The record id is bound
  as associated data, so a sealed value copied onto another payout fails
  to open.

FORMAT:
  "v1." + base64url(nonce || ciphertext)

The master secret comes from configuration (PAYMENT_METHOD_SECRET) and
must be at least 32 bytes.
*/
package vault

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	MinSecretLen = 32
	version      = "v1."
	info         = "payout-payment-method"
)

var (
	ErrWeakSecret   = errors.New("vault: master secret shorter than 32 bytes")
	ErrMalformed    = errors.New("vault: malformed sealed value")
	ErrOpenFailed   = errors.New("vault: cannot open sealed value")
	ErrMissingScope = errors.New("vault: record id is required")
)

type Vault struct {
	master []byte
}

func New(masterSecret []byte) (*Vault, error) {
	if len(masterSecret) < MinSecretLen {
		return nil, ErrWeakSecret
	}
	m := make([]byte, len(masterSecret))
	copy(m, masterSecret)
	return &Vault{master: m}, nil
}

// Seal encrypts plaintext under the key for recordID.
func (v *Vault) Seal(recordID, plaintext string) (string, error) {
	aead, err := v.aead(recordID)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("vault: nonce: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, []byte(plaintext), []byte(recordID))
	return version + base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal for the same recordID.
func (v *Vault) Open(recordID, sealed string) (string, error) {
	if !strings.HasPrefix(sealed, version) {
		return "", ErrMalformed
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(sealed, version))
	if err != nil {
		return "", ErrMalformed
	}
	aead, err := v.aead(recordID)
	if err != nil {
		return "", err
	}
	if len(raw) < aead.NonceSize()+aead.Overhead() {
		return "", ErrMalformed
	}
	nonce, ct := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ct, []byte(recordID))
	if err != nil {
		return "", ErrOpenFailed
	}
	return string(plain), nil
}

func (v *Vault) aead(recordID string) (cipher.AEAD, error) {
	if recordID == "" {
		return nil, ErrMissingScope
	}
	key := make([]byte, chacha20poly1305.KeySize)
	kdf := hkdf.New(sha256.New, v.master, []byte(recordID), []byte(info))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("vault: derive key: %w", err)
	}
	return chacha20poly1305.NewX(key)
}
