package storage

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

// Format: magic(8) + salt(16) + nonce(12) + encrypted_data + auth_tag(16)
var gcmMagic = []byte("GCM3NCR0")

const (
	saltLen     = 16
	nonceLen    = 12
	kdfRounds   = 100000
	keyLen      = 32
	gcmOverhead = 8 + saltLen + nonceLen + 16
)

// Cipher encrypts blobs with a key derived from a passphrase. A nil *Cipher
// passes data through unchanged.
type Cipher struct {
	passphrase []byte
}

// NewCipher returns nil when passphrase is empty.
func NewCipher(passphrase string) *Cipher {
	if passphrase == "" {
		return nil
	}
	return &Cipher{passphrase: []byte(passphrase)}
}

func (c *Cipher) aead(salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key(c.passphrase, salt, kdfRounds, keyLen, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// Seal encrypts plaintext.
func (c *Cipher) Seal(plaintext []byte) ([]byte, error) {
	if c == nil {
		return plaintext, nil
	}
	salt := make([]byte, saltLen)
	nonce := make([]byte, nonceLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	gcm, err := c.aead(salt)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(plaintext)+gcmOverhead)
	out = append(out, gcmMagic...)
	out = append(out, salt...)
	out = append(out, nonce...)
	return gcm.Seal(out, nonce, plaintext, nil), nil
}

// Open decrypts data produced by Seal. Data without the magic prefix is
// returned as is, so blobs written before encryption was enabled stay readable.
func (c *Cipher) Open(data []byte) ([]byte, error) {
	if c == nil || !bytes.HasPrefix(data, gcmMagic) {
		return data, nil
	}
	if len(data) < gcmOverhead {
		return nil, fmt.Errorf("GCM data too short: %d bytes", len(data))
	}
	salt := data[8 : 8+saltLen]
	nonce := data[8+saltLen : 8+saltLen+nonceLen]
	gcm, err := c.aead(salt)
	if err != nil {
		return nil, err
	}
	plaintext, err := gcm.Open(nil, nonce, data[8+saltLen+nonceLen:], nil)
	if err != nil {
		return nil, fmt.Errorf("GCM decryption failed: %w", err)
	}
	return plaintext, nil
}
