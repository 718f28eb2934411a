package secrets

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"

	"github.com/duramation/duramation/pkg/domain"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const masterKeySize = 32

// Codec encrypts and decrypts credential payloads at rest with
// ChaCha20-Poly1305. The encryption key is derived once from the process-wide
// master key; the codec is safe for concurrent use.
type Codec struct {
	aead interface {
		Seal(dst, nonce, plaintext, additionalData []byte) []byte
		Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
	}
}

// NewCodec derives the encryption key from a base64 encoded 32-byte master key
// using HKDF-SHA256.
func NewCodec(masterKeyBase64 string) (*Codec, error) {
	masterKey, err := decodeMasterKey(masterKeyBase64)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCodec, err)
	}

	encryptionKey, err := deriveEncryptionKey(masterKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCodec, err)
	}

	aead, err := chacha20poly1305.New(encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create ChaCha20-Poly1305 cipher: %v", domain.ErrCodec, err)
	}

	return &Codec{aead: aead}, nil
}

// Encrypt marshals v to JSON and seals it. The returned blob is
// base64(nonce || ciphertext).
func (c *Codec) Encrypt(v any) (string, error) {
	plaintext, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("%w: failed to marshal payload: %v", domain.ErrCodec, err)
	}

	nonce := make([]byte, chacha20poly1305.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("%w: failed to generate nonce: %v", domain.ErrCodec, err)
	}

	sealed := c.aead.Seal(nil, nonce, plaintext, nil)

	return base64.StdEncoding.EncodeToString(append(nonce, sealed...)), nil
}

// Decrypt authenticates and decodes a blob produced by Encrypt. Tampered or
// malformed blobs fail with ErrCodec.
func (c *Codec) Decrypt(blob string, out any) error {
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return fmt.Errorf("%w: invalid base64 encoding: %v", domain.ErrCodec, err)
	}

	if len(raw) < chacha20poly1305.NonceSize {
		return fmt.Errorf("%w: blob too short", domain.ErrCodec)
	}

	nonce := raw[:chacha20poly1305.NonceSize]
	ciphertext := raw[chacha20poly1305.NonceSize:]

	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to decrypt: %v", domain.ErrCodec, err)
	}

	if err := json.Unmarshal(plaintext, out); err != nil {
		return fmt.Errorf("%w: failed to unmarshal payload: %v", domain.ErrCodec, err)
	}

	return nil
}

// GenerateMasterKey returns a fresh base64 encoded master key.
func GenerateMasterKey() (string, error) {
	key := make([]byte, masterKeySize)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("failed to generate master key: %w", err)
	}

	return base64.StdEncoding.EncodeToString(key), nil
}

func decodeMasterKey(base64Key string) ([]byte, error) {
	keyBytes, err := base64.StdEncoding.DecodeString(base64Key)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 encoding: %w", err)
	}

	if len(keyBytes) != masterKeySize {
		return nil, fmt.Errorf("invalid key length: expected %d bytes, got %d", masterKeySize, len(keyBytes))
	}

	return keyBytes, nil
}

func deriveEncryptionKey(masterKey []byte) ([]byte, error) {
	salt := []byte("duramation-credential-secrets")
	info := []byte("encryption-key")

	hkdf := hkdf.New(sha256.New, masterKey, salt, info)
	key := make([]byte, chacha20poly1305.KeySize)

	if _, err := io.ReadFull(hkdf, key); err != nil {
		return nil, fmt.Errorf("failed to derive encryption key: %w", err)
	}

	return key, nil
}
