// Package crypto provides AES-256-GCM authenticated encryption for provider
// API keys that must be stored at rest in the database. A stored provider key
// grants spend against the owner's LLM or TTS account, so a database dump must
// not be enough to use it. AES-256-GCM is chosen because it provides both
// confidentiality and authenticated integrity, ensuring stored secrets cannot
// be silently tampered with even if the database is partially compromised.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

var (
	// ErrKeyLengthInvalid is returned when a master key is not exactly 32 bytes (required for AES-256).
	ErrKeyLengthInvalid = errors.New("crypto: key must be exactly 32 bytes for AES-256")
	// ErrCiphertextCorrupted is returned when the ciphertext fails base64 decoding or is too short to contain a valid nonce.
	ErrCiphertextCorrupted = errors.New("crypto: ciphertext is corrupted or tampered")
	// ErrDecryptionFailed is returned when AES-GCM authentication or decryption fails, indicating tampering or a wrong key.
	ErrDecryptionFailed = errors.New("crypto: decryption operation failed")
	// ErrKeyMaterialTooShort is returned when a passphrase is too short to derive a key from.
	ErrKeyMaterialTooShort = errors.New("crypto: key material must be at least 16 characters")
)

// deriveSalt is the fixed PBKDF2 salt for passphrase-mode keys. The salt only
// needs to differ from other applications' salts, not be secret: there is one
// passphrase per deployment, so per-entry salting buys nothing.
var deriveSalt = []byte("credential-vault/secretcipher/v1")

// SecretCipher encrypts and decrypts stored provider secrets
type SecretCipher struct {
	masterKey []byte
}

// NewSecretCipher creates a cipher with a 32-byte master key
func NewSecretCipher(masterKey []byte) (*SecretCipher, error) {
	if len(masterKey) != 32 {
		return nil, ErrKeyLengthInvalid
	}
	keyCopy := make([]byte, 32)
	copy(keyCopy, masterKey)
	return &SecretCipher{masterKey: keyCopy}, nil
}

// NewSecretCipherFromString builds a cipher from the CRED_ENCRYPTION_KEY value.
// A base64url-encoded 32-byte key (as printed by the generate-key utility) is
// used directly; any other string of at least 16 characters is treated as a
// passphrase and stretched with PBKDF2-SHA256.
func NewSecretCipherFromString(keyMaterial string) (*SecretCipher, error) {
	if decoded, err := base64.URLEncoding.DecodeString(keyMaterial); err == nil && len(decoded) == 32 {
		return NewSecretCipher(decoded)
	}
	if len(keyMaterial) < 16 {
		return nil, ErrKeyMaterialTooShort
	}
	derivedKey := pbkdf2.Key([]byte(keyMaterial), deriveSalt, 100000, 32, sha256.New)
	return NewSecretCipher(derivedKey)
}

// Seal encrypts plaintext and returns a base64-encoded ciphertext
func (sc *SecretCipher) Seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	blockCipher, err := aes.NewCipher(sc.masterKey)
	if err != nil {
		return "", err
	}

	aead, err := cipher.NewGCM(blockCipher)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.URLEncoding.EncodeToString(sealed), nil
}

// Open decrypts a base64-encoded ciphertext and returns the plaintext
func (sc *SecretCipher) Open(encodedCiphertext string) (string, error) {
	if encodedCiphertext == "" {
		return "", nil
	}

	ciphertext, err := base64.URLEncoding.DecodeString(encodedCiphertext)
	if err != nil {
		return "", ErrCiphertextCorrupted
	}

	blockCipher, err := aes.NewCipher(sc.masterKey)
	if err != nil {
		return "", err
	}

	aead, err := cipher.NewGCM(blockCipher)
	if err != nil {
		return "", err
	}

	nonceLen := aead.NonceSize()
	if len(ciphertext) < nonceLen {
		return "", ErrCiphertextCorrupted
	}

	nonce := ciphertext[:nonceLen]
	actualCiphertext := ciphertext[nonceLen:]

	plaintext, err := aead.Open(nil, nonce, actualCiphertext, nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}

	return string(plaintext), nil
}

// GenerateKey creates a cryptographically secure random 32-byte key
func GenerateKey() ([]byte, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, err
	}
	return key, nil
}
