// Package auth provides authentication primitives for the vault. Two methods
// are supported: JWTs (issued on password login, stateless verification) and
// personal access tokens (long-lived, bcrypt-hashed, revocable). See
// internal/middleware/auth.go for the request-time logic that uses these.
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const (
	// TokenLength is the length of the random part of an access token in bytes
	TokenLength = 32

	// DisplayPrefixLength is the number of characters shown in token listings
	DisplayPrefixLength = 10

	// BcryptCost is the cost factor for bcrypt hashing
	BcryptCost = 12
)

// GenerateAccessToken creates a new random personal access token with the
// given prefix (e.g. "cv").
// Returns: full token (to show once), bcrypt hash (to store), display prefix.
func GenerateAccessToken(prefix string) (token string, hash string, displayPrefix string, err error) {
	randomBytes := make([]byte, TokenLength)
	_, err = rand.Read(randomBytes)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	randomPart := base64.RawURLEncoding.EncodeToString(randomBytes)
	fullToken := fmt.Sprintf("%s_%s", prefix, randomPart)

	hashBytes, err := bcrypt.GenerateFromPassword([]byte(fullToken), BcryptCost)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to hash access token: %w", err)
	}

	displayPrefixStr := fullToken
	if len(fullToken) > DisplayPrefixLength {
		displayPrefixStr = fullToken[:DisplayPrefixLength]
	}

	return fullToken, string(hashBytes), displayPrefixStr, nil
}

// ValidateAccessToken checks if a provided token matches the stored hash
func ValidateAccessToken(providedToken, storedHash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(providedToken))
	return err == nil
}

// ExtractBearerToken extracts the credential from an Authorization header.
// Expected format: "Bearer cv_abc123xyz..." or "Bearer <jwt>"
func ExtractBearerToken(header string) (string, error) {
	if header == "" {
		return "", errors.New("authorization header is empty")
	}

	if !strings.HasPrefix(header, "Bearer ") {
		return "", errors.New("authorization header must start with 'Bearer '")
	}

	token := strings.TrimPrefix(header, "Bearer ")
	token = strings.TrimSpace(token)

	if token == "" {
		return "", errors.New("token is empty after Bearer prefix")
	}

	return token, nil
}

// HashPassword hashes a user password for storage.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword verifies a password against its stored hash.
func CheckPassword(password, storedHash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(password)) == nil
}
