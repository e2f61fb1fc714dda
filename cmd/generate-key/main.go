// Package main is a development utility for bootstrapping local secrets: it
// prints a fresh CRED_ENCRYPTION_KEY (base64url-encoded 32-byte AES-256 key)
// and a test personal access token with its bcrypt hash and display prefix
// pre-computed, plus a ready-to-run SQL INSERT so developers can seed a usable
// token in a local database without running the full login flow. Do not use
// generated tokens in production — create them through POST /api/tokens so
// expiry and ownership are recorded properly.
package main

import (
	"encoding/base64"
	"fmt"
	"log"

	"github.com/voice-companion/credential-vault/internal/auth"
	"github.com/voice-companion/credential-vault/internal/crypto"
)

func main() {
	// Encryption key for credentials at rest
	keyBytes, err := crypto.GenerateKey()
	if err != nil {
		log.Fatal(err)
	}
	encodedKey := base64.URLEncoding.EncodeToString(keyBytes)

	// Dev access token with hash + prefix
	fullToken, hash, displayPrefix, err := auth.GenerateAccessToken("cv")
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println("==========================================================")
	fmt.Println("Encryption Key Generated")
	fmt.Println("==========================================================")
	fmt.Printf("\nexport CRED_ENCRYPTION_KEY=%s\n", encodedKey)
	fmt.Println("\n==========================================================")
	fmt.Println("Dev Access Token Generated")
	fmt.Println("==========================================================")
	fmt.Printf("\nFull Token: %s\n", fullToken)
	fmt.Printf("\nHash: %s\n", hash)
	fmt.Printf("\nDisplay Prefix: %s\n", displayPrefix)
	fmt.Println("\n==========================================================")
	fmt.Println("SQL Insert:")
	fmt.Println("==========================================================")
	fmt.Printf(`
INSERT INTO access_tokens (id, user_id, name, token_hash, token_prefix, created_at)
SELECT gen_random_uuid(), id, 'dev token', '%s', '%s', now()
FROM users WHERE email = 'admin@dev.local';
`, hash, displayPrefix)
	fmt.Println("\n==========================================================")
	fmt.Printf("Authorization Header: Bearer %s\n", fullToken)
	fmt.Println("==========================================================")
}
