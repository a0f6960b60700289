// Package auth provides authentication and authorization utilities.
// This file implements the operator API key checked by middleware.AdminAuth.
//
// SECURITY: Operator API Key Authentication
//
// The admin surface (connection listing, force-disconnect, stats) is
// protected by a single static API key instead of JWTs because:
//   - There is exactly one operator identity per instance, not a user table
//   - The key is provisioned once at deploy time, out of band
//   - A bearer header is simpler than a login flow for a surface only
//     an operator's own tooling ever calls
//
// API Key Format:
//   - 64 hexadecimal characters (32 bytes of randomness)
//   - Generated using crypto/rand
//   - Example: "a1b2c3d4e5f6...789" (64 chars)
//
// API Key Storage:
//   - Plaintext key generated and shown ONCE by cmd/adminkeygen
//   - Only its bcrypt hash (cost factor 12) is kept, in config as
//     admin.api_key_hash — never the plaintext
//
// API Key Usage:
//   - Operator sends the plaintext key in the X-Admin-API-Key header
//   - middleware.AdminAuth compares it against the configured hash via
//     CompareAPIKey on every admin-group request
//
// Rotation is manual: run cmd/adminkeygen again, update admin.api_key_hash,
// and redeploy. There is no rotate-key endpoint and no database record.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"
)

const (
	// APIKeyLength is the length of generated API keys in bytes (32 bytes = 64 hex chars)
	APIKeyLength = 32

	// BcryptCost is the cost factor for bcrypt hashing (12 = ~250ms per hash)
	BcryptCost = 12
)

// GenerateAPIKey generates a cryptographically random API key.
//
// Returns a 64-character hexadecimal string (32 bytes of randomness).
//
// Example:
//
//	key, err := GenerateAPIKey()
//	// key = "a1b2c3d4e5f6...789" (64 chars)
func GenerateAPIKey() (string, error) {
	bytes := make([]byte, APIKeyLength)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}

// HashAPIKey hashes an API key using bcrypt.
//
// The hash can be safely stored in config (admin.api_key_hash) and
// compared against provided keys using CompareAPIKey.
//
// Cost factor is set to 12 (~250ms per hash) for security.
//
// Example:
//
//	hash, err := HashAPIKey("a1b2c3d4e5f6...789")
//	// Put hash in the admin.api_key_hash config field
func HashAPIKey(key string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(key), BcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash API key: %w", err)
	}
	return string(bytes), nil
}

// CompareAPIKey compares a plaintext API key against a bcrypt hash.
//
// Returns true if the key matches the hash, false otherwise.
//
// Example:
//
//	valid := CompareAPIKey("a1b2c3d4e5f6...789", storedHash)
//	if valid {
//	    // Key is valid
//	}
func CompareAPIKey(key, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(key))
	return err == nil
}

// APIKeyMetadata contains metadata about an API key.
//
// Used by cmd/adminkeygen when generating a new operator key, to return
// both the plaintext key and the hash the operator pastes into config.
type APIKeyMetadata struct {
	// PlaintextKey is the unhashed API key (64 hex chars)
	// SECURITY: This should only be shown to the operator ONCE
	PlaintextKey string

	// Hash is the bcrypt hash of the key
	// This is what goes into the admin.api_key_hash config field
	Hash string

	// CreatedAt is when the key was generated
	CreatedAt time.Time
}

// GenerateAPIKeyWithMetadata generates a new API key and returns both
// the plaintext key and metadata for the operator to record.
//
// The plaintext key should be shown to the operator ONCE and then
// discarded. Only the hash belongs in config.
//
// Example:
//
//	metadata, err := GenerateAPIKeyWithMetadata()
//	if err != nil {
//	    return err
//	}
//
//	// Show to operator ONCE
//	fmt.Printf("New API key: %s\n", metadata.PlaintextKey)
//	fmt.Println("SAVE THIS KEY - it will not be shown again")
//
//	// Paste into config
//	fmt.Printf("admin.api_key_hash: %s\n", metadata.Hash)
func GenerateAPIKeyWithMetadata() (*APIKeyMetadata, error) {
	// Generate random key
	key, err := GenerateAPIKey()
	if err != nil {
		return nil, err
	}

	// Hash the key
	hash, err := HashAPIKey(key)
	if err != nil {
		return nil, err
	}

	return &APIKeyMetadata{
		PlaintextKey: key,
		Hash:         hash,
		CreatedAt:    time.Now(),
	}, nil
}

// ValidateAPIKeyFormat checks if an API key has the correct format.
//
// Valid format: 64 hexadecimal characters (32 bytes)
//
// Returns error if format is invalid.
//
// Example:
//
//	if err := ValidateAPIKeyFormat(key); err != nil {
//	    return fmt.Errorf("invalid API key format: %w", err)
//	}
func ValidateAPIKeyFormat(key string) error {
	if len(key) != APIKeyLength*2 { // 2 hex chars per byte
		return fmt.Errorf("API key must be %d characters (got %d)", APIKeyLength*2, len(key))
	}

	// Check if all characters are hexadecimal
	if _, err := hex.DecodeString(key); err != nil {
		return fmt.Errorf("API key must contain only hexadecimal characters")
	}

	return nil
}
