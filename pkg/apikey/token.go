package apikey

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	// KeyPrefix identifies metergate API keys
	KeyPrefix = "mg_"
	// KeyLength is the total length of random bytes (32 bytes = 256 bits)
	KeyLength = 32
)

// GenerateKey creates a new API key.
// Format: mg_<base64url(32 random bytes)>
// The raw key is shown to the caller exactly once; only the hash is stored.
func GenerateKey() (rawKey string, keyHash string, keyPrefix string, err error) {
	randomBytes := make([]byte, KeyLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	encoded := base64.RawURLEncoding.EncodeToString(randomBytes)
	rawKey = KeyPrefix + encoded
	keyHash = HashKey(rawKey)

	// First 8 chars after "mg_" for display and support lookup
	keyPrefix = KeyPrefix
	if len(encoded) >= 8 {
		keyPrefix = KeyPrefix + encoded[:8]
	}

	return rawKey, keyHash, keyPrefix, nil
}

// HashKey computes the SHA256 hash of a raw key for storage and lookup
func HashKey(rawKey string) string {
	hash := sha256.Sum256([]byte(rawKey))
	return hex.EncodeToString(hash[:])
}

// ValidateKeyFormat checks if a raw key has the correct shape before any
// store lookup
func ValidateKeyFormat(rawKey string) error {
	if !strings.HasPrefix(rawKey, KeyPrefix) {
		return fmt.Errorf("key must start with %q", KeyPrefix)
	}

	encoded := strings.TrimPrefix(rawKey, KeyPrefix)
	if len(encoded) == 0 {
		return fmt.Errorf("key is too short")
	}

	if _, err := base64.RawURLEncoding.DecodeString(encoded); err != nil {
		return fmt.Errorf("invalid key encoding: %w", err)
	}

	return nil
}
