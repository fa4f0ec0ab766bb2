package apikey

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateKey(t *testing.T) {
	rawKey, keyHash, keyPrefix, err := GenerateKey()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(rawKey, KeyPrefix))
	assert.NoError(t, ValidateKeyFormat(rawKey))
	assert.Len(t, keyHash, 64) // sha256 hex
	assert.Equal(t, HashKey(rawKey), keyHash)
	assert.True(t, strings.HasPrefix(rawKey, keyPrefix))
	assert.Len(t, keyPrefix, len(KeyPrefix)+8)
}

func TestGenerateKeyIsUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		rawKey, _, _, err := GenerateKey()
		require.NoError(t, err)
		assert.False(t, seen[rawKey])
		seen[rawKey] = true
	}
}

func TestValidateKeyFormat(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{"valid", "mg_dGVzdGtleXRlc3RrZXl0ZXN0a2V5dGVzdGtleQ", false},
		{"wrong prefix", "sk_dGVzdGtleQ", true},
		{"no prefix", "dGVzdGtleQ", true},
		{"prefix only", "mg_", true},
		{"invalid base64url", "mg_not+valid/base64=", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateKeyFormat(tt.key)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestHashKeyIsDeterministic(t *testing.T) {
	assert.Equal(t, HashKey("mg_abc"), HashKey("mg_abc"))
	assert.NotEqual(t, HashKey("mg_abc"), HashKey("mg_abd"))
}

func TestKeyScopes(t *testing.T) {
	unrestricted := &Key{}
	assert.True(t, unrestricted.HasScope("metered:write"))

	scoped := &Key{Scopes: []string{"usage:read"}}
	assert.True(t, scoped.HasScope("usage:read"))
	assert.False(t, scoped.HasScope("metered:write"))
}
