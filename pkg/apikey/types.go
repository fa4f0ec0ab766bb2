package apikey

import "time"

// Key is a stored API key. The raw secret is never persisted; KeyHash is
// its SHA256 and KeyPrefix is a short displayable fragment.
type Key struct {
	ID         int64      `json:"id"`
	UserID     int64      `json:"user_id"`
	Name       string     `json:"name"`
	KeyHash    string     `json:"-"`
	KeyPrefix  string     `json:"key_prefix"`
	Scopes     []string   `json:"scopes"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
}

// Revoked reports whether the key has been soft-revoked
func (k *Key) Revoked() bool {
	return k.RevokedAt != nil
}

// HasScope reports whether the key carries the named scope. A key with no
// scopes is unrestricted.
func (k *Key) HasScope(scope string) bool {
	if len(k.Scopes) == 0 {
		return true
	}
	for _, s := range k.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}
