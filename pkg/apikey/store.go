package apikey

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/metergate/metergate/pkg/store"
)

// KeyStore persists API keys
type KeyStore interface {
	// Create stores a new key and returns it with its assigned id
	Create(ctx context.Context, key *Key) (*Key, error)

	// GetByHash looks a key up by its SHA256 hash. Revoked keys are
	// returned with RevokedAt set; the caller decides how to reject them.
	GetByHash(ctx context.Context, keyHash string) (*Key, error)

	// ListByUser returns all keys for a user, newest first, revoked
	// included
	ListByUser(ctx context.Context, userID int64) ([]*Key, error)

	// Revoke soft-revokes a key owned by the user. Revoking an already
	// revoked key is a no-op returning NotFoundError.
	Revoke(ctx context.Context, userID, keyID int64) error

	// TouchLastUsed updates the key's last-used timestamp
	TouchLastUsed(ctx context.Context, keyID int64) error
}

const keyColumns = `id, user_id, name, key_hash, key_prefix, scopes, last_used_at, created_at, revoked_at`

// PostgresKeyStore implements KeyStore on PostgreSQL
type PostgresKeyStore struct {
	db *sql.DB
}

// NewPostgresKeyStore creates a key store backed by the given database
func NewPostgresKeyStore(db *sql.DB) *PostgresKeyStore {
	return &PostgresKeyStore{db: db}
}

func (s *PostgresKeyStore) Create(ctx context.Context, key *Key) (*Key, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO api_keys (user_id, name, key_hash, key_prefix, scopes)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+keyColumns,
		key.UserID, key.Name, key.KeyHash, key.KeyPrefix, pq.Array(key.Scopes),
	)
	created, err := scanKey(row)
	if err != nil {
		return nil, store.Classify("apikey.Create", "api key", key.KeyPrefix, err)
	}
	return created, nil
}

func (s *PostgresKeyStore) GetByHash(ctx context.Context, keyHash string) (*Key, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+keyColumns+`
		FROM api_keys
		WHERE key_hash = $1`,
		keyHash,
	)
	key, err := scanKey(row)
	if err != nil {
		return nil, store.Classify("apikey.GetByHash", "api key", "by hash", err)
	}
	return key, nil
}

func (s *PostgresKeyStore) ListByUser(ctx context.Context, userID int64) ([]*Key, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+keyColumns+`
		FROM api_keys
		WHERE user_id = $1
		ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, store.Classify("apikey.ListByUser", "api key", fmt.Sprintf("user %d", userID), err)
	}
	defer rows.Close()

	var keys []*Key
	for rows.Next() {
		key, err := scanKey(rows)
		if err != nil {
			return nil, store.Classify("apikey.ListByUser", "api key", fmt.Sprintf("user %d", userID), err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Classify("apikey.ListByUser", "api key", fmt.Sprintf("user %d", userID), err)
	}
	return keys, nil
}

func (s *PostgresKeyStore) Revoke(ctx context.Context, userID, keyID int64) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE api_keys
		SET revoked_at = NOW()
		WHERE id = $1 AND user_id = $2 AND revoked_at IS NULL`,
		keyID, userID,
	)
	if err != nil {
		return store.Classify("apikey.Revoke", "api key", fmt.Sprintf("%d", keyID), err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return store.Classify("apikey.Revoke", "api key", fmt.Sprintf("%d", keyID), err)
	}
	if affected == 0 {
		return store.NotFound("api key", fmt.Sprintf("%d", keyID))
	}
	return nil
}

func (s *PostgresKeyStore) TouchLastUsed(ctx context.Context, keyID int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE api_keys SET last_used_at = NOW() WHERE id = $1`,
		keyID,
	)
	if err != nil {
		return store.Classify("apikey.TouchLastUsed", "api key", fmt.Sprintf("%d", keyID), err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanKey(row rowScanner) (*Key, error) {
	var k Key
	var lastUsed, revoked sql.NullTime
	err := row.Scan(
		&k.ID, &k.UserID, &k.Name, &k.KeyHash, &k.KeyPrefix,
		pq.Array(&k.Scopes), &lastUsed, &k.CreatedAt, &revoked,
	)
	if err != nil {
		return nil, err
	}
	if lastUsed.Valid {
		k.LastUsedAt = &lastUsed.Time
	}
	if revoked.Valid {
		k.RevokedAt = &revoked.Time
	}
	return &k, nil
}
