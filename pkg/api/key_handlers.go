package api

import (
	"net/http"

	"github.com/metergate/metergate/pkg/apikey"
	"github.com/metergate/metergate/pkg/httputil"
)

type createKeyRequest struct {
	Name   string   `json:"name"`
	Scopes []string `json:"scopes"`
}

type createKeyResponse struct {
	// Key is the raw secret, returned exactly once at creation
	Key       string   `json:"key"`
	ID        int64    `json:"id"`
	KeyPrefix string   `json:"key_prefix"`
	Name      string   `json:"name"`
	Scopes    []string `json:"scopes"`
}

// handleCreateKey issues a new API key. Only the hash is stored; the raw
// secret in the response cannot be retrieved again.
func (s *Server) handleCreateKey(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var req createKeyRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Name == "" {
		httputil.WriteBadRequest(w, "name is required")
		return
	}

	if _, err := s.users.GetUser(r.Context(), userID); err != nil {
		s.writeStoreError(w, r, err)
		return
	}

	rawKey, keyHash, keyPrefix, err := apikey.GenerateKey()
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	created, err := s.keys.Create(r.Context(), &apikey.Key{
		UserID:    userID,
		Name:      req.Name,
		KeyHash:   keyHash,
		KeyPrefix: keyPrefix,
		Scopes:    req.Scopes,
	})
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}

	httputil.WriteCreated(w, createKeyResponse{
		Key:       rawKey,
		ID:        created.ID,
		KeyPrefix: created.KeyPrefix,
		Name:      created.Name,
		Scopes:    created.Scopes,
	})
}

// handleListKeys lists a user's keys, revoked included. Raw secrets are
// never returned.
func (s *Server) handleListKeys(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	keys, err := s.keys.ListByUser(r.Context(), userID)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	if keys == nil {
		keys = []*apikey.Key{}
	}
	httputil.WriteSuccess(w, map[string]interface{}{"keys": keys})
}

// handleRevokeKey soft-revokes a key. The row is kept for audit; the key
// fails authentication from this point on.
func (s *Server) handleRevokeKey(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	keyID, ok := httputil.ParsePathInt64OrError(w, r, "keyId")
	if !ok {
		return
	}

	if err := s.keys.Revoke(r.Context(), userID, keyID); err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}
