package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metergate/metergate/pkg/apikey"
	"github.com/metergate/metergate/pkg/audit"
	"github.com/metergate/metergate/pkg/billing"
	"github.com/metergate/metergate/pkg/entitlement"
	"github.com/metergate/metergate/pkg/observability"
	"github.com/metergate/metergate/pkg/store"
	"github.com/metergate/metergate/pkg/usage"
	"github.com/metergate/metergate/pkg/webhook"
)

// memUserStore is an in-memory billing.UserStore for handler tests
type memUserStore struct {
	mu    sync.Mutex
	users map[int64]*billing.User
}

func newMemUserStore(users ...*billing.User) *memUserStore {
	m := &memUserStore{users: make(map[int64]*billing.User)}
	for _, u := range users {
		m.users[u.ID] = u
	}
	return m
}

func (m *memUserStore) GetUser(ctx context.Context, id int64) (*billing.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		copied := *u
		return &copied, nil
	}
	return nil, store.NotFound("user", fmt.Sprintf("%d", id))
}

func (m *memUserStore) GetUserByEmail(ctx context.Context, email string) (*billing.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			copied := *u
			return &copied, nil
		}
	}
	return nil, store.NotFound("user", email)
}

func (m *memUserStore) GetUserByStripeCustomerID(ctx context.Context, customerID string) (*billing.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Subscription.StripeCustomerID == customerID {
			copied := *u
			return &copied, nil
		}
	}
	return nil, store.NotFound("user", customerID)
}

func (m *memUserStore) GetUserByStripeSubscriptionID(ctx context.Context, subscriptionID string) (*billing.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Subscription.StripeSubscriptionID == subscriptionID {
			copied := *u
			return &copied, nil
		}
	}
	return nil, store.NotFound("user", subscriptionID)
}

func (m *memUserStore) UpdateSubscription(ctx context.Context, userID int64, sub billing.Subscription) (*billing.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return nil, store.NotFound("user", fmt.Sprintf("%d", userID))
	}
	u.Subscription = sub
	u.UpdatedAt = time.Now()
	copied := *u
	return &copied, nil
}

func (m *memUserStore) ListUserIDs(ctx context.Context) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]int64, 0, len(m.users))
	for id := range m.users {
		ids = append(ids, id)
	}
	return ids, nil
}

// memLedger is an in-memory usage.Ledger for handler tests
type memLedger struct {
	mu      sync.Mutex
	records map[string]*usage.Record
	nextID  int64
}

func newMemLedger() *memLedger {
	return &memLedger{records: make(map[string]*usage.Record)}
}

func ledgerKey(userID int64, w billing.Window) string {
	return fmt.Sprintf("%d|%d|%d", userID, w.Start.Unix(), w.End.Unix())
}

func (m *memLedger) GetOrCreate(ctx context.Context, userID int64, window billing.Window) (*usage.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := ledgerKey(userID, window)
	if r, ok := m.records[key]; ok {
		copied := *r
		return &copied, nil
	}
	m.nextID++
	r := &usage.Record{
		ID: m.nextID, UserID: userID,
		PeriodStart: window.Start, PeriodEnd: window.End,
		CreatedAt: time.Now(), LastUpdatedAt: time.Now(),
	}
	m.records[key] = r
	copied := *r
	return &copied, nil
}

func (m *memLedger) Get(ctx context.Context, userID int64, window billing.Window) (*usage.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.records[ledgerKey(userID, window)]; ok {
		copied := *r
		return &copied, nil
	}
	return nil, store.NotFound("usage record", ledgerKey(userID, window))
}

func (m *memLedger) Increment(ctx context.Context, userID int64, dimension billing.Dimension, amount int64, window billing.Window) (*usage.Record, error) {
	if _, err := m.GetOrCreate(ctx, userID, window); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.records[ledgerKey(userID, window)]
	switch dimension {
	case billing.DimensionAPICalls:
		r.APICalls += amount
	case billing.DimensionItemsCreated:
		r.ItemsCreated += amount
	case billing.DimensionStorageMB:
		r.StorageMB += amount
	}
	r.LastUpdatedAt = time.Now()
	copied := *r
	return &copied, nil
}

func (m *memLedger) Latest(ctx context.Context, userID int64) (*usage.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *usage.Record
	for _, r := range m.records {
		if r.UserID != userID {
			continue
		}
		if latest == nil || r.PeriodStart.After(latest.PeriodStart) {
			latest = r
		}
	}
	if latest == nil {
		return nil, store.NotFound("usage record", fmt.Sprintf("user %d", userID))
	}
	copied := *latest
	return &copied, nil
}

func (m *memLedger) History(ctx context.Context, userID int64, limit int) ([]*usage.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var records []*usage.Record
	for _, r := range m.records {
		if r.UserID == userID {
			copied := *r
			records = append(records, &copied)
		}
	}
	return records, nil
}

// memKeyStore is an in-memory apikey.KeyStore for handler tests
type memKeyStore struct {
	mu     sync.Mutex
	keys   map[int64]*apikey.Key
	nextID int64
}

func newMemKeyStore() *memKeyStore {
	return &memKeyStore{keys: make(map[int64]*apikey.Key)}
}

func (m *memKeyStore) Create(ctx context.Context, key *apikey.Key) (*apikey.Key, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	key.ID = m.nextID
	key.CreatedAt = time.Now()
	m.keys[key.ID] = key
	copied := *key
	return &copied, nil
}

func (m *memKeyStore) GetByHash(ctx context.Context, keyHash string) (*apikey.Key, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range m.keys {
		if k.KeyHash == keyHash {
			copied := *k
			return &copied, nil
		}
	}
	return nil, store.NotFound("api key", "by hash")
}

func (m *memKeyStore) ListByUser(ctx context.Context, userID int64) ([]*apikey.Key, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []*apikey.Key
	for _, k := range m.keys {
		if k.UserID == userID {
			copied := *k
			keys = append(keys, &copied)
		}
	}
	return keys, nil
}

func (m *memKeyStore) Revoke(ctx context.Context, userID, keyID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.keys[keyID]
	if !ok || k.UserID != userID || k.RevokedAt != nil {
		return store.NotFound("api key", fmt.Sprintf("%d", keyID))
	}
	now := time.Now()
	k.RevokedAt = &now
	return nil
}

func (m *memKeyStore) TouchLastUsed(ctx context.Context, keyID int64) error { return nil }

type testServer struct {
	server *Server
	users  *memUserStore
	ledger *memLedger
	keys   *memKeyStore
	mock   sqlmock.Sqlmock
}

func newTestServer(t *testing.T, users ...*billing.User) *testServer {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	userStore := newMemUserStore(users...)
	ledger := newMemLedger()
	keys := newMemKeyStore()
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	enforcer := entitlement.NewEnforcer(billing.DefaultPlanLimits())
	recorder := audit.NewRecorder(db)

	server := NewServer(Config{
		Validator:  webhook.NewValidator(map[string]string{"price_pro": "pro"}),
		Reconciler: billing.NewReconciler(userStore, recorder, logger),
		Users:      userStore,
		Ledger:     ledger,
		Gate:       apikey.NewGate(keys, userStore, ledger, enforcer, logger),
		Keys:       keys,
		Recorder:   recorder,
		Metrics:    observability.NewMetrics(prometheus.NewRegistry()),
		Logger:     logger,
	})

	return &testServer{server: server, users: userStore, ledger: ledger, keys: keys, mock: mock}
}

func freeUser(id int64) *billing.User {
	return &billing.User{
		ID:        id,
		Email:     fmt.Sprintf("user%d@example.com", id),
		CreatedAt: time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC),
		Subscription: billing.Subscription{
			Status: billing.StatusNone,
			Plan:   billing.PlanFree,
		},
	}
}

func (ts *testServer) do(method, path string, body []byte, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	ts.server.ServeHTTP(rec, req)
	return rec
}

func TestWebhookAppliesSubscriptionUpdate(t *testing.T) {
	user := freeUser(42)
	user.Subscription.StripeCustomerID = "cus_1"
	user.Subscription.StripeSubscriptionID = "sub_1"
	ts := newTestServer(t, user)

	periodEnd := time.Now().Add(30 * 24 * time.Hour).Unix()
	payload := fmt.Sprintf(`{
		"id": "evt_1",
		"type": "customer.subscription.updated",
		"data": {"object": {
			"id": "sub_1", "customer": "cus_1", "status": "active",
			"current_period_end": %d,
			"items": {"data": [{"price": {"id": "price_pro"}}]}
		}}
	}`, periodEnd)

	rec := ts.do(http.MethodPost, "/v1/webhooks/billing", []byte(payload), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp webhookResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Received)
	assert.True(t, resp.Applied)

	updated, err := ts.users.GetUser(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, billing.StatusActive, updated.Subscription.Status)
	assert.Equal(t, "pro", updated.Subscription.Plan)
}

func TestWebhookAcksInvalidPayload(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/v1/webhooks/billing", []byte(`{"id": "evt_1"}`), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp webhookResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Received)
	assert.False(t, resp.Applied)
}

func TestWebhookAcksUnknownEventType(t *testing.T) {
	ts := newTestServer(t)

	payload := `{"id": "evt_1", "type": "customer.created", "data": {"object": {}}}`
	rec := ts.do(http.MethodPost, "/v1/webhooks/billing", []byte(payload), nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestWebhookAcksEventForUnknownUser(t *testing.T) {
	ts := newTestServer(t)

	payload := `{
		"id": "evt_1",
		"type": "customer.subscription.updated",
		"data": {"object": {
			"id": "sub_missing", "customer": "cus_missing", "status": "active",
			"current_period_end": 1893456000,
			"items": {"data": [{"price": {"id": "price_pro"}}]}
		}}
	}`
	rec := ts.do(http.MethodPost, "/v1/webhooks/billing", []byte(payload), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp webhookResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Applied)
}

func issueKey(t *testing.T, ts *testServer, userID int64) string {
	t.Helper()

	body := []byte(`{"name": "test key"}`)
	rec := ts.do(http.MethodPost, fmt.Sprintf("/v1/users/%d/keys", userID), body, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp createKeyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Key)
	return resp.Key
}

func bearer(key string) http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+key)
	return h
}

func TestMeteredEndpointIncrementsUsage(t *testing.T) {
	ts := newTestServer(t, freeUser(42))
	rawKey := issueKey(t, ts, 42)

	rec := ts.do(http.MethodPost, "/v1/metered/api_calls", nil, bearer(rawKey))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok":true`)

	rec = ts.do(http.MethodGet, "/v1/usage", nil, bearer(rawKey))
	require.Equal(t, http.StatusOK, rec.Code)

	var snap usageSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, int64(1), snap.APICalls)
}

func TestMeteredEndpointRequiresKey(t *testing.T) {
	ts := newTestServer(t, freeUser(42))

	rec := ts.do(http.MethodPost, "/v1/metered/api_calls", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMeteredEndpointUnknownDimension(t *testing.T) {
	ts := newTestServer(t, freeUser(42))
	rawKey := issueKey(t, ts, 42)

	rec := ts.do(http.MethodPost, "/v1/metered/bandwidth", nil, bearer(rawKey))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRevokedKeyIsRejected(t *testing.T) {
	ts := newTestServer(t, freeUser(42))
	rawKey := issueKey(t, ts, 42)

	rec := ts.do(http.MethodDelete, "/v1/users/42/keys/1", nil, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = ts.do(http.MethodPost, "/v1/metered/api_calls", nil, bearer(rawKey))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestUserUsageEndpoint(t *testing.T) {
	ts := newTestServer(t, freeUser(42))

	rec := ts.do(http.MethodGet, "/v1/users/42/usage", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var snap usageSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Zero(t, snap.APICalls)
	assert.True(t, snap.PeriodEnd.After(snap.PeriodStart))
}

func TestUserUsageUnknownUser(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodGet, "/v1/users/99/usage", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUserUsageRejectsPartialWindow(t *testing.T) {
	ts := newTestServer(t, freeUser(42))

	rec := ts.do(http.MethodGet, "/v1/users/42/usage?period_start=2026-08-01T00:00:00Z", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUserUsageExplicitWindowNeverCreatesRecords(t *testing.T) {
	ts := newTestServer(t, freeUser(42))

	// A query for an arbitrary historical period the user was never
	// metered in must not mint a zeroed record for it.
	rec := ts.do(http.MethodGet,
		"/v1/users/42/usage?period_start=2019-01-01T00:00:00Z&period_end=2019-02-01T00:00:00Z", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	ts.ledger.mu.Lock()
	defer ts.ledger.mu.Unlock()
	assert.Empty(t, ts.ledger.records, "read path created a usage record")
}

func TestUserUsageExplicitWindowReturnsMeteredRecord(t *testing.T) {
	ts := newTestServer(t, freeUser(42))
	key := issueKey(t, ts, 42)

	rec := ts.do(http.MethodPost, "/v1/metered/api_calls", nil, bearer(key))
	require.Equal(t, http.StatusOK, rec.Code)

	latest, err := ts.ledger.Latest(context.Background(), 42)
	require.NoError(t, err)

	path := fmt.Sprintf("/v1/users/42/usage?period_start=%s&period_end=%s",
		latest.PeriodStart.UTC().Format(time.RFC3339), latest.PeriodEnd.UTC().Format(time.RFC3339))
	rec = ts.do(http.MethodGet, path, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var snap usageSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, int64(1), snap.APICalls)
}

func TestSubscriptionEndpoint(t *testing.T) {
	user := freeUser(42)
	periodEnd := time.Now().Add(24 * time.Hour)
	user.Subscription.Status = billing.StatusCanceled
	user.Subscription.CurrentPeriodEnd = &periodEnd
	ts := newTestServer(t, user)

	rec := ts.do(http.MethodGet, "/v1/users/42/subscription", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// Canceled but inside the paid period still grants access.
	assert.Contains(t, rec.Body.String(), `"has_active_subscription":true`)
}

func TestListKeysOmitsSecrets(t *testing.T) {
	ts := newTestServer(t, freeUser(42))
	issueKey(t, ts, 42)

	rec := ts.do(http.MethodGet, "/v1/users/42/keys", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "key_prefix")
	assert.NotContains(t, rec.Body.String(), "key_hash")
}
