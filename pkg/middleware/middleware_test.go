package middleware

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metergate/metergate/pkg/apikey"
	"github.com/metergate/metergate/pkg/billing"
	"github.com/metergate/metergate/pkg/entitlement"
	"github.com/metergate/metergate/pkg/observability"
	"github.com/metergate/metergate/pkg/store"
	"github.com/metergate/metergate/pkg/usage"
)

type fakeKeyStore struct {
	byHash map[string]*apikey.Key
}

func (f *fakeKeyStore) Create(ctx context.Context, key *apikey.Key) (*apikey.Key, error) {
	return key, nil
}

func (f *fakeKeyStore) GetByHash(ctx context.Context, keyHash string) (*apikey.Key, error) {
	if key, ok := f.byHash[keyHash]; ok {
		return key, nil
	}
	return nil, store.NotFound("api key", "by hash")
}

func (f *fakeKeyStore) ListByUser(ctx context.Context, userID int64) ([]*apikey.Key, error) {
	return nil, nil
}

func (f *fakeKeyStore) Revoke(ctx context.Context, userID, keyID int64) error { return nil }

func (f *fakeKeyStore) TouchLastUsed(ctx context.Context, keyID int64) error { return nil }

type fakeUserStore struct {
	user *billing.User
}

func (f *fakeUserStore) GetUser(ctx context.Context, id int64) (*billing.User, error) {
	if f.user != nil && f.user.ID == id {
		return f.user, nil
	}
	return nil, store.NotFound("user", "by id")
}

func (f *fakeUserStore) GetUserByEmail(ctx context.Context, email string) (*billing.User, error) {
	return nil, store.NotFound("user", email)
}

func (f *fakeUserStore) GetUserByStripeCustomerID(ctx context.Context, id string) (*billing.User, error) {
	return nil, store.NotFound("user", id)
}

func (f *fakeUserStore) GetUserByStripeSubscriptionID(ctx context.Context, id string) (*billing.User, error) {
	return nil, store.NotFound("user", id)
}

func (f *fakeUserStore) UpdateSubscription(ctx context.Context, userID int64, sub billing.Subscription) (*billing.User, error) {
	return f.user, nil
}

func (f *fakeUserStore) ListUserIDs(ctx context.Context) ([]int64, error) { return nil, nil }

type fakeLedger struct {
	records map[int64]*usage.Record
}

func (f *fakeLedger) GetOrCreate(ctx context.Context, userID int64, window billing.Window) (*usage.Record, error) {
	if r, ok := f.records[userID]; ok {
		return r, nil
	}
	r := &usage.Record{UserID: userID, PeriodStart: window.Start, PeriodEnd: window.End}
	f.records[userID] = r
	return r, nil
}

func (f *fakeLedger) Get(ctx context.Context, userID int64, window billing.Window) (*usage.Record, error) {
	if r, ok := f.records[userID]; ok {
		return r, nil
	}
	return nil, store.NotFound("usage record", "by period")
}

func (f *fakeLedger) Increment(ctx context.Context, userID int64, dimension billing.Dimension, amount int64, window billing.Window) (*usage.Record, error) {
	r, _ := f.GetOrCreate(ctx, userID, window)
	if dimension == billing.DimensionAPICalls {
		r.APICalls += amount
	}
	return r, nil
}

func (f *fakeLedger) Latest(ctx context.Context, userID int64) (*usage.Record, error) {
	if r, ok := f.records[userID]; ok {
		return r, nil
	}
	return nil, store.NotFound("usage record", "latest")
}

func (f *fakeLedger) History(ctx context.Context, userID int64, limit int) ([]*usage.Record, error) {
	return nil, nil
}

type testEnv struct {
	gate    *apikey.Gate
	metrics *observability.Metrics
	ledger  *fakeLedger
	rawKey  string
	keys    *fakeKeyStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	rawKey, keyHash, keyPrefix, err := apikey.GenerateKey()
	require.NoError(t, err)

	keys := &fakeKeyStore{byHash: map[string]*apikey.Key{
		keyHash: {ID: 7, UserID: 42, Name: "test", KeyHash: keyHash, KeyPrefix: keyPrefix},
	}}
	users := &fakeUserStore{user: &billing.User{
		ID:        42,
		CreatedAt: time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC),
		Subscription: billing.Subscription{
			Plan:   billing.PlanFree,
			Status: billing.StatusNone,
		},
	}}
	ledger := &fakeLedger{records: make(map[int64]*usage.Record)}
	enforcer := entitlement.NewEnforcer(billing.DefaultPlanLimits())
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)

	return &testEnv{
		gate:    apikey.NewGate(keys, users, ledger, enforcer, logger),
		metrics: observability.NewMetrics(prometheus.NewRegistry()),
		ledger:  ledger,
		rawKey:  rawKey,
		keys:    keys,
	}
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAPIKeyAuthMissingKey(t *testing.T) {
	env := newTestEnv(t)
	handler := APIKeyAuth(env.gate, env.metrics)(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAPIKeyAuthRevokedKey(t *testing.T) {
	env := newTestEnv(t)
	revokedAt := time.Now()
	env.keys.byHash[apikey.HashKey(env.rawKey)].RevokedAt = &revokedAt

	handler := APIKeyAuth(env.gate, env.metrics)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+env.rawKey)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAPIKeyAuthSetsContext(t *testing.T) {
	env := newTestEnv(t)

	var gotUser *billing.User
	var gotKey *apikey.Key
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = UserFromContext(r.Context())
		gotKey = KeyFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	handler := APIKeyAuth(env.gate, env.metrics)(inner)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+env.rawKey)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, gotUser)
	assert.Equal(t, int64(42), gotUser.ID)
	require.NotNil(t, gotKey)
	assert.Equal(t, int64(7), gotKey.ID)
}

func TestMeteredCommitsOnSuccess(t *testing.T) {
	env := newTestEnv(t)
	chain := APIKeyAuth(env.gate, env.metrics)(
		Metered(env.gate, env.metrics, StaticDimension(billing.DimensionAPICalls))(okHandler()))

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Bearer "+env.rawKey)
	rec := httptest.NewRecorder()
	chain.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(1), env.ledger.records[42].APICalls)
}

func TestMeteredSkipsCommitOnHandlerFailure(t *testing.T) {
	env := newTestEnv(t)
	failing := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	chain := APIKeyAuth(env.gate, env.metrics)(
		Metered(env.gate, env.metrics, StaticDimension(billing.DimensionAPICalls))(failing))

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Bearer "+env.rawKey)
	rec := httptest.NewRecorder()
	chain.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Zero(t, env.ledger.records[42].APICalls)
}

func TestMeteredDeniesOverLimit(t *testing.T) {
	env := newTestEnv(t)

	window := billing.Window{
		Start: time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 9, 10, 0, 0, 0, 0, time.UTC),
	}
	_, err := env.ledger.Increment(context.Background(), 42, billing.DimensionAPICalls, 1000, window)
	require.NoError(t, err)

	chain := APIKeyAuth(env.gate, env.metrics)(
		Metered(env.gate, env.metrics, StaticDimension(billing.DimensionAPICalls))(okHandler()))

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Bearer "+env.rawKey)
	rec := httptest.NewRecorder()
	chain.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "1000")
	assert.Equal(t, int64(1000), env.ledger.records[42].APICalls)
}

func TestMeteredRejectsUnknownDimension(t *testing.T) {
	env := newTestEnv(t)
	chain := APIKeyAuth(env.gate, env.metrics)(
		Metered(env.gate, env.metrics, StaticDimension(billing.Dimension("bandwidth")))(okHandler()))

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Bearer "+env.rawKey)
	rec := httptest.NewRecorder()
	chain.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRequireScope(t *testing.T) {
	scoped := &apikey.Key{Scopes: []string{"usage:read"}}
	user := &billing.User{ID: 42}

	handler := RequireScope("metered:write")(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req = req.WithContext(WithAuth(req.Context(), user, scoped))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	unrestricted := &apikey.Key{}
	req = httptest.NewRequest(http.MethodPost, "/", nil)
	req = req.WithContext(WithAuth(req.Context(), user, unrestricted))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
