package agent

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trapline-ai/trapline/pkg/patterns"
)

func newTestRedisStore(t *testing.T, ttl time.Duration) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := NewRedisStore("redis://"+mr.Addr(), ttl)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store, mr
}

func TestNewRedisStoreBadURL(t *testing.T) {
	_, err := NewRedisStore("not-a-url", time.Hour)
	assert.Error(t, err)
}

func TestNewRedisStoreUnreachable(t *testing.T) {
	_, err := NewRedisStore("redis://127.0.0.1:1", time.Hour)
	assert.Error(t, err)
}

func TestRedisStoreMissIsNotError(t *testing.T) {
	store, _ := newTestRedisStore(t, time.Hour)

	got, err := store.Get(context.Background(), "never-seen")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedisStoreRoundTrip(t *testing.T) {
	store, _ := newTestRedisStore(t, time.Hour)
	ctx := context.Background()

	s := NewSession("sess-1")
	s.Phase = PhaseBuildingTrust
	s.Category = patterns.CategoryBankImpersonation
	s.ScamDetected = true
	s.Confidence = 0.72
	s.AppendTurn(RoleScammer, "your account is blocked, update kyc", 15)
	s.Intel = append(s.Intel, Entity{
		Type:       patterns.EntityUPI,
		Raw:        "Fraud@Paytm",
		Normalized: "fraud@paytm",
		Source:     SourceRegex,
		Confidence: RegexConfidence,
		Provider:   "Paytm Payments Bank",
	})
	require.NoError(t, store.Put(ctx, s))

	got, err := store.Get(ctx, "sess-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, PhaseBuildingTrust, got.Phase)
	assert.Equal(t, patterns.CategoryBankImpersonation, got.Category)
	assert.Equal(t, 0.72, got.Confidence)
	require.Len(t, got.Intel, 1)
	assert.Equal(t, "fraud@paytm", got.Intel[0].Normalized)
	assert.Equal(t, "Paytm Payments Bank", got.Intel[0].Provider)
	require.Len(t, got.History, 1)
	assert.Equal(t, RoleScammer, got.History[0].Role)
}

func TestRedisStoreTTLExpiry(t *testing.T) {
	store, mr := newTestRedisStore(t, 10*time.Second)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, NewSession("short-lived")))

	mr.FastForward(11 * time.Second)

	got, err := store.Get(ctx, "short-lived")
	require.NoError(t, err)
	assert.Nil(t, got, "expired session should read as a miss")
}

func TestRedisStoreTTLRefreshOnPut(t *testing.T) {
	store, mr := newTestRedisStore(t, 10*time.Second)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, NewSession("active")))
	mr.FastForward(8 * time.Second)
	require.NoError(t, store.Put(ctx, NewSession("active")))
	mr.FastForward(8 * time.Second)

	got, err := store.Get(ctx, "active")
	require.NoError(t, err)
	assert.NotNil(t, got, "put should reset the TTL clock")
}

func TestRedisStoreCorruptPayloadReadsAsMiss(t *testing.T) {
	store, mr := newTestRedisStore(t, time.Hour)

	require.NoError(t, mr.Set(redisKeyPrefix+"mangled", "{not json"))

	got, err := store.Get(context.Background(), "mangled")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedisStoreDelete(t *testing.T) {
	store, _ := newTestRedisStore(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, NewSession("gone")))
	require.NoError(t, store.Delete(ctx, "gone"))

	got, err := store.Get(ctx, "gone")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedisStoreStats(t *testing.T) {
	store, _ := newTestRedisStore(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, NewSession("a")))
	require.NoError(t, store.Put(ctx, NewSession("b")))

	stats := store.Stats()
	assert.Equal(t, "redis", stats.Backend)
	assert.Equal(t, 2, stats.SessionCount)
}

func TestRedisStorePing(t *testing.T) {
	store, mr := newTestRedisStore(t, time.Hour)

	assert.NoError(t, store.Ping(context.Background()))

	mr.Close()
	assert.Error(t, store.Ping(context.Background()))
}
