package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/mailmind/internal/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis spins up a Redis container and returns a connected RedisCache + cleanup.
func setupRedis(t *testing.T) *cache.RedisCache {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, container.Terminate(ctx)) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	redisURL := "redis://" + host + ":" + port.Port()
	rc, err := cache.NewRedisCache(redisURL)
	require.NoError(t, err)

	return rc
}

// --- Ping ---

func TestPing(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	err := rc.Ping(context.Background())
	assert.NoError(t, err)
}

// --- Set / Get roundtrip ---

func TestSetGet_Roundtrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()

	err := rc.Set(ctx, "test:key", []byte("hello"), 10*time.Second)
	require.NoError(t, err)

	val, found, err := rc.Get(ctx, "test:key")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("hello"), val)
}

func TestGet_NotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)

	val, found, err := rc.Get(context.Background(), "nonexistent:key")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, val)
}

func TestSet_TTLExpiry(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()

	err := rc.Set(ctx, "expiry:key", []byte("temp"), 1*time.Second)
	require.NoError(t, err)

	// Immediately should exist
	_, found, err := rc.Get(ctx, "expiry:key")
	require.NoError(t, err)
	assert.True(t, found)

	// Wait for TTL to expire
	time.Sleep(1500 * time.Millisecond)

	_, found, err = rc.Get(ctx, "expiry:key")
	require.NoError(t, err)
	assert.False(t, found)
}

// --- Delete ---

func TestDelete(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()

	require.NoError(t, rc.Set(ctx, "del:key", []byte("bye"), 10*time.Second))

	err := rc.Delete(ctx, "del:key")
	require.NoError(t, err)

	_, found, err := rc.Get(ctx, "del:key")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestDelete_NonExistent(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)

	err := rc.Delete(context.Background(), "does:not:exist")
	assert.NoError(t, err)
}

func TestDelete_Many(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()

	keys := cache.InsightKeys("alice", 3)
	for _, k := range keys {
		require.NoError(t, rc.Set(ctx, k, []byte("{}"), time.Minute))
	}
	require.NoError(t, rc.Set(ctx, cache.InsightsKey("alice", 4, cache.InsightSenders), []byte("{}"), time.Minute))

	require.NoError(t, rc.Delete(ctx, keys...))
	for _, k := range keys {
		_, found, err := rc.Get(ctx, k)
		require.NoError(t, err)
		assert.False(t, found, k)
	}

	_, found, err := rc.Get(ctx, cache.InsightsKey("alice", 4, cache.InsightSenders))
	require.NoError(t, err)
	assert.True(t, found, "other accounts are untouched")

	assert.NoError(t, rc.Delete(ctx))
}

// --- JSON helpers ---

func TestSetGetJSON(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()

	type payload struct {
		Total int      `json:"total"`
		Names []string `json:"names"`
	}
	in := payload{Total: 2, Names: []string{"a", "b"}}
	require.NoError(t, cache.SetJSON(ctx, rc, "json:key", in, time.Minute))

	var out payload
	found, err := cache.GetJSON(ctx, rc, "json:key", &out)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, in, out)

	found, err = cache.GetJSON(ctx, rc, "json:missing", &out)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestGetJSON_Corrupt(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()
	require.NoError(t, rc.Set(ctx, "json:bad", []byte("{not json"), time.Minute))

	var out map[string]any
	found, err := cache.GetJSON(ctx, rc, "json:bad", &out)
	assert.Error(t, err)
	assert.False(t, found)
}

// --- IncrWithExpiry ---

func TestIncrWithExpiry(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()
	key := "ratelimit:test:" + uuid.NewString()[:8]

	val, err := rc.IncrWithExpiry(ctx, key, 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), val)

	val, err = rc.IncrWithExpiry(ctx, key, 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(2), val)

	val, err = rc.IncrWithExpiry(ctx, key, 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(3), val)
}

func TestIncrWithExpiry_Expires(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()
	key := "ratelimit:expiry:" + uuid.NewString()[:8]

	_, err := rc.IncrWithExpiry(ctx, key, 1*time.Second)
	require.NoError(t, err)

	time.Sleep(1500 * time.Millisecond)

	// After expiry, should start from 1 again
	val, err := rc.IncrWithExpiry(ctx, key, 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), val)
}

// --- Cache Key Builders ---

func TestInsightsKey(t *testing.T) {
	assert.Equal(t, "insights:alice:3:senders", cache.InsightsKey("alice", 3, cache.InsightSenders))
}

func TestSummaryKey(t *testing.T) {
	assert.Equal(t, "insights:alice:summary", cache.SummaryKey("alice"))
}

func TestInsightKeys(t *testing.T) {
	keys := cache.InsightKeys("alice", 3)
	assert.Equal(t, []string{
		"insights:alice:3:senders",
		"insights:alice:3:categories",
		"insights:alice:3:frequency",
		"insights:alice:3:yearly",
		"insights:alice:summary",
	}, keys)
}

func TestRateLimitKey(t *testing.T) {
	key := cache.RateLimitKey("mm_abcd1234")
	assert.Equal(t, "ratelimit:mm_abcd1234", key)
}

func TestSessionKey(t *testing.T) {
	assert.Equal(t, "session:abc", cache.SessionKey("abc"))
}

func TestKeyBuilders_NonColliding(t *testing.T) {
	keys := map[string]bool{
		cache.InsightsKey("alice", 1, cache.InsightSenders): true,
		cache.InsightsKey("alice", 2, cache.InsightSenders): true,
		cache.SummaryKey("alice"):                           true,
		cache.RateLimitKey("mm_prefix"):                     true,
		cache.SessionKey("alice"):                           true,
	}
	assert.Len(t, keys, 5, "all keys should be unique")
}
