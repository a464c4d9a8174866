package session_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/kiranshivaraju/mailmind/internal/cache"
	"github.com/kiranshivaraju/mailmind/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Mock Cache ---

type mockCache struct {
	mu   sync.Mutex
	data map[string][]byte
	ttls map[string]time.Duration
	err  error
}

func newMockCache() *mockCache {
	return &mockCache{data: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (c *mockCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.data[key] = value
	c.ttls[key] = ttl
	return nil
}

func (c *mockCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, false, c.err
	}
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *mockCache) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.data, k)
	}
	return nil
}

func (c *mockCache) Ping(_ context.Context) error { return nil }

func (c *mockCache) IncrWithExpiry(_ context.Context, _ string, _ time.Duration) (int64, error) {
	return 1, nil
}

// --- FileStore ---

func TestFileStore_Lifecycle(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")
	s := session.NewFileStore(dir)
	ctx := context.Background()

	_, err := s.Load(ctx)
	assert.ErrorIs(t, err, session.ErrNoUsername)

	require.NoError(t, s.Save(ctx, "  alice  "))
	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "alice", got)

	raw, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.JSONEq(t, `{"mailmind_username":"alice"}`, string(raw))

	require.NoError(t, s.Clear(ctx))
	_, err = s.Load(ctx)
	assert.ErrorIs(t, err, session.ErrNoUsername)

	assert.NoError(t, s.Clear(ctx), "clearing twice is fine")
}

func TestFileStore_RejectsEmpty(t *testing.T) {
	s := session.NewFileStore(t.TempDir())
	err := s.Save(context.Background(), "   ")
	assert.ErrorIs(t, err, session.ErrEmptyUsername)
}

func TestFileStore_Corrupt(t *testing.T) {
	dir := t.TempDir()
	s := session.NewFileStore(dir)
	require.NoError(t, os.WriteFile(s.Path(), []byte("nope"), 0o600))

	_, err := s.Load(context.Background())
	assert.Error(t, err)
	assert.False(t, errors.Is(err, session.ErrNoUsername))
}

// --- CacheStore ---

func TestCacheStore_Lifecycle(t *testing.T) {
	c := newMockCache()
	s := session.NewCacheStore(c, "sess-1", 0)
	ctx := context.Background()

	_, err := s.Load(ctx)
	assert.ErrorIs(t, err, session.ErrNoUsername)

	require.NoError(t, s.Save(ctx, "bob"))
	assert.Equal(t, session.DefaultTTL, c.ttls[cache.SessionKey("sess-1")])

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "bob", got)

	other := session.NewCacheStore(c, "sess-2", time.Hour)
	_, err = other.Load(ctx)
	assert.ErrorIs(t, err, session.ErrNoUsername)

	require.NoError(t, s.Clear(ctx))
	_, err = s.Load(ctx)
	assert.ErrorIs(t, err, session.ErrNoUsername)
}

func TestCacheStore_CacheError(t *testing.T) {
	c := newMockCache()
	c.err = errors.New("redis down")
	s := session.NewCacheStore(c, "sess-1", time.Hour)

	_, err := s.Load(context.Background())
	assert.Error(t, err)
	assert.False(t, errors.Is(err, session.ErrNoUsername))
}

func TestNewSessionID_Unique(t *testing.T) {
	assert.NotEqual(t, session.NewSessionID(), session.NewSessionID())
}
