package dashboard

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/kiranshivaraju/mailmind/internal/poller"
	"github.com/kiranshivaraju/mailmind/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) (*Registry, *fakeBackend) {
	t.Helper()
	b := newFakeBackend()
	r := NewRegistry(Options{
		Backend: b,
		Clock:   poller.NewManualClock(time.Now()),
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	t.Cleanup(r.Close)
	return r, b
}

func TestRegistry_GetOpensOnce(t *testing.T) {
	r, b := newTestRegistry(t)

	s1, err := r.Get(context.Background(), "  alice ")
	require.NoError(t, err)
	assert.Equal(t, "alice", s1.Username())
	assert.Equal(t, int64(1), s1.View().SelectedAccountID)

	s2, err := r.Get(context.Background(), "alice")
	require.NoError(t, err)
	assert.Same(t, s1, s2)

	accounts, _, _, _ := b.counts()
	assert.Equal(t, 1, accounts)
}

func TestRegistry_EmptyUsername(t *testing.T) {
	r, _ := newTestRegistry(t)
	_, err := r.Get(context.Background(), "   ")
	assert.ErrorIs(t, err, session.ErrEmptyUsername)
}

func TestRegistry_Lookup(t *testing.T) {
	r, _ := newTestRegistry(t)
	_, ok := r.Lookup("bob")
	assert.False(t, ok)
	assert.Zero(t, r.Len(), "lookup never creates a screen")

	_, err := r.Get(context.Background(), "bob")
	require.NoError(t, err)
	s, ok := r.Lookup("bob")
	require.True(t, ok)
	assert.Equal(t, "bob", s.Username())
}

func TestRegistry_ClosedRejectsGet(t *testing.T) {
	r, _ := newTestRegistry(t)
	_, err := r.Get(context.Background(), "alice")
	require.NoError(t, err)

	r.Close()
	_, ok := r.Lookup("alice")
	assert.False(t, ok)
	_, err = r.Get(context.Background(), "alice")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRegistry_ConcurrentGetWaitsForOpen(t *testing.T) {
	r, b := newTestRegistry(t)
	gate := make(chan struct{})
	var release sync.Once
	t.Cleanup(func() { release.Do(func() { close(gate) }) })
	b.mu.Lock()
	b.accountsGate = gate
	b.mu.Unlock()

	first := make(chan *Screen, 1)
	go func() {
		s, _ := r.Get(context.Background(), "alice")
		first <- s
	}()
	require.Eventually(t, func() bool { return r.Len() == 1 }, time.Second, time.Millisecond)

	second := make(chan *Screen, 1)
	go func() {
		s, _ := r.Get(context.Background(), "alice")
		second <- s
	}()
	select {
	case <-second:
		t.Fatal("second caller got the screen before it was opened")
	case <-time.After(20 * time.Millisecond):
	}
	_, ok := r.Lookup("alice")
	assert.False(t, ok, "a screen still opening is not looked up")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Get(ctx, "alice")
	assert.ErrorIs(t, err, context.Canceled)

	release.Do(func() { close(gate) })
	s1, s2 := <-first, <-second
	require.NotNil(t, s2)
	assert.Same(t, s1, s2)
	assert.Equal(t, int64(1), s2.View().SelectedAccountID)
}

func TestRegistry_EvictsIdleScreens(t *testing.T) {
	now := &stepClock{t: testNow}
	r := NewRegistry(Options{
		Backend: newFakeBackend(),
		Clock:   poller.NewManualClock(testNow),
		Now:     now.Now,
		IdleTTL: 5 * time.Minute,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	t.Cleanup(r.Close)
	ctx := context.Background()

	idle, err := r.Get(ctx, "alice")
	require.NoError(t, err)
	busy, err := r.Get(ctx, "bob")
	require.NoError(t, err)
	_, err = busy.AuthorizeGmail(ctx, "b@gmail.com")
	require.NoError(t, err)

	now.Add(6 * time.Minute)
	_, err = r.Get(ctx, "carol")
	require.NoError(t, err)

	assert.Equal(t, 2, r.Len())
	_, ok := r.Lookup("alice")
	assert.False(t, ok)
	kept, ok := r.Lookup("bob")
	require.True(t, ok, "a screen with a pending sign-in is kept")
	assert.Same(t, busy, kept)

	again, err := r.Get(ctx, "alice")
	require.NoError(t, err)
	assert.NotSame(t, idle, again)
}
