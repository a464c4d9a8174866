package runs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kiranshivaraju/mailmind/internal/mailmind"
	"github.com/kiranshivaraju/mailmind/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLister serves runs 1..total newest first.
type fakeLister struct {
	mu      sync.Mutex
	all     []models.AnalysisRun
	queries []mailmind.RunsQuery
	err     error
	block   chan struct{}
}

func newFakeLister(statuses ...models.RunStatus) *fakeLister {
	return &fakeLister{all: makeRuns(statuses...)}
}

func (f *fakeLister) ListRuns(ctx context.Context, q mailmind.RunsQuery) (*models.RunPage, error) {
	f.mu.Lock()
	f.queries = append(f.queries, q)
	block, err := f.block, f.err
	f.mu.Unlock()

	if block != nil {
		<-block
	}
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	end := q.Offset + q.Limit
	if end > len(f.all) {
		end = len(f.all)
	}
	var page []models.AnalysisRun
	if q.Offset < len(f.all) {
		page = append(page, f.all[q.Offset:end]...)
	}
	return &models.RunPage{Runs: page, Total: len(f.all), HasMore: end < len(f.all)}, nil
}

func (f *fakeLister) Queries() []mailmind.RunsQuery {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]mailmind.RunsQuery(nil), f.queries...)
}

func TestHistory_ResetAndLoadMore(t *testing.T) {
	lister := newFakeLister(ok, ok, fail, ok, ok, ok, fail, ok, ok, ok, ok, ok)
	h := NewHistory(lister, "alice", 3, 0)
	ctx := context.Background()

	require.NoError(t, h.Reset(ctx))
	assert.Len(t, h.Runs(), 5)
	assert.True(t, h.HasMore())
	assert.Equal(t, 12, h.Total())

	loaded, err := h.LoadMore(ctx)
	require.NoError(t, err)
	assert.True(t, loaded)
	assert.Len(t, h.Runs(), 10)

	loaded, err = h.LoadMore(ctx)
	require.NoError(t, err)
	assert.True(t, loaded)
	assert.Len(t, h.Runs(), 12)
	assert.False(t, h.HasMore())

	loaded, err = h.LoadMore(ctx)
	require.NoError(t, err)
	assert.False(t, loaded)

	qs := lister.Queries()
	require.Len(t, qs, 3)
	assert.Equal(t, []int{0, 5, 10}, []int{qs[0].Offset, qs[1].Offset, qs[2].Offset})
	for _, q := range qs {
		assert.Equal(t, "alice", q.Username)
		assert.Equal(t, int64(3), q.AccountID)
		assert.Equal(t, DefaultPageSize, q.Limit)
	}
}

func TestHistory_ResetRewindsOffset(t *testing.T) {
	lister := newFakeLister(ok, ok, ok, ok, ok, ok, ok)
	h := NewHistory(lister, "alice", 3, 5)
	ctx := context.Background()

	require.NoError(t, h.Reset(ctx))
	_, err := h.LoadMore(ctx)
	require.NoError(t, err)
	require.NoError(t, h.Reset(ctx))
	assert.Len(t, h.Runs(), 5)

	_, err = h.LoadMore(ctx)
	require.NoError(t, err)
	qs := lister.Queries()
	assert.Equal(t, 5, qs[len(qs)-1].Offset)
}

func TestHistory_LoadMoreBeforeResetIsNoop(t *testing.T) {
	lister := newFakeLister(ok)
	h := NewHistory(lister, "alice", 3, 5)

	loaded, err := h.LoadMore(context.Background())
	require.NoError(t, err)
	assert.False(t, loaded)
	assert.Empty(t, lister.Queries())
}

func TestHistory_ErrorsKeepRuns(t *testing.T) {
	lister := newFakeLister(ok, ok, ok, ok, ok, ok)
	h := NewHistory(lister, "alice", 3, 5)
	ctx := context.Background()
	require.NoError(t, h.Reset(ctx))

	boom := errors.New("backend down")
	lister.mu.Lock()
	lister.err = boom
	lister.mu.Unlock()

	_, err := h.LoadMore(ctx)
	assert.ErrorIs(t, err, boom)
	assert.Len(t, h.Runs(), 5)
	assert.False(t, h.LoadingMore())
	assert.True(t, h.HasMore())

	err = h.Reset(ctx)
	assert.ErrorIs(t, err, boom)
	assert.Len(t, h.Runs(), 5)
}

func TestHistory_ConcurrentLoadMoreIgnored(t *testing.T) {
	lister := newFakeLister(ok, ok, ok, ok, ok, ok, ok)
	h := NewHistory(lister, "alice", 3, 5)
	ctx := context.Background()
	require.NoError(t, h.Reset(ctx))

	release := make(chan struct{})
	lister.mu.Lock()
	lister.block = release
	lister.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		loaded, err := h.LoadMore(ctx)
		assert.NoError(t, err)
		assert.True(t, loaded)
	}()

	require.Eventually(t, h.LoadingMore, time.Second, time.Millisecond)
	loaded, err := h.LoadMore(ctx)
	require.NoError(t, err)
	assert.False(t, loaded)

	close(release)
	<-done
	assert.Len(t, h.Runs(), 7)
	assert.Len(t, lister.Queries(), 2)
}

func TestHistory_ResetDiscardsInFlightLoadMore(t *testing.T) {
	lister := newFakeLister(ok, ok, ok, ok, ok, ok, ok)
	h := NewHistory(lister, "alice", 3, 5)
	ctx := context.Background()
	require.NoError(t, h.Reset(ctx))

	release := make(chan struct{})
	lister.mu.Lock()
	lister.block = release
	lister.mu.Unlock()

	done := make(chan bool)
	go func() {
		loaded, _ := h.LoadMore(ctx)
		done <- loaded
	}()
	require.Eventually(t, h.LoadingMore, time.Second, time.Millisecond)

	resetDone := make(chan error)
	go func() { resetDone <- h.Reset(ctx) }()
	require.Eventually(t, func() bool { return len(lister.Queries()) == 3 }, time.Second, time.Millisecond)

	close(release)
	assert.False(t, <-done)
	require.NoError(t, <-resetDone)
	assert.Len(t, h.Runs(), 5)
}

func TestReconcileRunning(t *testing.T) {
	list := makeRuns(ok, models.RunStatusProcessing, models.RunStatusPending, fail)

	tests := []struct {
		name    string
		current int64
		runs    []models.AnalysisRun
		want    int64
	}{
		{"adopt first active when empty", 0, list, 2},
		{"keep current when still active", 3, list, 3},
		{"replace stale current", 4, list, 2},
		{"replace unknown current", 99, list, 2},
		{"clear when nothing active", 2, makeRuns(ok, fail), 0},
		{"no runs", 5, nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ReconcileRunning(tt.current, tt.runs))
		})
	}
}
