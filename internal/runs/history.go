package runs

import (
	"context"
	"fmt"
	"sync"

	"github.com/kiranshivaraju/mailmind/internal/mailmind"
	"github.com/kiranshivaraju/mailmind/pkg/models"
)

// DefaultPageSize is the number of runs fetched per page.
const DefaultPageSize = 5

// Lister fetches one page of run history.
type Lister interface {
	ListRuns(ctx context.Context, q mailmind.RunsQuery) (*models.RunPage, error)
}

// History is the paged run list for one account, newest first.
type History struct {
	lister    Lister
	username  string
	accountID int64
	pageSize  int

	mu          sync.Mutex
	runs        []models.AnalysisRun
	offset      int
	total       int
	hasMore     bool
	loadingMore bool
	gen         int
}

// NewHistory creates an empty history. pageSize <= 0 uses DefaultPageSize.
func NewHistory(lister Lister, username string, accountID int64, pageSize int) *History {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &History{
		lister:    lister,
		username:  username,
		accountID: accountID,
		pageSize:  pageSize,
		runs:      []models.AnalysisRun{},
	}
}

// Reset reloads the first page. On error the previously loaded runs are kept.
// A LoadMore still in flight when Reset is called has its result discarded.
func (h *History) Reset(ctx context.Context) error {
	h.mu.Lock()
	h.gen++
	gen := h.gen
	h.loadingMore = false
	h.mu.Unlock()

	page, err := h.fetch(ctx, 0)

	h.mu.Lock()
	defer h.mu.Unlock()
	if gen != h.gen {
		return nil
	}
	if err != nil {
		return err
	}
	h.runs = page.Runs
	h.offset = h.pageSize
	h.total = page.Total
	h.hasMore = page.HasMore
	return nil
}

// LoadMore appends the next page. It reports false without a request when a
// page is already loading or there is nothing more to load.
func (h *History) LoadMore(ctx context.Context) (bool, error) {
	h.mu.Lock()
	if h.loadingMore || !h.hasMore {
		h.mu.Unlock()
		return false, nil
	}
	h.loadingMore = true
	gen := h.gen
	offset := h.offset
	h.mu.Unlock()

	page, err := h.fetch(ctx, offset)

	h.mu.Lock()
	defer h.mu.Unlock()
	if gen != h.gen {
		return false, nil
	}
	h.loadingMore = false
	if err != nil {
		return false, err
	}
	h.runs = append(h.runs, page.Runs...)
	h.offset += h.pageSize
	h.total = page.Total
	h.hasMore = page.HasMore
	return true, nil
}

func (h *History) fetch(ctx context.Context, offset int) (*models.RunPage, error) {
	page, err := h.lister.ListRuns(ctx, mailmind.RunsQuery{
		Username:  h.username,
		AccountID: h.accountID,
		Limit:     h.pageSize,
		Offset:    offset,
	})
	if err != nil {
		return nil, fmt.Errorf("loading analysis runs at offset %d: %w", offset, err)
	}
	if page.Runs == nil {
		page.Runs = []models.AnalysisRun{}
	}
	return page, nil
}

// Runs returns a copy of the loaded runs.
func (h *History) Runs() []models.AnalysisRun {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]models.AnalysisRun{}, h.runs...)
}

// Entries returns the loaded runs grouped for display.
func (h *History) Entries() []Entry {
	return Group(h.Runs())
}

func (h *History) HasMore() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hasMore
}

func (h *History) LoadingMore() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.loadingMore
}

func (h *History) Total() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.total
}

// ReconcileRunning picks the running run id given the current one and a
// freshly loaded run list. The current id is kept while it is still active
// in runs; otherwise the first active run is adopted. Zero means none.
func ReconcileRunning(current int64, runs []models.AnalysisRun) int64 {
	var first int64
	for _, r := range runs {
		if !r.Status.IsActive() {
			continue
		}
		if first == 0 {
			first = r.ID
		}
		if current != 0 && r.ID == current {
			return current
		}
	}
	return first
}
