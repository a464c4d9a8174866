// Package runs shapes analysis run history for display: it collapses
// streaks of failed runs and pages through the backend's run list.
package runs

import "github.com/kiranshivaraju/mailmind/pkg/models"

// Kind distinguishes a lone run from a collapsed streak of failures.
type Kind string

const (
	KindSingle      Kind = "single"
	KindFailedGroup Kind = "failed-group"
)

// Entry is one row of the history view.
type Entry struct {
	Kind Kind                 `json:"type"`
	Runs []models.AnalysisRun `json:"runs"`

	// GroupIndex numbers failed groups 0, 1, 2... in display order.
	// Nil for singles.
	GroupIndex *int `json:"group_index,omitempty"`
}

// Span returns the start date of the first run and the end date of the last.
func (e Entry) Span() (start, end models.Timestamp) {
	if len(e.Runs) == 0 {
		return models.Timestamp{}, models.Timestamp{}
	}
	return e.Runs[0].StartDate, e.Runs[len(e.Runs)-1].EndDate
}

// Group collapses every maximal streak of two or more consecutive failed
// runs into one failed-group entry. Order is preserved and a lone failure
// stays a single.
func Group(runs []models.AnalysisRun) []Entry {
	entries := make([]Entry, 0, len(runs))
	var streak []models.AnalysisRun
	next := 0

	flush := func() {
		switch {
		case len(streak) > 1:
			idx := next
			next++
			entries = append(entries, Entry{Kind: KindFailedGroup, Runs: streak, GroupIndex: &idx})
		case len(streak) == 1:
			entries = append(entries, Entry{Kind: KindSingle, Runs: streak})
		}
		streak = nil
	}

	for _, run := range runs {
		if run.Status == models.RunStatusFailed {
			streak = append(streak, run)
			continue
		}
		flush()
		entries = append(entries, Entry{Kind: KindSingle, Runs: []models.AnalysisRun{run}})
	}
	flush()

	return entries
}

// Flatten returns the runs of entries in order. Group(Flatten(Group(x)))
// equals Group(x).
func Flatten(entries []Entry) []models.AnalysisRun {
	var n int
	for _, e := range entries {
		n += len(e.Runs)
	}
	out := make([]models.AnalysisRun, 0, n)
	for _, e := range entries {
		out = append(out, e.Runs...)
	}
	return out
}

// FailedRunIDs lists the runs in entries that can be retried.
func FailedRunIDs(entries []Entry) []int64 {
	var ids []int64
	for _, e := range entries {
		for _, r := range e.Runs {
			if r.Status == models.RunStatusFailed {
				ids = append(ids, r.ID)
			}
		}
	}
	return ids
}
