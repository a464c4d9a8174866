// Package coverage turns processed date ranges into per-month coverage
// buckets and the gaps between them.
//
// All arithmetic is on calendar days. A range covers both its start and end
// day, so 2024-01-10..2024-01-20 is 11 days.
package coverage

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/kiranshivaraju/mailmind/pkg/models"
)

// MonthLabelLayout formats MonthCoverage.Month.
const MonthLabelLayout = "Jan 2006"

// DateLayout formats dates in user-facing messages.
const DateLayout = "2006-01-02"

// emptyWindowMonths is how far back the window reaches with no ranges.
const emptyWindowMonths = 12

// day truncates t to midnight UTC of its calendar date.
func day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func monthStart(t time.Time) time.Time {
	y, m, _ := t.Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
}

func monthEnd(t time.Time) time.Time {
	y, m, _ := t.Date()
	return time.Date(y, m+1, 0, 0, 0, 0, 0, time.UTC)
}

// inclusiveDays counts the calendar days from a through b, both included.
func inclusiveDays(a, b time.Time) int {
	return int(b.Sub(a).Hours()/24) + 1
}

// clean drops ranges with missing bounds, swaps reversed bounds, truncates
// both ends to whole days, and sorts by start date.
func clean(ranges []models.ProcessedRange) []models.ProcessedRange {
	out := make([]models.ProcessedRange, 0, len(ranges))
	for _, r := range ranges {
		if r.StartDate.IsZero() || r.EndDate.IsZero() {
			continue
		}
		start, end := day(r.StartDate.Time), day(r.EndDate.Time)
		if end.Before(start) {
			start, end = end, start
		}
		r.StartDate = models.NewTimestamp(start)
		r.EndDate = models.NewTimestamp(end)
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartDate.Before(out[j].StartDate.Time)
	})
	return out
}

// Normalize returns ranges sorted by start with reversed bounds swapped and
// overlapping or adjacent ranges merged. Merged ranges sum their email counts
// and keep the latest ProcessedAt.
func Normalize(ranges []models.ProcessedRange) []models.ProcessedRange {
	sorted := clean(ranges)
	merged := make([]models.ProcessedRange, 0, len(sorted))
	for _, r := range sorted {
		if n := len(merged); n > 0 {
			last := &merged[n-1]
			if !r.StartDate.After(last.EndDate.AddDate(0, 0, 1)) {
				if r.EndDate.After(last.EndDate.Time) {
					last.EndDate = r.EndDate
				}
				last.EmailsCount += r.EmailsCount
				if r.ProcessedAt.After(last.ProcessedAt.Time) {
					last.ProcessedAt = r.ProcessedAt
				}
				continue
			}
		}
		merged = append(merged, r)
	}
	return merged
}

// Months buckets ranges into calendar months.
//
// With no ranges the window is the twelve months before now through the
// current month. Otherwise it starts one month before the earliest range and
// runs through the current month, or through the latest range if that ends
// later.
func Months(ranges []models.ProcessedRange, now time.Time) []models.MonthCoverage {
	cleaned := clean(ranges)
	merged := Normalize(cleaned)

	current := monthStart(day(now))
	var first, last time.Time
	if len(merged) == 0 {
		first = current.AddDate(0, -emptyWindowMonths, 0)
		last = current
	} else {
		first = monthStart(merged[0].StartDate.Time).AddDate(0, -1, 0)
		last = current
		if end := monthStart(merged[len(merged)-1].EndDate.Time); end.After(last) {
			last = end
		}
	}

	var months []models.MonthCoverage
	for m := first; !m.After(last); m = m.AddDate(0, 1, 0) {
		months = append(months, bucket(m, cleaned, merged))
	}
	return months
}

func bucket(m time.Time, cleaned, merged []models.ProcessedRange) models.MonthCoverage {
	start, end := m, monthEnd(m)
	total := inclusiveDays(start, end)

	// Days come from merged spans so overlapping input is not counted twice.
	processed := 0
	for _, r := range merged {
		if s, e, ok := overlap(r, start, end); ok {
			processed += inclusiveDays(s, e)
		}
	}

	emails := 0
	for _, r := range cleaned {
		if _, _, ok := overlap(r, start, end); ok {
			emails += r.EmailsCount
		}
	}

	pct := float64(processed) / float64(total) * 100
	return models.MonthCoverage{
		Month:         m.Format(MonthLabelLayout),
		Year:          m.Year(),
		Coverage:      int(math.Min(100, math.Round(pct))),
		ProcessedDays: processed,
		TotalDays:     total,
		Emails:        emails,
		HasGap:        pct < 100,
	}
}

func overlap(r models.ProcessedRange, start, end time.Time) (time.Time, time.Time, bool) {
	if r.StartDate.After(end) || r.EndDate.Before(start) {
		return time.Time{}, time.Time{}, false
	}
	s, e := r.StartDate.Time, r.EndDate.Time
	if s.Before(start) {
		s = start
	}
	if e.After(end) {
		e = end
	}
	return s, e, true
}

// Gaps returns the uncovered spans between normalized ranges, from the
// earliest start to the latest end.
func Gaps(ranges []models.ProcessedRange) []models.Gap {
	merged := Normalize(ranges)
	gaps := []models.Gap{}
	for i := 1; i < len(merged); i++ {
		start := merged[i-1].EndDate.AddDate(0, 0, 1)
		end := merged[i].StartDate.AddDate(0, 0, -1)
		if end.Before(start) {
			continue
		}
		gaps = append(gaps, models.Gap{
			StartDate: models.NewTimestamp(start),
			EndDate:   models.NewTimestamp(end),
			Days:      inclusiveDays(start, end),
		})
	}
	return gaps
}

// Selection is the date range to prefill for the next analysis.
type Selection struct {
	StartDate models.Timestamp `json:"start_date"`
	EndDate   models.Timestamp `json:"end_date"`
	Message   string           `json:"message"`
}

// SelectGap turns a gap into the next analysis range.
func SelectGap(g models.Gap) Selection {
	start, end := day(g.StartDate.Time), day(g.EndDate.Time)
	if end.Before(start) {
		start, end = end, start
	}
	return Selection{
		StartDate: models.NewTimestamp(start),
		EndDate:   models.NewTimestamp(end),
		Message: fmt.Sprintf(`Gap selected: %s to %s. Dates filled in above - click "Analyze" to process this gap.`,
			start.Format(DateLayout), end.Format(DateLayout)),
	}
}

// View is everything the coverage panel shows for one account.
type View struct {
	Ranges      []models.ProcessedRange `json:"ranges"`
	Gaps        []models.Gap            `json:"gaps"`
	Months      []models.MonthCoverage  `json:"months"`
	TotalEmails int                     `json:"total_emails"`
	TotalDays   int                     `json:"total_days"`
}

// Build assembles a View. Backend-reported gaps are used when given;
// a nil gaps slice means they were unavailable and are derived from ranges.
func Build(ranges []models.ProcessedRange, gaps []models.Gap, now time.Time) View {
	normalized := Normalize(ranges)
	if gaps == nil {
		gaps = Gaps(normalized)
	}

	v := View{
		Ranges: normalized,
		Gaps:   gaps,
		Months: Months(ranges, now),
	}
	for _, r := range normalized {
		v.TotalEmails += r.EmailsCount
		v.TotalDays += inclusiveDays(r.StartDate.Time, r.EndDate.Time)
	}
	return v
}
