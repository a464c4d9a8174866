package coverage

import (
	"testing"
	"time"

	"github.com/kiranshivaraju/mailmind/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(s string) models.Timestamp {
	ts, err := models.ParseTimestamp(s)
	if err != nil {
		panic(err)
	}
	return ts
}

func rng(start, end string, emails int) models.ProcessedRange {
	return models.ProcessedRange{StartDate: date(start), EndDate: date(end), EmailsCount: emails}
}

func findMonth(t *testing.T, months []models.MonthCoverage, label string) models.MonthCoverage {
	t.Helper()
	for _, m := range months {
		if m.Month == label {
			return m
		}
	}
	t.Fatalf("month %q not in window", label)
	return models.MonthCoverage{}
}

var now = time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC)

func TestMonths_PartialJanuary(t *testing.T) {
	months := Months([]models.ProcessedRange{rng("2024-01-10", "2024-01-20", 120)}, now)

	jan := findMonth(t, months, "Jan 2024")
	assert.Equal(t, 11, jan.ProcessedDays)
	assert.Equal(t, 31, jan.TotalDays)
	assert.Equal(t, 35, jan.Coverage)
	assert.True(t, jan.HasGap)
	assert.Equal(t, 120, jan.Emails)
	assert.Equal(t, 2024, jan.Year)
}

func TestMonths_WindowWithRanges(t *testing.T) {
	months := Months([]models.ProcessedRange{rng("2024-01-10", "2024-01-20", 1)}, now)

	labels := make([]string, len(months))
	for i, m := range months {
		labels[i] = m.Month
	}
	assert.Equal(t, []string{"Dec 2023", "Jan 2024", "Feb 2024", "Mar 2024"}, labels)
}

func TestMonths_EmptyWindow(t *testing.T) {
	months := Months(nil, now)

	require.Len(t, months, 13)
	assert.Equal(t, "Mar 2023", months[0].Month)
	assert.Equal(t, "Mar 2024", months[12].Month)
	for _, m := range months {
		assert.Equal(t, 0, m.Coverage)
		assert.True(t, m.HasGap)
		assert.Equal(t, 0, m.Emails)
	}
	assert.Equal(t, 29, findMonth(t, months, "Feb 2024").TotalDays)
}

func TestMonths_FullMonth(t *testing.T) {
	months := Months([]models.ProcessedRange{rng("2024-02-01", "2024-02-29", 10)}, now)

	feb := findMonth(t, months, "Feb 2024")
	assert.Equal(t, 100, feb.Coverage)
	assert.False(t, feb.HasGap)
}

func TestMonths_NearlyFullIsStillGap(t *testing.T) {
	months := Months([]models.ProcessedRange{rng("2024-01-01", "2024-01-30", 0)}, now)
	jan := findMonth(t, months, "Jan 2024")
	assert.Equal(t, 97, jan.Coverage)
	assert.True(t, jan.HasGap)
}

func TestMonths_SpanningRangeSplitsAcrossMonths(t *testing.T) {
	months := Months([]models.ProcessedRange{rng("2024-01-25", "2024-02-04", 50)}, now)

	jan := findMonth(t, months, "Jan 2024")
	feb := findMonth(t, months, "Feb 2024")
	assert.Equal(t, 7, jan.ProcessedDays)
	assert.Equal(t, 4, feb.ProcessedDays)
	// Email counts are not split; the range is counted in each month it touches.
	assert.Equal(t, 50, jan.Emails)
	assert.Equal(t, 50, feb.Emails)
}

func TestMonths_OverlappingInputNotDoubleCounted(t *testing.T) {
	months := Months([]models.ProcessedRange{
		rng("2024-01-01", "2024-01-20", 10),
		rng("2024-01-15", "2024-01-31", 5),
	}, now)

	jan := findMonth(t, months, "Jan 2024")
	assert.Equal(t, 31, jan.ProcessedDays)
	assert.Equal(t, 100, jan.Coverage)
	assert.Equal(t, 15, jan.Emails)
}

func TestMonths_ReversedAndUnorderedInput(t *testing.T) {
	months := Months([]models.ProcessedRange{
		rng("2024-02-10", "2024-02-01", 3),
		rng("2024-01-05", "2024-01-06", 1),
	}, now)

	assert.Equal(t, "Dec 2023", months[0].Month)
	assert.Equal(t, 10, findMonth(t, months, "Feb 2024").ProcessedDays)
	assert.Equal(t, 2, findMonth(t, months, "Jan 2024").ProcessedDays)
}

func TestMonths_TimeOfDayIgnored(t *testing.T) {
	months := Months([]models.ProcessedRange{{
		StartDate: date("2024-01-10T23:59:00"),
		EndDate:   date("2024-01-20T00:01:00"),
	}}, now)
	assert.Equal(t, 11, findMonth(t, months, "Jan 2024").ProcessedDays)
}

func TestMonths_FutureRangeExtendsWindow(t *testing.T) {
	months := Months([]models.ProcessedRange{rng("2024-04-01", "2024-05-10", 0)}, now)
	assert.Equal(t, "Mar 2024", months[0].Month)
	assert.Equal(t, "May 2024", months[len(months)-1].Month)
}

func TestNormalize(t *testing.T) {
	out := Normalize([]models.ProcessedRange{
		rng("2024-03-01", "2024-03-10", 3),
		rng("2024-01-01", "2024-01-10", 1),
		rng("2024-01-11", "2024-01-20", 2), // adjacent to the previous
		rng("2024-01-05", "2024-01-08", 4), // inside the first
		{StartDate: date("2024-05-01")},    // missing end
	})

	require.Len(t, out, 2)
	assert.Equal(t, "2024-01-01", out[0].StartDate.Format(DateLayout))
	assert.Equal(t, "2024-01-20", out[0].EndDate.Format(DateLayout))
	assert.Equal(t, 7, out[0].EmailsCount)
	assert.Equal(t, "2024-03-01", out[1].StartDate.Format(DateLayout))
	assert.Equal(t, 3, out[1].EmailsCount)
}

func TestNormalize_KeepsLatestProcessedAt(t *testing.T) {
	a := rng("2024-01-01", "2024-01-10", 1)
	a.ProcessedAt = date("2024-02-01T00:00:00")
	b := rng("2024-01-05", "2024-01-12", 1)
	b.ProcessedAt = date("2024-02-05T00:00:00")

	out := Normalize([]models.ProcessedRange{b, a})
	require.Len(t, out, 1)
	assert.Equal(t, "2024-02-05", out[0].ProcessedAt.Format(DateLayout))
}

func TestGaps(t *testing.T) {
	gaps := Gaps([]models.ProcessedRange{
		rng("2024-03-01", "2024-03-31", 0),
		rng("2024-01-01", "2024-01-31", 0),
		rng("2024-02-01", "2024-02-10", 0),
	})

	require.Len(t, gaps, 1)
	assert.Equal(t, "2024-02-11", gaps[0].StartDate.Format(DateLayout))
	assert.Equal(t, "2024-02-29", gaps[0].EndDate.Format(DateLayout))
	assert.Equal(t, 19, gaps[0].Days)
}

func TestGaps_SingleDay(t *testing.T) {
	gaps := Gaps([]models.ProcessedRange{
		rng("2024-01-01", "2024-01-09", 0),
		rng("2024-01-11", "2024-01-20", 0),
	})
	require.Len(t, gaps, 1)
	assert.Equal(t, 1, gaps[0].Days)
}

func TestGaps_None(t *testing.T) {
	assert.Empty(t, Gaps(nil))
	assert.Empty(t, Gaps([]models.ProcessedRange{rng("2024-01-01", "2024-01-09", 0)}))
}

func TestSelectGap(t *testing.T) {
	sel := SelectGap(models.Gap{StartDate: date("2024-02-11"), EndDate: date("2024-02-29"), Days: 19})

	assert.Equal(t, "2024-02-11", sel.StartDate.Format(DateLayout))
	assert.Equal(t, "2024-02-29", sel.EndDate.Format(DateLayout))
	assert.Equal(t, `Gap selected: 2024-02-11 to 2024-02-29. Dates filled in above - click "Analyze" to process this gap.`, sel.Message)
}

func TestBuild_DerivesGapsWhenMissing(t *testing.T) {
	ranges := []models.ProcessedRange{
		rng("2024-01-01", "2024-01-09", 5),
		rng("2024-01-11", "2024-01-20", 6),
	}

	v := Build(ranges, nil, now)
	require.Len(t, v.Gaps, 1)
	assert.Equal(t, 11, v.TotalEmails)
	assert.Equal(t, 19, v.TotalDays)
	assert.NotEmpty(t, v.Months)

	reported := []models.Gap{{StartDate: date("2023-12-01"), EndDate: date("2023-12-31"), Days: 31}}
	v = Build(ranges, reported, now)
	assert.Equal(t, reported, v.Gaps)
}
