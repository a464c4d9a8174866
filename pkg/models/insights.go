package models

// AccountSummary is the per-account slice of Summary.
type AccountSummary struct {
	ID              int64  `json:"id"`
	Email           string `json:"email"`
	Provider        string `json:"provider"`
	EmailCount      int    `json:"email_count"`
	SenderCount     int    `json:"sender_count"`
	ProcessedRanges int    `json:"processed_ranges"`
}

// Summary aggregates counts across every account of a user.
type Summary struct {
	TotalAccounts int              `json:"total_accounts"`
	TotalEmails   int              `json:"total_emails"`
	TotalSenders  int              `json:"total_senders"`
	Accounts      []AccountSummary `json:"accounts"`
}

type SenderStat struct {
	Email      string  `json:"email"`
	Name       *string `json:"name"`
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

type DomainStat struct {
	Domain string `json:"domain"`
	Count  int    `json:"count"`
}

type SenderInsights struct {
	TopSenders  []SenderStat `json:"top_senders"`
	TopDomains  []DomainStat `json:"top_domains"`
	TotalEmails int          `json:"total_emails"`
}

type CategoryStat struct {
	Category   string  `json:"category"`
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

type CategoryInsights struct {
	Categories []CategoryStat `json:"categories"`
	Total      int            `json:"total"`
}

// FrequencyInsights describes when mail arrives. Hourly keys are 0-23,
// weekday keys are day names.
type FrequencyInsights struct {
	DailyAverage        float64        `json:"daily_average"`
	TotalEmails         int            `json:"total_emails"`
	UniqueDays          int            `json:"unique_days"`
	PeakHour            *int           `json:"peak_hour"`
	HourlyDistribution  map[string]int `json:"hourly_distribution"`
	WeekdayDistribution map[string]int `json:"weekday_distribution"`
}

type YearStats struct {
	TotalEmails         int            `json:"total_emails"`
	UniqueDays          int            `json:"unique_days"`
	DailyAverage        float64        `json:"daily_average"`
	MonthlyDistribution map[string]int `json:"monthly_distribution"`
	PeakMonth           *int           `json:"peak_month"`
	MonthsWithData      int            `json:"months_with_data"`
}

type YearOverYear struct {
	Year               int      `json:"year"`
	TotalEmails        int      `json:"total_emails"`
	DailyAverage       float64  `json:"daily_average"`
	ChangeFromPrevious *int     `json:"change_from_previous"`
	ChangePercent      *float64 `json:"change_percent"`
}

type YearlyFrequencyInsights struct {
	Years          []int                `json:"years"`
	YearlyTotals   map[string]int       `json:"yearly_totals"`
	YearlyAverages map[string]float64   `json:"yearly_averages"`
	YearlyStats    map[string]YearStats `json:"yearly_stats"`
	YearOverYear   []YearOverYear       `json:"year_over_year"`
}
