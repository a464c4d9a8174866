package models

// ProcessedRange is a contiguous span of time already analyzed for an account.
type ProcessedRange struct {
	StartDate   Timestamp `json:"start_date"`
	EndDate     Timestamp `json:"end_date"`
	EmailsCount int       `json:"emails_count"`
	ProcessedAt Timestamp `json:"processed_at"`
}

// Gap is a contiguous span with no analysis coverage. Days counts both ends.
type Gap struct {
	StartDate Timestamp `json:"start_date"`
	EndDate   Timestamp `json:"end_date"`
	Days      int       `json:"days"`
}

// MonthCoverage is one calendar-month bucket of the coverage view.
type MonthCoverage struct {
	Month         string `json:"month"`
	Year          int    `json:"year"`
	Coverage      int    `json:"coverage"`
	ProcessedDays int    `json:"processed_days"`
	TotalDays     int    `json:"total_days"`
	Emails        int    `json:"emails"`
	HasGap        bool   `json:"has_gap"`
}
