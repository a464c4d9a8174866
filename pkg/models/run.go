package models

// RunStatus is the lifecycle status of an AnalysisRun as reported by the backend.
type RunStatus string

const (
	RunStatusPending    RunStatus = "pending"
	RunStatusProcessing RunStatus = "processing"
	RunStatusCompleted  RunStatus = "completed"
	RunStatusFailed     RunStatus = "failed"
	RunStatusCancelled  RunStatus = "cancelled"
)

// IsTerminal reports whether no further transitions can occur.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed || s == RunStatusCancelled
}

// IsActive reports whether the run is still queued or executing.
func (s RunStatus) IsActive() bool {
	return s == RunStatusPending || s == RunStatusProcessing
}

// AnalysisRun is one server-side batch job over a date range of one account.
// The backend owns every field; clients only observe snapshots of it.
// CompletedAt is set if and only if Status is terminal.
type AnalysisRun struct {
	ID              int64      `json:"id"`
	AccountID       int64      `json:"account_id"`
	Status          RunStatus  `json:"status"`
	EmailsProcessed int        `json:"emails_processed"`
	TotalEmails     *int       `json:"total_emails,omitempty"`
	StartDate       Timestamp  `json:"start_date"`
	EndDate         Timestamp  `json:"end_date"`
	CreatedAt       Timestamp  `json:"created_at"`
	CompletedAt     *Timestamp `json:"completed_at"`
	ErrorMessage    *string    `json:"error_message,omitempty"`
}

// StartAnalysisRequest is the body of POST /api/analysis/batch.
type StartAnalysisRequest struct {
	Username        string    `json:"username"`
	AccountID       int64     `json:"account_id"`
	StartDate       Timestamp `json:"start_date"`
	EndDate         Timestamp `json:"end_date"`
	ForceReanalysis bool      `json:"force_reanalysis"`
}

// RunRef is returned when a run is started or retried.
type RunRef struct {
	RunID   int64     `json:"run_id"`
	Status  RunStatus `json:"status,omitempty"`
	Message string    `json:"message,omitempty"`
}

// StopResult is returned by POST /api/analysis/runs/{id}/stop.
type StopResult struct {
	RunID   int64     `json:"run_id"`
	Status  RunStatus `json:"status"`
	Message string    `json:"message"`
}

// RunPage is one page of run history, newest first.
type RunPage struct {
	Runs    []AnalysisRun `json:"runs"`
	Total   int           `json:"total"`
	HasMore bool          `json:"has_more"`
}

// Progress is a point-in-time view of a run being tracked by the poller.
type Progress struct {
	RunID           int64     `json:"run_id"`
	EmailsProcessed int       `json:"emails_processed"`
	TotalEmails     *int      `json:"total_emails"`
	Status          RunStatus `json:"status"`
}
