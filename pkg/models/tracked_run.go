package models

import (
	"time"

	"github.com/google/uuid"
)

// Outcomes recorded for a tracked poll session.
const (
	OutcomeCompleted = "completed"
	OutcomeCancelled = "cancelled"
	OutcomeFailed    = "failed"
	OutcomePollError = "poll_error"
	OutcomeStopped   = "stopped"
)

// Triggers that open a poll session.
const (
	TriggerStart  = "start"
	TriggerRetry  = "retry"
	TriggerResume = "resume"
)

// TrackedRun is the service's own record of one poll session. The backend
// remains the source of truth for the run; this row only tells what the
// dashboard observed and reported to the user.
type TrackedRun struct {
	ID              uuid.UUID  `db:"id"               json:"id"`
	Username        string     `db:"username"         json:"username"`
	AccountID       int64      `db:"account_id"       json:"account_id"`
	RunID           int64      `db:"run_id"           json:"run_id"`
	Trigger         string     `db:"trigger_kind"     json:"trigger"`
	Outcome         *string    `db:"outcome"          json:"outcome,omitempty"`
	EmailsProcessed int        `db:"emails_processed" json:"emails_processed"`
	Message         *string    `db:"message"          json:"message,omitempty"`
	StartedAt       time.Time  `db:"started_at"       json:"started_at"`
	FinishedAt      *time.Time `db:"finished_at"      json:"finished_at,omitempty"`
}
