package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/mailmind/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID) error

	CreateTrackedRun(ctx context.Context, run *models.TrackedRun) error
	FinishTrackedRun(ctx context.Context, id uuid.UUID, result TrackedRunResult) error
	ListTrackedRuns(ctx context.Context, filter TrackedRunFilter) ([]*models.TrackedRun, error)
	CloseOpenTrackedRuns(ctx context.Context, message string) (int64, error)
}

// TrackedRunResult is written once when a poll session ends.
type TrackedRunResult struct {
	Outcome         string
	EmailsProcessed int
	Message         string
}

type TrackedRunFilter struct {
	Username  string
	AccountID int64 // zero matches every account
	Limit     int
}
