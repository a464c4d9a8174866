package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/mailmind/pkg/models"
)

const defaultTrackedRunLimit = 20

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- API Keys ---

const apiKeyColumns = `id, name, COALESCE(username, ''), key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at`

func scanAPIKeys(rows pgx.Rows) ([]*models.APIKey, error) {
	defer rows.Close()
	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.Name, &k.Username, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	return scanAPIKeys(rows)
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, name, username, key_hash, key_prefix, scopes, created_at, updated_at)
		 VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8)`,
		key.ID, key.Name, key.Username, key.KeyHash, key.KeyPrefix, key.Scopes, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAPIKeys(ctx context.Context) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE deleted_at IS NULL ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	return scanAPIKeys(rows)
}

func (s *PostgresStore) RevokeAPIKey(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET deleted_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Tracked Runs ---

func (s *PostgresStore) CreateTrackedRun(ctx context.Context, run *models.TrackedRun) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO tracked_runs (id, username, account_id, run_id, trigger_kind, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		run.ID, run.Username, run.AccountID, run.RunID, run.Trigger, run.StartedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create tracked run: %w", err)
	}
	return nil
}

// FinishTrackedRun records how a session ended. A session can be finished
// only once; later calls return ErrNotFound.
func (s *PostgresStore) FinishTrackedRun(ctx context.Context, id uuid.UUID, result TrackedRunResult) error {
	var msg *string
	if result.Message != "" {
		msg = &result.Message
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE tracked_runs
		 SET outcome = $2, emails_processed = $3, message = $4, finished_at = NOW()
		 WHERE id = $1 AND finished_at IS NULL`,
		id, result.Outcome, result.EmailsProcessed, msg)
	if err != nil {
		return fmt.Errorf("finish tracked run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListTrackedRuns(ctx context.Context, f TrackedRunFilter) ([]*models.TrackedRun, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultTrackedRunLimit
	}

	query := `SELECT id, username, account_id, run_id, trigger_kind, outcome, emails_processed,
	                 message, started_at, finished_at
	          FROM tracked_runs WHERE username = $1`
	args := []any{f.Username}
	if f.AccountID > 0 {
		query += ` AND account_id = $2`
		args = append(args, f.AccountID)
	}
	query += fmt.Sprintf(` ORDER BY started_at DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tracked runs: %w", err)
	}
	defer rows.Close()

	runs := []*models.TrackedRun{}
	for rows.Next() {
		var r models.TrackedRun
		if err := rows.Scan(&r.ID, &r.Username, &r.AccountID, &r.RunID, &r.Trigger, &r.Outcome,
			&r.EmailsProcessed, &r.Message, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan tracked run: %w", err)
		}
		runs = append(runs, &r)
	}
	return runs, rows.Err()
}

// CloseOpenTrackedRuns marks every unfinished session as stopped. It is run
// at startup, since sessions never survive a restart.
func (s *PostgresStore) CloseOpenTrackedRuns(ctx context.Context, message string) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tracked_runs SET outcome = $1, message = $2, finished_at = NOW()
		 WHERE finished_at IS NULL`, models.OutcomeStopped, message)
	if err != nil {
		return 0, fmt.Errorf("close open tracked runs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

var _ Store = (*PostgresStore)(nil)
