package ledger

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"leaderboard-server/scoreerrors"
)

// uniqueViolation is the Postgres error code for a unique-constraint failure.
const uniqueViolation = "23505"

const createTableSQL = `
CREATE TABLE IF NOT EXISTS score_actions (
	action_id    UUID PRIMARY KEY,
	principal_id TEXT NOT NULL,
	action_type  TEXT NOT NULL,
	value        BIGINT NOT NULL,
	occurred_at  TIMESTAMPTZ NOT NULL,
	applied_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_score_actions_principal ON score_actions(principal_id, applied_at DESC);
CREATE TABLE IF NOT EXISTS score_aggregates (
	principal_id   TEXT PRIMARY KEY,
	current_score  BIGINT NOT NULL DEFAULT 0,
	total_actions  BIGINT NOT NULL DEFAULT 0,
	last_action_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_score_aggregates_score ON score_aggregates(current_score DESC, principal_id ASC);
`

// Postgres is the durable Ledger backed by a pgx connection pool.
type Postgres struct {
	pool     *pgxpool.Pool
	retryMax int
	backoff  time.Duration
}

// NewPostgres connects to Postgres and ensures the ledger tables exist.
func NewPostgres(ctx context.Context, databaseURL string, retryMax int, backoff time.Duration) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if _, err := pool.Exec(ctx, createTableSQL); err != nil {
		pool.Close()
		return nil, err
	}
	slog.Info("connected to Postgres", "tag", "ledger")
	return &Postgres{pool: pool, retryMax: retryMax, backoff: backoff}, nil
}

// Close closes the connection pool.
func (p *Postgres) Close() {
	if p != nil && p.pool != nil {
		p.pool.Close()
	}
}

// Apply commits the action record atomically: insert the record (the primary
// key on action_id rejects replays), take a row-level hold on the principal's
// aggregate, add the value, commit. Transient failures are retried with
// backoff; duplicates are never retried.
func (p *Postgres) Apply(ctx context.Context, rec ActionRecord) (int64, error) {
	var newScore int64
	err := withRetry(ctx, p.retryMax, p.backoff, func() error {
		var err error
		newScore, err = p.applyOnce(ctx, rec)
		return err
	})
	return newScore, err
}

func (p *Postgres) applyOnce(ctx context.Context, rec ActionRecord) (int64, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO score_actions (action_id, principal_id, action_type, value, occurred_at)
		VALUES ($1, $2, $3, $4, $5)`,
		rec.ActionID, rec.PrincipalID, rec.ActionType, rec.Value, rec.OccurredAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return 0, scoreerrors.ErrDuplicateAction
		}
		return 0, err
	}

	// Two distinct actions for the same principal may commit concurrently,
	// so the aggregate read-modify-write runs under FOR UPDATE. The row is
	// created first so there is always something to lock.
	_, err = tx.Exec(ctx, `
		INSERT INTO score_aggregates (principal_id, current_score, total_actions)
		VALUES ($1, 0, 0)
		ON CONFLICT (principal_id) DO NOTHING`,
		rec.PrincipalID)
	if err != nil {
		return 0, err
	}

	var current, total int64
	err = tx.QueryRow(ctx, `
		SELECT current_score, total_actions FROM score_aggregates
		WHERE principal_id = $1 FOR UPDATE`,
		rec.PrincipalID).Scan(&current, &total)
	if err != nil {
		return 0, err
	}

	newScore := current + rec.Value
	_, err = tx.Exec(ctx, `
		UPDATE score_aggregates
		SET current_score = $1, total_actions = $2, last_action_at = now()
		WHERE principal_id = $3`,
		newScore, total+1, rec.PrincipalID)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return newScore, nil
}

// TopAggregates returns up to limit aggregates ordered by score descending,
// ties broken by ascending principal id for a deterministic ranking.
func (p *Postgres) TopAggregates(ctx context.Context, limit int) ([]Aggregate, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := p.pool.Query(ctx, `
		SELECT principal_id, current_score, total_actions, last_action_at
		FROM score_aggregates
		ORDER BY current_score DESC, principal_id ASC
		LIMIT $1`,
		limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Aggregate
	for rows.Next() {
		var a Aggregate
		if err := rows.Scan(&a.PrincipalID, &a.CurrentScore, &a.TotalActions, &a.LastActionAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// GetAggregate returns one principal's aggregate, or (nil, nil) if absent.
func (p *Postgres) GetAggregate(ctx context.Context, principalID string) (*Aggregate, error) {
	var a Aggregate
	err := p.pool.QueryRow(ctx, `
		SELECT principal_id, current_score, total_actions, last_action_at
		FROM score_aggregates
		WHERE principal_id = $1`,
		principalID).Scan(&a.PrincipalID, &a.CurrentScore, &a.TotalActions, &a.LastActionAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}

// ListActionsByPrincipal returns the principal's actions, newest first.
func (p *Postgres) ListActionsByPrincipal(ctx context.Context, principalID string, limit int) ([]ActionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	rows, err := p.pool.Query(ctx, `
		SELECT action_id, principal_id, action_type, value, occurred_at, applied_at
		FROM score_actions
		WHERE principal_id = $1
		ORDER BY applied_at DESC
		LIMIT $2`,
		principalID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ActionRecord
	for rows.Next() {
		var r ActionRecord
		if err := rows.Scan(&r.ActionID, &r.PrincipalID, &r.ActionType, &r.Value, &r.OccurredAt, &r.AppliedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Ensure *Postgres implements Ledger at compile time.
var _ Ledger = (*Postgres)(nil)
