package ledger

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"leaderboard-server/scoreerrors"
)

// Postgres error classes that are worth retrying: serialization failure,
// deadlock detected, lock not available.
var transientPgCodes = map[string]bool{
	"40001": true,
	"40P01": true,
	"55P03": true,
}

// isTransient reports whether err is a store failure that a short retry can
// plausibly clear. Unique-constraint violations are never transient.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return transientPgCodes[pgErr.Code]
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return pgconn.SafeToRetry(err)
}

// withRetry runs fn up to attempts times, backing off linearly between tries.
// Non-transient errors are returned immediately. When the budget is exhausted
// the last error is wrapped with scoreerrors.ErrServiceUnavailable.
func withRetry(ctx context.Context, attempts int, backoff time.Duration, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		err = fn()
		if err == nil || !isTransient(err) {
			return err
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff * time.Duration(i+1)):
		}
	}
	return fmt.Errorf("%w: %d attempts failed, last: %v", scoreerrors.ErrServiceUnavailable, attempts, err)
}
