package refresh

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pgtrickle/pgtrickle/internal/pgerrors"
)

// advisoryLock wraps the single pinned connection §5 requires: Postgres
// advisory locks are session-scoped, so the try-lock and its matching
// unlock must run on the exact same backend.
type advisoryLock struct {
	conn *pgxpool.Conn
	key  int64
}

// tryAcquireStreamTableLock attempts pg_try_advisory_lock(pgsID), the sole
// mutual-exclusion primitive serializing concurrent refreshes of the same
// stream table (§5). Returns ok=false (with a released connection) if
// another worker already holds it.
func tryAcquireStreamTableLock(ctx context.Context, pool *pgxpool.Pool, pgsID int64) (*advisoryLock, bool, error) {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, &pgerrors.Transient{Detail: "acquire connection for advisory lock", Err: err}
	}
	var ok bool
	if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", pgsID).Scan(&ok); err != nil {
		conn.Release()
		return nil, false, &pgerrors.Transient{Detail: "pg_try_advisory_lock", Err: err}
	}
	if !ok {
		conn.Release()
		return nil, false, nil
	}
	return &advisoryLock{conn: conn, key: pgsID}, true, nil
}

func (l *advisoryLock) release(ctx context.Context) {
	if l == nil || l.conn == nil {
		return
	}
	_, _ = l.conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", l.key)
	l.conn.Release()
}

// tryAcquireSourceLock is §5's second advisory lock, keyed by negative
// source OID so its key space never collides with a stream table's
// pgs_id. Nothing in this package calls it; last_consumed_lsn writes are
// not taken under it.
func tryAcquireSourceLock(ctx context.Context, pool *pgxpool.Pool, sourceOID uint32) (*advisoryLock, bool, error) {
	return tryAcquireStreamTableLock(ctx, pool, -int64(sourceOID))
}
