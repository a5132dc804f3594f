package catalog

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pgtrickle/pgtrickle/internal/pgerrors"
)

// HistoryRepo reads and writes pgtrickle.pgt_refresh_history.
type HistoryRepo struct {
	pool   *pgxpool.Pool
	schema string
}

func NewHistoryRepo(pool *pgxpool.Pool, catalogSchema string) *HistoryRepo {
	return &HistoryRepo{pool: pool, schema: catalogSchema}
}

func (r *HistoryRepo) table() string { return r.schema + ".pgt_refresh_history" }

// Open inserts a RUNNING history row at the start of a refresh attempt.
func (r *HistoryRepo) Open(ctx context.Context, pgsID int64, action RefreshAction, initiatedBy InitiatedBy) (int64, error) {
	var refreshID int64
	err := r.pool.QueryRow(ctx, fmt.Sprintf(`
		INSERT INTO %s (pgs_id, start_time, action, status, initiated_by)
		VALUES ($1, now(), $2, 'RUNNING', $3)
		RETURNING refresh_id`, r.table()), pgsID, action, initiatedBy).Scan(&refreshID)
	if err != nil {
		return 0, &pgerrors.Transient{Detail: "open refresh history row", Err: err}
	}
	return refreshID, nil
}

// Complete closes a history row as COMPLETED.
func (r *HistoryRepo) Complete(ctx context.Context, refreshID int64, dataTimestamp string, rowsInserted, rowsDeleted int64) error {
	_, err := r.pool.Exec(ctx, fmt.Sprintf(`
		UPDATE %s SET status = 'COMPLETED', end_time = now(), data_timestamp = $2,
			rows_inserted = $3, rows_deleted = $4
		WHERE refresh_id = $1`, r.table()), refreshID, dataTimestamp, rowsInserted, rowsDeleted)
	if err != nil {
		return &pgerrors.Transient{Detail: "complete refresh history row", Err: err}
	}
	return nil
}

// Fail closes a history row as FAILED with the classified error message.
func (r *HistoryRepo) Fail(ctx context.Context, refreshID int64, errMsg string) error {
	_, err := r.pool.Exec(ctx, fmt.Sprintf(`
		UPDATE %s SET status = 'FAILED', end_time = now(), error_message = $2
		WHERE refresh_id = $1`, r.table()), refreshID, errMsg)
	if err != nil {
		return &pgerrors.Transient{Detail: "fail refresh history row", Err: err}
	}
	return nil
}

// Skip records a no-op tick (no frontier change, or suspended/skip-worthy
// stream table) without opening a RUNNING row at all.
func (r *HistoryRepo) Skip(ctx context.Context, pgsID int64, action RefreshAction, initiatedBy InitiatedBy) error {
	_, err := r.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (pgs_id, start_time, end_time, action, status, initiated_by)
		VALUES ($1, now(), now(), $2, 'SKIPPED', $3)`, r.table()), pgsID, action, initiatedBy)
	if err != nil {
		return &pgerrors.Transient{Detail: "record skipped refresh", Err: err}
	}
	return nil
}

// Recent returns the most recent refresh history rows for one stream
// table, newest first, for the monitoring surface (internal/admin).
func (r *HistoryRepo) Recent(ctx context.Context, pgsID int64, limit int) ([]*RefreshHistory, error) {
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`
		SELECT refresh_id, pgs_id, data_timestamp, start_time, end_time, action,
			rows_inserted, rows_deleted, error_message, status, initiated_by
		FROM %s WHERE pgs_id = $1 ORDER BY refresh_id DESC LIMIT $2`, r.table()), pgsID, limit)
	if err != nil {
		return nil, &pgerrors.Transient{Detail: "list recent refresh history", Err: err}
	}
	defer rows.Close()

	var out []*RefreshHistory
	for rows.Next() {
		var h RefreshHistory
		if err := rows.Scan(&h.RefreshID, &h.PgsID, &h.DataTimestamp, &h.StartTime, &h.EndTime,
			&h.Action, &h.RowsInserted, &h.RowsDeleted, &h.ErrorMessage, &h.Status, &h.InitiatedBy); err != nil {
			return nil, &pgerrors.Fatal{Detail: "scan refresh history row", Err: err}
		}
		out = append(out, &h)
	}
	if err := rows.Err(); err != nil {
		return nil, &pgerrors.Transient{Detail: "iterate refresh history", Err: err}
	}
	return out, nil
}

// RewriteRunningToFailed is the crash-recovery step §4.5 requires at
// scheduler startup: every history row still RUNNING belongs to a refresh
// that was interrupted by a prior process's death, never one genuinely in
// flight, since only one scheduler process runs at a time.
func (r *HistoryRepo) RewriteRunningToFailed(ctx context.Context) (int64, error) {
	tag, err := r.pool.Exec(ctx, fmt.Sprintf(`
		UPDATE %s SET status = 'FAILED', end_time = now(),
			error_message = 'Interrupted by scheduler restart'
		WHERE status = 'RUNNING'`, r.table()))
	if err != nil {
		return 0, &pgerrors.Transient{Detail: "rewrite running history rows", Err: err}
	}
	return tag.RowsAffected(), nil
}
