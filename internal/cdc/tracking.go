package cdc

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pgtrickle/pgtrickle/internal/pgerrors"
	"github.com/pgtrickle/pgtrickle/internal/sqlident"
)

// Tracking mirrors one row of pgtrickle.pgt_change_tracking: which stream
// tables currently depend on a source's change buffer, and how far the
// slowest of them has consumed.
type Tracking struct {
	SourceRelID      uint32
	SlotName         string
	LastConsumedLSN  string
	TrackedByPgsIDs  []int64
}

// AddConsumer registers pgsID as a consumer of sourceOID's buffer,
// creating the tracking row if this is the first consumer.
func AddConsumer(ctx context.Context, pool *pgxpool.Pool, catalogSchema string, sourceOID uint32, pgsID int64) error {
	table := sqlident.QuoteQualified(catalogSchema, "pgt_change_tracking")
	_, err := pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (source_relid, slot_name, last_consumed_lsn, tracked_by_pgs_ids)
		VALUES ($1, $2, '0/0', ARRAY[$3]::bigint[])
		ON CONFLICT (source_relid) DO UPDATE
		SET tracked_by_pgs_ids = array_append(
			array_remove(%s.tracked_by_pgs_ids, $3), $3)
	`, table, table), sourceOID, fmt.Sprintf("pgt_slot_%d", sourceOID), pgsID)
	if err != nil {
		return &pgerrors.Transient{Detail: "register change-buffer consumer", Err: err}
	}
	return nil
}

// RemoveConsumer unregisters pgsID; returns true if it was the last
// consumer (the caller should then drop the trigger and buffer table).
func RemoveConsumer(ctx context.Context, pool *pgxpool.Pool, catalogSchema string, sourceOID uint32, pgsID int64) (lastConsumer bool, err error) {
	table := sqlident.QuoteQualified(catalogSchema, "pgt_change_tracking")
	var remaining []int64
	row := pool.QueryRow(ctx, fmt.Sprintf(`
		UPDATE %s
		SET tracked_by_pgs_ids = array_remove(tracked_by_pgs_ids, $2)
		WHERE source_relid = $1
		RETURNING tracked_by_pgs_ids
	`, table), sourceOID, pgsID)
	if err := row.Scan(&remaining); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return true, nil
		}
		return false, &pgerrors.Transient{Detail: "unregister change-buffer consumer", Err: err}
	}
	return len(remaining) == 0, nil
}

// AdvanceLastConsumed sets a source's last_consumed_lsn to minLSN, the
// caller-computed min(cursor across all consumers). The refresh
// orchestrator and the scheduler do not call it.
func AdvanceLastConsumed(ctx context.Context, pool *pgxpool.Pool, catalogSchema string, sourceOID uint32, minLSN string) error {
	table := sqlident.QuoteQualified(catalogSchema, "pgt_change_tracking")
	_, err := pool.Exec(ctx, fmt.Sprintf(`UPDATE %s SET last_consumed_lsn = $2 WHERE source_relid = $1`, table), sourceOID, minLSN)
	if err != nil {
		return &pgerrors.Transient{Detail: "advance last_consumed_lsn", Err: err}
	}
	return nil
}
