package refresh

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pgtrickle/pgtrickle/internal/cdc"
	"github.com/pgtrickle/pgtrickle/internal/dvm"
	"github.com/pgtrickle/pgtrickle/internal/pgerrors"
	"github.com/pgtrickle/pgtrickle/internal/sqlident"
	"github.com/pgtrickle/pgtrickle/internal/version"
)

// sourceWindow is one source's contribution to a refresh: the change_id
// range its buffer rows are read from, and the new LSN the frontier
// advances to once the refresh commits.
type sourceWindow struct {
	window dvm.ChangeWindow
	newLSN version.LSN
}

// computeWindows reads, for every source pgsID depends on, the change_id
// boundary corresponding to the frontier already absorbed and the
// buffer's current high-water mark. The two queries are kept separate
// (rather than a single MAX scan) because "since" must resolve against
// the possibly-stale frontier LSN while "until" always means "everything
// committed so far", and a buffer with no rows since the frontier still
// needs its true current LSN reported back so the frontier doesn't regress.
func computeWindows(ctx context.Context, pool *pgxpool.Pool, changesSchema string, sourceOIDs []uint32, before *version.Frontier) (map[uint32]sourceWindow, error) {
	out := make(map[uint32]sourceWindow, len(sourceOIDs))
	for _, oid := range sourceOIDs {
		sinceLSN, _ := before.GetLSN(oid)
		table := sqlident.QuoteQualified(changesSchema, cdc.BufferTableName(oid))

		var sinceID, untilID int64
		var newLSNText *string
		query := fmt.Sprintf(`
			SELECT
				COALESCE((SELECT max(change_id) FROM %s WHERE lsn <= $1::pg_lsn), 0),
				COALESCE((SELECT max(change_id) FROM %s), 0),
				(SELECT max(lsn)::text FROM %s)
		`, table, table, table)
		err := pool.QueryRow(ctx, query, sinceLSN.String()).Scan(&sinceID, &untilID, &newLSNText)
		if err != nil {
			return nil, &pgerrors.Transient{Detail: fmt.Sprintf("read change window for source %d", oid), Err: err}
		}

		newLSN := sinceLSN
		if newLSNText != nil {
			parsed, err := version.ParseLSN(*newLSNText)
			if err != nil {
				return nil, err
			}
			newLSN = parsed
		}

		out[oid] = sourceWindow{
			window: dvm.ChangeWindow{Since: uint64(sinceID), Until: uint64(untilID)},
			newLSN: newLSN,
		}
	}
	return out, nil
}

// totalDeltaRows sums each source's buffer row count within its window, a
// coarse but cheap proxy for the refresh's overall change volume used by
// the FULL-fallback decision.
func totalDeltaRows(windows map[uint32]sourceWindow) int64 {
	var n int64
	for _, w := range windows {
		n += int64(w.window.Until - w.window.Since)
	}
	return n
}

// anyAdvanced reports whether at least one source's buffer has rows past
// its previously-consumed frontier, i.e. there is something to refresh.
func anyAdvanced(windows map[uint32]sourceWindow) bool {
	for _, w := range windows {
		if w.window.Until > w.window.Since {
			return true
		}
	}
	return false
}

func currentStorageRowCount(ctx context.Context, pool *pgxpool.Pool, storageSchema, storageTable string) (int64, error) {
	var n int64
	query := fmt.Sprintf("SELECT count(*) FROM %s", sqlident.QuoteQualified(storageSchema, storageTable))
	if err := pool.QueryRow(ctx, query).Scan(&n); err != nil {
		return 0, &pgerrors.Transient{Detail: "count storage rows", Err: err}
	}
	return n, nil
}
