package cdc

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pgtrickle/pgtrickle/internal/pgerrors"
	"github.com/pgtrickle/pgtrickle/internal/sqlident"
)

// ReadSince returns buffer rows with change_id > sinceChangeID, in
// change_id order, which per the data model invariant also agrees with
// LSN order within a single writer. The caller is responsible for
// chunking (bounded reads) via limit.
func ReadSince(ctx context.Context, pool *pgxpool.Pool, changesSchema string, sourceOID uint32, cols []SourceColumn, sinceChangeID int64, limit int) ([]ChangeRow, error) {
	table := sqlident.QuoteQualified(changesSchema, BufferTableName(sourceOID))

	selectCols := "change_id, lsn, action, pk_hash"
	for _, c := range cols {
		selectCols += ", " + sqlident.QuoteIdent("new_"+c.Name)
	}
	for _, c := range cols {
		selectCols += ", " + sqlident.QuoteIdent("old_"+c.Name)
	}

	query := fmt.Sprintf("SELECT %s FROM %s WHERE change_id > $1 ORDER BY change_id ASC LIMIT $2", selectCols, table)

	rows, err := pool.Query(ctx, query, sinceChangeID, limit)
	if err != nil {
		return nil, &pgerrors.Transient{Detail: "read change buffer", Err: err}
	}
	defer rows.Close()

	var out []ChangeRow
	for rows.Next() {
		cr, err := scanChangeRow(rows, cols)
		if err != nil {
			return nil, &pgerrors.Fatal{Detail: "scan change row", Err: err}
		}
		out = append(out, cr)
	}
	if err := rows.Err(); err != nil {
		return nil, &pgerrors.Transient{Detail: "iterate change buffer", Err: err}
	}
	return out, nil
}

func scanChangeRow(rows pgx.Rows, cols []SourceColumn) (ChangeRow, error) {
	n := len(cols)
	dest := make([]any, 4+2*n)
	var changeID int64
	var lsn string
	var action string
	var pkHash *int64
	dest[0] = &changeID
	dest[1] = &lsn
	dest[2] = &action
	dest[3] = &pkHash

	newVals := make([]any, n)
	oldVals := make([]any, n)
	for i := range newVals {
		dest[4+i] = &newVals[i]
	}
	for i := range oldVals {
		dest[4+n+i] = &oldVals[i]
	}

	if err := rows.Scan(dest...); err != nil {
		return ChangeRow{}, err
	}

	cr := ChangeRow{
		ChangeID: changeID,
		LSN:      lsn,
		Action:   Action(action[0]),
		New:      map[string]any{},
		Old:      map[string]any{},
	}
	if pkHash != nil {
		cr.PKHash = *pkHash
	}
	for i, c := range cols {
		cr.New[c.Name] = newVals[i]
		cr.Old[c.Name] = oldVals[i]
	}
	return cr, nil
}
