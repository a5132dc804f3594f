package dvm

import (
	"fmt"
	"strings"

	"github.com/pgtrickle/pgtrickle/internal/ir"
	"github.com/pgtrickle/pgtrickle/internal/sqlident"
)

// Program is an ordered list of SQL statements a refresh executes inside a
// single transaction.
type Program struct {
	Statements []string
}

// CompileDifferential builds the delta program that brings storage
// (schema.table) up to date from root's §4.4 delta contract. Aggregate and
// Window roots dispatch to a key-based retraction (compileDifferential
// Aggregate/Window): their output rows are identified by group/partition
// key, not by their own values, so a group that loses every underlying
// row must be deleted even though it contributes zero rows to the delta
// itself. Every other operator's rows ARE their own identity (a row's
// value never changes without also changing its __pgs_row_id), so the
// generic MERGE-shaped upsert below is exact for them.
func CompileDifferential(root ir.Node, ctx *Context, storageSchema, storageTable string) (*Program, error) {
	for {
		sq, ok := root.(*ir.Subquery)
		if !ok {
			break
		}
		root = sq.Inner
	}
	switch n := root.(type) {
	case *ir.Aggregate:
		return compileDifferentialAggregate(n, ctx, storageSchema, storageTable)
	case *ir.Window:
		if len(n.Windows) > 0 {
			return compileDifferentialWindow(n, ctx, storageSchema, storageTable)
		}
	}
	return compileDifferentialGeneric(root, ctx, storageSchema, storageTable)
}

// compileDifferentialGeneric is the MERGE-shaped upsert keyed by
// __pgs_row_id, folding §4.4's per-operator "delete if new multiplicity is
// zero, insert/update otherwise" rule into a DELETE and an upsert, both
// against a signed-multiplicity aggregation of the delta.
func compileDifferentialGeneric(root ir.Node, ctx *Context, storageSchema, storageTable string) (*Program, error) {
	deltaSQL, err := Delta(root, ctx)
	if err != nil {
		return nil, err
	}
	cols := root.OutputColumns()
	storage := fmt.Sprintf("%s.%s", sqlident.QuoteIdent(storageSchema), sqlident.QuoteIdent(storageTable))
	rowID := RowIDExpr(cols)

	colNamesQ := make([]string, len(cols))
	for i, c := range cols {
		colNamesQ[i] = sqlident.QuoteIdent(c.Name)
	}

	netted := fmt.Sprintf(
		"SELECT %s, %s AS __pgs_row_id, sum(%s) AS __pgs_net FROM (%s) AS __pgs_d GROUP BY %s",
		strings.Join(colNamesQ, ", "), rowID, signCol, deltaSQL, strings.Join(append(colNamesQ, rowID), ", "),
	)

	deleteStmt := fmt.Sprintf(
		"DELETE FROM %s AS __pgs_s USING (%s) AS __pgs_n WHERE __pgs_s.__pgs_row_id = __pgs_n.__pgs_row_id AND __pgs_s.__pgs_count + __pgs_n.__pgs_net <= 0",
		storage, netted,
	)

	insertCols := append(append([]string{}, colNamesQ...), "__pgs_row_id", "__pgs_count")
	selectCols := append(append([]string{}, colNamesQ...), "__pgs_row_id", "__pgs_net")
	upsertStmt := fmt.Sprintf(
		"INSERT INTO %s (%s) SELECT %s FROM (%s) AS __pgs_n WHERE __pgs_n.__pgs_net > 0 "+
			"OR (__pgs_n.__pgs_net < 0 AND EXISTS (SELECT 1 FROM %s AS __pgs_e WHERE __pgs_e.__pgs_row_id = __pgs_n.__pgs_row_id)) "+
			"ON CONFLICT (__pgs_row_id) DO UPDATE SET __pgs_count = %s.__pgs_count + EXCLUDED.__pgs_count",
		storage, strings.Join(insertCols, ", "), strings.Join(selectCols, ", "), netted, storage, storage,
	)

	return &Program{Statements: []string{deleteStmt, upsertStmt}}, nil
}

func quoteIdents(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = sqlident.QuoteIdent(n)
	}
	return out
}

// compileDifferentialAggregate deletes every storage row whose group key
// was touched by the delta, then inserts the recomputed rows for keys that
// still have at least one underlying member. A key with no surviving
// members is deleted and never reinserted — the only way to express
// "delete grp='a'" shrinking the result, since deltaAggregate's recompute
// leg has nothing to emit for a vanished group.
func compileDifferentialAggregate(a *ir.Aggregate, ctx *Context, storageSchema, storageTable string) (*Program, error) {
	plan, err := buildAggregateDeltaPlan(a, ctx)
	if err != nil {
		return nil, err
	}
	storage := fmt.Sprintf("%s.%s", sqlident.QuoteIdent(storageSchema), sqlident.QuoteIdent(storageTable))

	cols := a.OutputColumns()
	colNamesQ := make([]string, len(cols))
	for i, c := range cols {
		colNamesQ[i] = sqlident.QuoteIdent(c.Name)
	}
	groupCols := cols[:len(a.GroupBy)]
	rowID := RowIDExpr(groupCols)

	var deleteStmt string
	if len(plan.KeyCols) == 0 {
		// No GROUP BY at all: the whole table is one implicit group: any
		// delta means recompute and replace the single summary row.
		deleteStmt = fmt.Sprintf("DELETE FROM %s", storage)
	} else {
		deleteStmt = fmt.Sprintf(
			"DELETE FROM %s WHERE (%s) IN (SELECT %s FROM (%s) AS __pgs_ck)",
			storage, strings.Join(quoteIdents(plan.KeyCols), ", "), strings.Join(plan.KeyCols, ", "), plan.ChangedKeysSQL,
		)
	}

	insertCols := append(append([]string{}, colNamesQ...), "__pgs_row_id", "__pgs_count")
	insertStmt := fmt.Sprintf(
		"INSERT INTO %s (%s) SELECT %s, %s AS __pgs_row_id, 1 AS __pgs_count FROM (%s) AS __pgs_r",
		storage, strings.Join(insertCols, ", "), strings.Join(colNamesQ, ", "), rowID, plan.RecomputeSQL,
	)

	return &Program{Statements: []string{deleteStmt, insertStmt}}, nil
}

// compileDifferentialWindow deletes every storage row belonging to a
// changed partition, then inserts the re-evaluated rows for that
// partition. __pgs_row_id hashes the child's own columns (excluding the
// window value columns), so a row's identity survives its window value
// changing across refreshes.
func compileDifferentialWindow(w *ir.Window, ctx *Context, storageSchema, storageTable string) (*Program, error) {
	plan, err := buildWindowDeltaPlan(w, ctx)
	if err != nil {
		return nil, err
	}
	storage := fmt.Sprintf("%s.%s", sqlident.QuoteIdent(storageSchema), sqlident.QuoteIdent(storageTable))

	cols := w.OutputColumns()
	colNamesQ := make([]string, len(cols))
	for i, c := range cols {
		colNamesQ[i] = sqlident.QuoteIdent(c.Name)
	}
	rowID := RowIDExpr(w.Child.OutputColumns())

	var deleteStmt string
	if len(plan.PartitionExprs) == 0 {
		// No PARTITION BY: the whole result is one partition, so any
		// member change can shift every row's window value.
		deleteStmt = fmt.Sprintf("DELETE FROM %s", storage)
	} else {
		deleteStmt = fmt.Sprintf(
			"DELETE FROM %s WHERE (%s) IN (SELECT %s FROM (%s) AS __pgs_cp)",
			storage, strings.Join(plan.PartitionExprs, ", "), strings.Join(plan.PartitionExprs, ", "), plan.ChangedPartitionsSQL,
		)
	}

	insertCols := append(append([]string{}, colNamesQ...), "__pgs_row_id", "__pgs_count")
	insertStmt := fmt.Sprintf(
		"INSERT INTO %s (%s) SELECT %s, %s AS __pgs_row_id, 1 AS __pgs_count FROM (%s) AS __pgs_r",
		storage, strings.Join(insertCols, ", "), strings.Join(colNamesQ, ", "), rowID, plan.RecomputeSQL,
	)

	return &Program{Statements: []string{deleteStmt, insertStmt}}, nil
}
