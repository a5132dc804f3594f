package dvm_test

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"log"
	"os"
	"testing"

	"github.com/pgtrickle/pgtrickle/db"
	"github.com/pgtrickle/pgtrickle/internal/cdc"
	"github.com/pgtrickle/pgtrickle/internal/dvm"
	"github.com/pgtrickle/pgtrickle/internal/ir"
	"github.com/pgtrickle/pgtrickle/pkg/fixgres"
)

// TestMain boots one shared Postgres container (via testcontainers-go) for
// every test in this package, migrated with the same db/migrations goose
// set pgtrickled applies in production. Each test then gets its own
// throwaway schema from fixgres.NewSandbox, so the tests below run against
// a real database and a real CDC trigger instead of hand-built fixtures.
func TestMain(m *testing.M) {
	migFS, err := fs.Sub(db.MigrationsFS, "migrations")
	if err != nil {
		log.Fatalf("sub migrations fs: %v", err)
	}
	t := &testing.T{}
	fixgres.BootOnce(t, fixgres.WithDBName("pgtrickle"), fixgres.WithGooseUp(migFS))

	code := m.Run()
	_ = fixgres.ShutdownNow()
	os.Exit(code)
}

// sourceOID looks up a just-created table's OID the same way the catalog's
// introspection path does, without going through the out-of-scope
// create_stream_table registration surface.
func sourceOID(t *testing.T, sbx *fixgres.Sandbox, ctx context.Context, qualified string) uint32 {
	t.Helper()
	var oid uint32
	if err := sbx.DB.QueryRowContext(ctx, `SELECT to_regclass($1)::oid`, qualified).Scan(&oid); err != nil {
		t.Fatalf("look up oid for %s: %v", qualified, err)
	}
	if oid == 0 {
		t.Fatalf("%s did not resolve to a relation", qualified)
	}
	return oid
}

func maxChangeID(t *testing.T, sbx *fixgres.Sandbox, ctx context.Context, oid uint32) uint64 {
	t.Helper()
	var id sql.NullInt64
	stmt := fmt.Sprintf(`SELECT max(change_id) FROM %s.%s`, sbx.Schema, cdc.BufferTableName(oid))
	if err := sbx.DB.QueryRowContext(ctx, stmt).Scan(&id); err != nil {
		t.Fatalf("read change_id high-water mark: %v", err)
	}
	return uint64(id.Int64)
}

func mustExec(t *testing.T, sbx *fixgres.Sandbox, ctx context.Context, stmt string) {
	t.Helper()
	if _, err := sbx.DB.ExecContext(ctx, stmt); err != nil {
		t.Fatalf("exec %q: %v", stmt, err)
	}
}

// wireCDC creates the source table's buffer table and AFTER-row trigger
// directly via internal/cdc's SQL builders, the same DDL a real
// create_stream_table call would install, minus the catalog bookkeeping
// that surface is responsible for.
func wireCDC(t *testing.T, sbx *fixgres.Sandbox, ctx context.Context, oid uint32, table string, cols []cdc.SourceColumn, pkCols []string) {
	t.Helper()
	mustExec(t, sbx, ctx, cdc.CreateBufferTableSQL(sbx.Schema, oid, cols))
	mustExec(t, sbx, ctx, cdc.CreateTriggerFunctionSQL(sbx.Schema, oid, cols, pkCols))
	mustExec(t, sbx, ctx, cdc.CreateTriggerSQL(sbx.Schema, table, oid, sbx.Schema))
}

func run(t *testing.T, sbx *fixgres.Sandbox, ctx context.Context, prog *dvm.Program) {
	t.Helper()
	for _, stmt := range prog.Statements {
		mustExec(t, sbx, ctx, stmt)
	}
}

// TestDifferentialAggregateShrinksWhenGroupVanishes drives §8's S2 scenario
// end to end: deleting every row of a group must shrink the stream table by
// exactly that group's row, not leave a stale aggregate behind.
func TestDifferentialAggregateShrinksWhenGroupVanishes(t *testing.T) {
	sbx := fixgres.NewSandbox(t)
	defer sbx.Close()
	ctx := context.Background()

	mustExec(t, sbx, ctx, fmt.Sprintf(`CREATE TABLE %s.orders (id int PRIMARY KEY, grp text NOT NULL, amount numeric NOT NULL)`, sbx.Schema))
	oid := sourceOID(t, sbx, ctx, sbx.Schema+".orders")

	cols := []cdc.SourceColumn{{Name: "id", Type: "int"}, {Name: "grp", Type: "text"}, {Name: "amount", Type: "numeric"}}
	wireCDC(t, sbx, ctx, oid, "orders", cols, []string{"id"})

	mustExec(t, sbx, ctx, fmt.Sprintf(
		`CREATE TABLE %s.st_totals (group_key_0 text, total numeric, __pgs_row_id bigint UNIQUE, __pgs_count bigint)`, sbx.Schema))

	mustExec(t, sbx, ctx, fmt.Sprintf(`INSERT INTO %s.orders (id, grp, amount) VALUES (1,'a',10),(2,'a',5),(3,'b',7)`, sbx.Schema))

	scan := &ir.Scan{
		TableOID:  oid,
		TableName: "orders",
		Schema:    sbx.Schema,
		Columns:   []ir.Column{{Name: "id"}, {Name: "grp"}, {Name: "amount"}},
		PKColumns: []string{"id"},
		Alias:     "orders",
	}
	agg := &ir.Aggregate{
		GroupBy:    []ir.Expr{{SQL: "grp"}},
		Aggregates: []ir.AggExpr{{Func: ir.AggSum, Arg: ir.Expr{SQL: "amount"}, Alias: "total", Col: ir.Column{Name: "total"}}},
		Child:      scan,
	}

	fullProg, err := dvm.CompileFull(agg, sbx.Schema, "st_totals")
	if err != nil {
		t.Fatalf("CompileFull: %v", err)
	}
	run(t, sbx, ctx, fullProg)

	totals := queryTotals(t, sbx, ctx)
	if len(totals) != 2 || totals["a"] != 15 || totals["b"] != 7 {
		t.Fatalf("unexpected initial totals: %v", totals)
	}

	since := maxChangeID(t, sbx, ctx, oid)
	mustExec(t, sbx, ctx, fmt.Sprintf(`DELETE FROM %s.orders WHERE grp = 'a'`, sbx.Schema))
	until := maxChangeID(t, sbx, ctx, oid)

	dctx := &dvm.Context{ChangesSchema: sbx.Schema, Windows: map[uint32]dvm.ChangeWindow{oid: {Since: since, Until: until}}}
	diffProg, err := dvm.CompileDifferential(agg, dctx, sbx.Schema, "st_totals")
	if err != nil {
		t.Fatalf("CompileDifferential: %v", err)
	}
	run(t, sbx, ctx, diffProg)

	totals = queryTotals(t, sbx, ctx)
	if len(totals) != 1 {
		t.Fatalf("expected group 'a' to be fully retracted, got %v", totals)
	}
	if totals["b"] != 7 {
		t.Fatalf("expected group 'b' untouched at 7, got %v", totals)
	}
}

func queryTotals(t *testing.T, sbx *fixgres.Sandbox, ctx context.Context) map[string]float64 {
	t.Helper()
	rows, err := sbx.DB.QueryContext(ctx, fmt.Sprintf(`SELECT group_key_0, total FROM %s.st_totals`, sbx.Schema))
	if err != nil {
		t.Fatalf("query totals: %v", err)
	}
	defer rows.Close()
	out := map[string]float64{}
	for rows.Next() {
		var grp string
		var total float64
		if err := rows.Scan(&grp, &total); err != nil {
			t.Fatalf("scan total row: %v", err)
		}
		out[grp] = total
	}
	return out
}

// TestDifferentialWindowReemitsWholePartition drives §4.4's window
// contract: inserting a new partition member must re-rank every existing
// member of that partition, not just append a row for the new one.
func TestDifferentialWindowReemitsWholePartition(t *testing.T) {
	sbx := fixgres.NewSandbox(t)
	defer sbx.Close()
	ctx := context.Background()

	mustExec(t, sbx, ctx, fmt.Sprintf(`CREATE TABLE %s.orders (id int PRIMARY KEY, grp text NOT NULL)`, sbx.Schema))
	oid := sourceOID(t, sbx, ctx, sbx.Schema+".orders")

	cols := []cdc.SourceColumn{{Name: "id", Type: "int"}, {Name: "grp", Type: "text"}}
	wireCDC(t, sbx, ctx, oid, "orders", cols, []string{"id"})

	mustExec(t, sbx, ctx, fmt.Sprintf(
		`CREATE TABLE %s.st_ranked (id int, grp text, rn bigint, __pgs_row_id bigint UNIQUE, __pgs_count bigint)`, sbx.Schema))

	mustExec(t, sbx, ctx, fmt.Sprintf(`INSERT INTO %s.orders (id, grp) VALUES (1,'a'),(2,'a'),(3,'b')`, sbx.Schema))

	scan := &ir.Scan{
		TableOID:  oid,
		TableName: "orders",
		Schema:    sbx.Schema,
		Columns:   []ir.Column{{Name: "id"}, {Name: "grp"}},
		PKColumns: []string{"id"},
		Alias:     "orders",
	}
	win := &ir.Window{
		Windows: []ir.WindowExpr{{
			Func:        ir.WinRowNumber,
			PartitionBy: []ir.Expr{{SQL: "grp"}},
			OrderBy:     []ir.Expr{{SQL: "id ASC"}},
			Alias:       "rn",
			Col:         ir.Column{Name: "rn"},
		}},
		Child: scan,
	}

	fullProg, err := dvm.CompileFull(win, sbx.Schema, "st_ranked")
	if err != nil {
		t.Fatalf("CompileFull: %v", err)
	}
	run(t, sbx, ctx, fullProg)

	ranks := queryRanks(t, sbx, ctx)
	if ranks[1] != 1 || ranks[2] != 2 || ranks[3] != 1 {
		t.Fatalf("unexpected initial ranks: %v", ranks)
	}

	since := maxChangeID(t, sbx, ctx, oid)
	mustExec(t, sbx, ctx, fmt.Sprintf(`INSERT INTO %s.orders (id, grp) VALUES (0,'a')`, sbx.Schema))
	until := maxChangeID(t, sbx, ctx, oid)

	dctx := &dvm.Context{ChangesSchema: sbx.Schema, Windows: map[uint32]dvm.ChangeWindow{oid: {Since: since, Until: until}}}
	diffProg, err := dvm.CompileDifferential(win, dctx, sbx.Schema, "st_ranked")
	if err != nil {
		t.Fatalf("CompileDifferential: %v", err)
	}
	run(t, sbx, ctx, diffProg)

	ranks = queryRanks(t, sbx, ctx)
	if ranks[0] != 1 || ranks[1] != 2 || ranks[2] != 3 {
		t.Fatalf("expected group 'a' fully re-ranked after insert, got %v", ranks)
	}
	if ranks[3] != 1 {
		t.Fatalf("expected group 'b' untouched, got %v", ranks)
	}
}

func queryRanks(t *testing.T, sbx *fixgres.Sandbox, ctx context.Context) map[int]int {
	t.Helper()
	rows, err := sbx.DB.QueryContext(ctx, fmt.Sprintf(`SELECT id, rn FROM %s.st_ranked`, sbx.Schema))
	if err != nil {
		t.Fatalf("query ranks: %v", err)
	}
	defer rows.Close()
	out := map[int]int{}
	for rows.Next() {
		var id, rn int
		if err := rows.Scan(&id, &rn); err != nil {
			t.Fatalf("scan rank row: %v", err)
		}
		out[id] = rn
	}
	return out
}
