package dvm

import (
	"strings"
	"testing"

	"github.com/pgtrickle/pgtrickle/internal/ir"
)

func ordersScan() *ir.Scan {
	return &ir.Scan{
		TableOID:  100,
		TableName: "orders",
		Columns: []ir.Column{
			{Name: "id"}, {Name: "amount"},
		},
		PKColumns: []string{"id"},
		Alias:     "orders",
	}
}

func TestRenderScan(t *testing.T) {
	sql, err := Render(ordersScan())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(sql, "FROM orders") {
		t.Fatalf("expected FROM orders, got %q", sql)
	}
}

func TestRenderFilter(t *testing.T) {
	n := &ir.Filter{Predicate: ir.Expr{SQL: "amount > 100"}, Child: ordersScan()}
	sql, err := Render(n)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(sql, "WHERE amount > 100") {
		t.Fatalf("expected WHERE clause, got %q", sql)
	}
}

func TestDeltaScanSplitsUpdateIntoOldAndNew(t *testing.T) {
	ctx := &Context{
		ChangesSchema: "pgtrickle_changes",
		Windows:       map[uint32]ChangeWindow{100: {Since: 10, Until: 20}},
	}
	sql, err := Delta(ordersScan(), ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(sql, "action IN ('I','U')") || !strings.Contains(sql, "action IN ('D','U')") {
		t.Fatalf("expected both insert and delete legs, got %q", sql)
	}
	if !strings.Contains(sql, "changes_100") {
		t.Fatalf("expected buffer table name changes_100, got %q", sql)
	}
}

func TestDeltaJoinReferencesBothLegs(t *testing.T) {
	ctx := &Context{
		ChangesSchema: "pgtrickle_changes",
		Windows: map[uint32]ChangeWindow{
			100: {Since: 0, Until: 10},
			200: {Since: 0, Until: 10},
		},
	}
	customers := &ir.Scan{TableOID: 200, TableName: "customers", Columns: []ir.Column{{Name: "id"}, {Name: "name"}}, PKColumns: []string{"id"}, Alias: "customers"}
	join := &ir.Join{Kind: ir.InnerJoin, Condition: ir.Expr{SQL: "orders.customer_id = customers.id"}, Left: ordersScan(), Right: customers}
	sql, err := Delta(join, ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(sql, "changes_100") || !strings.Contains(sql, "changes_200") {
		t.Fatalf("expected both sources' buffers referenced, got %q", sql)
	}
}

func TestCompileFullProducesTruncateThenInsert(t *testing.T) {
	prog, err := CompileFull(ordersScan(), "pgtrickle", "st_42")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(prog.Statements) != 2 {
		t.Fatalf("expected 2 statements, got %d", len(prog.Statements))
	}
	if !strings.HasPrefix(prog.Statements[0], "TRUNCATE") {
		t.Fatalf("expected first statement to be TRUNCATE, got %q", prog.Statements[0])
	}
	if !strings.HasPrefix(prog.Statements[1], "INSERT INTO") {
		t.Fatalf("expected second statement to be INSERT, got %q", prog.Statements[1])
	}
}

func TestCompileDifferentialProducesDeleteThenUpsert(t *testing.T) {
	ctx := &Context{
		ChangesSchema: "pgtrickle_changes",
		Windows:       map[uint32]ChangeWindow{100: {Since: 0, Until: 5}},
	}
	prog, err := CompileDifferential(ordersScan(), ctx, "pgtrickle", "st_42")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(prog.Statements) != 2 {
		t.Fatalf("expected 2 statements, got %d", len(prog.Statements))
	}
	if !strings.HasPrefix(prog.Statements[0], "DELETE FROM") {
		t.Fatalf("expected first statement to be DELETE, got %q", prog.Statements[0])
	}
	if !strings.Contains(prog.Statements[1], "ON CONFLICT (__pgs_row_id)") {
		t.Fatalf("expected upsert on __pgs_row_id, got %q", prog.Statements[1])
	}
}

func TestCompileDifferentialAggregateDeletesByGroupKeyNotRowValue(t *testing.T) {
	ctx := &Context{
		ChangesSchema: "pgtrickle_changes",
		Windows:       map[uint32]ChangeWindow{100: {Since: 0, Until: 5}},
	}
	agg := &ir.Aggregate{
		GroupBy:    []ir.Expr{{SQL: "grp"}},
		Aggregates: []ir.AggExpr{{Func: ir.AggSum, Arg: ir.Expr{SQL: "amount"}, Alias: "total", Col: ir.Column{Name: "total"}}},
		Child:      ordersScan(),
	}
	prog, err := CompileDifferential(agg, ctx, "pgtrickle", "st_totals")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(prog.Statements) != 2 {
		t.Fatalf("expected 2 statements, got %d", len(prog.Statements))
	}
	del, ins := prog.Statements[0], prog.Statements[1]
	if !strings.HasPrefix(del, "DELETE FROM") || !strings.Contains(del, `"group_key_0"`) {
		t.Fatalf("expected delete keyed on group_key_0, got %q", del)
	}
	if strings.Contains(ins, "ON CONFLICT") {
		t.Fatalf("expected a plain insert (rows were already deleted by key), got %q", ins)
	}
	if !strings.Contains(ins, "group_key_0") || !strings.Contains(ins, "total") {
		t.Fatalf("expected insert to select group key and aggregate columns, got %q", ins)
	}
}

func TestCompileDifferentialWindowDeletesByPartitionKey(t *testing.T) {
	ctx := &Context{
		ChangesSchema: "pgtrickle_changes",
		Windows:       map[uint32]ChangeWindow{100: {Since: 0, Until: 5}},
	}
	win := &ir.Window{
		Windows: []ir.WindowExpr{{
			Func:        ir.WinRowNumber,
			PartitionBy: []ir.Expr{{SQL: "orders.id"}},
			Alias:       "rn",
			Col:         ir.Column{Name: "rn"},
		}},
		Child: ordersScan(),
	}
	prog, err := CompileDifferential(win, ctx, "pgtrickle", "st_ranked")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(prog.Statements) != 2 {
		t.Fatalf("expected 2 statements, got %d", len(prog.Statements))
	}
	del, ins := prog.Statements[0], prog.Statements[1]
	if !strings.HasPrefix(del, "DELETE FROM") || !strings.Contains(del, "orders.id") {
		t.Fatalf("expected delete keyed on the partition expression, got %q", del)
	}
	if strings.Contains(ins, "ON CONFLICT") {
		t.Fatalf("expected a plain insert (rows were already deleted by key), got %q", ins)
	}
}

func TestShouldFallbackToFullOnChangeRatio(t *testing.T) {
	d := FallbackDecision{DeltaRowCount: 600, CurrentStorageRows: 1000, DifferentialMaxChangeRatio: 0.5}
	if !ShouldFallbackToFull(d) {
		t.Fatalf("expected fallback when delta exceeds ratio threshold")
	}
}

func TestShouldNotFallbackWithinRatio(t *testing.T) {
	d := FallbackDecision{DeltaRowCount: 10, CurrentStorageRows: 1000, DifferentialMaxChangeRatio: 0.5}
	if ShouldFallbackToFull(d) {
		t.Fatalf("expected no fallback within ratio threshold")
	}
}

func TestShouldFallbackOnNeedsReinit(t *testing.T) {
	d := FallbackDecision{NeedsReinit: true}
	if !ShouldFallbackToFull(d) {
		t.Fatalf("expected fallback when needs_reinit is set")
	}
}
