package parser

import "testing"

type fakeCatalog struct {
	cols map[string][]string
	pks  map[string][]string
	oids map[string]uint32
}

func (f *fakeCatalog) Columns(table string) ([]string, bool) {
	c, ok := f.cols[table]
	return c, ok
}

func (f *fakeCatalog) PrimaryKeys(table string) ([]string, bool) {
	p, ok := f.pks[table]
	return p, ok
}

func (f *fakeCatalog) OID(table string) (uint32, bool) {
	o, ok := f.oids[table]
	return o, ok
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		cols: map[string][]string{
			"orders":   {"id", "customer_id", "total_cents", "status"},
			"customers": {"id", "name", "region"},
		},
		pks: map[string][]string{
			"orders":    {"id"},
			"customers": {"id"},
		},
		oids: map[string]uint32{
			"orders":    100,
			"customers": 200,
		},
	}
}

// S7 — LIMIT is a hard rejection (§4.3, §8).
func TestParseRejectsLimit(t *testing.T) {
	cat := newFakeCatalog()
	_, err := Parse("SELECT id FROM orders LIMIT 5", cat, Options{Mode: Full})
	if err == nil {
		t.Fatalf("expected LIMIT to be rejected")
	}
}

func TestParseRejectsForUpdate(t *testing.T) {
	cat := newFakeCatalog()
	_, err := Parse("SELECT id FROM orders FOR UPDATE", cat, Options{Mode: Full})
	if err == nil {
		t.Fatalf("expected FOR UPDATE to be rejected")
	}
}

func TestParseSimpleScan(t *testing.T) {
	cat := newFakeCatalog()
	node, err := Parse("SELECT id, status FROM orders", cat, Options{Mode: Full})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	oids := node.SourceOIDs()
	if _, ok := oids[100]; !ok {
		t.Fatalf("expected orders OID 100 in source OIDs, got %v", oids)
	}
}

func TestParseFilter(t *testing.T) {
	cat := newFakeCatalog()
	node, err := Parse("SELECT id FROM orders WHERE status = 'paid'", cat, Options{Mode: Full})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(node.OutputColumns()) != 1 {
		t.Fatalf("expected 1 output column, got %d", len(node.OutputColumns()))
	}
}

func TestParseInnerJoin(t *testing.T) {
	cat := newFakeCatalog()
	node, err := Parse(
		"SELECT o.id, c.name FROM orders o JOIN customers c ON o.customer_id = c.id",
		cat, Options{Mode: Full},
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	oids := node.SourceOIDs()
	if _, ok := oids[100]; !ok {
		t.Fatalf("expected orders OID in join source OIDs")
	}
	if _, ok := oids[200]; !ok {
		t.Fatalf("expected customers OID in join source OIDs")
	}
}

func TestParseAggregate(t *testing.T) {
	cat := newFakeCatalog()
	node, err := Parse(
		"SELECT customer_id, count(*), sum(total_cents) FROM orders GROUP BY customer_id",
		cat, Options{Mode: Full},
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(node.OutputColumns()) != 3 {
		t.Fatalf("expected 3 output columns (1 group key + 2 aggregates), got %d", len(node.OutputColumns()))
	}
}

func TestParseSelfReferenceRejected(t *testing.T) {
	cat := newFakeCatalog()
	_, err := Parse("SELECT id FROM orders", cat, Options{Mode: Full, SelfOID: 100})
	if err == nil {
		t.Fatalf("expected self-reference to be rejected")
	}
}

func TestParseUnionAll(t *testing.T) {
	cat := newFakeCatalog()
	_, err := Parse(
		"SELECT id FROM orders UNION ALL SELECT id FROM customers",
		cat, Options{Mode: Full},
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestParseRejectsPlainUnion(t *testing.T) {
	cat := newFakeCatalog()
	_, err := Parse(
		"SELECT id FROM orders UNION SELECT id FROM customers",
		cat, Options{Mode: Full},
	)
	if err == nil {
		t.Fatalf("expected non-ALL UNION to be rejected")
	}
}
