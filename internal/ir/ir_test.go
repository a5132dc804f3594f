package ir

import "testing"

func TestScanSourceOIDs(t *testing.T) {
	s := &Scan{TableOID: 42, TableName: "orders", Schema: "public"}
	oids := s.SourceOIDs()
	if _, ok := oids[42]; !ok || len(oids) != 1 {
		t.Fatalf("expected exactly {42}, got %v", oids)
	}
}

func TestJoinMergesSourceOIDs(t *testing.T) {
	l := &Scan{TableOID: 1}
	r := &Scan{TableOID: 2}
	j := &Join{Kind: InnerJoin, Left: l, Right: r}
	oids := j.SourceOIDs()
	if len(oids) != 2 {
		t.Fatalf("expected 2 oids, got %v", oids)
	}
}

func TestFilterDelegatesOutputColumns(t *testing.T) {
	s := &Scan{Columns: []Column{{Name: "id", Type: "int4"}}}
	f := &Filter{Predicate: Expr{SQL: "id > 0"}, Child: s}
	cols := f.OutputColumns()
	if len(cols) != 1 || cols[0].Name != "id" {
		t.Fatalf("unexpected columns: %v", cols)
	}
}

func TestUnionAllOutputColumnsFromFirstChild(t *testing.T) {
	s1 := &Scan{Columns: []Column{{Name: "id", Type: "int4"}}}
	s2 := &Scan{Columns: []Column{{Name: "id", Type: "int4"}}}
	u := &UnionAll{Children: []Node{s1, s2}}
	if len(u.OutputColumns()) != 1 {
		t.Fatalf("expected 1 output column")
	}
}

func TestSubqueryDelegates(t *testing.T) {
	s := &Scan{TableOID: 7, Columns: []Column{{Name: "x"}}}
	sub := &Subquery{Inner: s, Alias: "q"}
	if sub.OutputColumns()[0].Name != "x" {
		t.Fatalf("subquery did not delegate output columns")
	}
	if _, ok := sub.SourceOIDs()[7]; !ok {
		t.Fatalf("subquery did not delegate source oids")
	}
}
