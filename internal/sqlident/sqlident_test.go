package sqlident

import "testing"

func TestQuoteIdentDoublesEmbeddedQuotes(t *testing.T) {
	if got := QuoteIdent(`weird"name`); got != `"weird""name"` {
		t.Fatalf("got %q", got)
	}
}

func TestQuoteQualified(t *testing.T) {
	if got := QuoteQualified("pgtrickle", "pgt_stream_tables"); got != `"pgtrickle"."pgt_stream_tables"` {
		t.Fatalf("got %q", got)
	}
}

func TestColList(t *testing.T) {
	if got := ColList([]string{"id", "amount"}); got != `"id", "amount"` {
		t.Fatalf("got %q", got)
	}
}

func TestPrefixedColList(t *testing.T) {
	if got := PrefixedColList("orders", []string{"id", "amount"}); got != `"orders"."id", "orders"."amount"` {
		t.Fatalf("got %q", got)
	}
}

func TestAliasedColList(t *testing.T) {
	if got := AliasedColList([]string{"id"}, "new_"); got != `"id" AS "new_id"` {
		t.Fatalf("got %q", got)
	}
}
