package cdc

import "testing"

func strptr(s string) *string { return &s }

func TestRowHashDistinguishesSeparatorPlacement(t *testing.T) {
	h1 := RowHash([]*string{strptr("ab"), strptr("c")})
	h2 := RowHash([]*string{strptr("a"), strptr("bc")})
	if h1 == h2 {
		t.Fatalf("hash(['ab','c']) must differ from hash(['a','bc'])")
	}
}

func TestRowHashDistinguishesNullFromMissing(t *testing.T) {
	h1 := RowHash([]*string{strptr("a"), nil, strptr("b")})
	h2 := RowHash([]*string{strptr("a"), strptr("b")})
	if h1 == h2 {
		t.Fatalf("hash(['a',NULL,'b']) must differ from hash(['a','b'])")
	}
}

func TestRowHashDeterministic(t *testing.T) {
	h1 := RowHash([]*string{strptr("x"), strptr("y")})
	h2 := RowHash([]*string{strptr("x"), strptr("y")})
	if h1 != h2 {
		t.Fatalf("RowHash must be deterministic")
	}
}

func TestRowHashStringsMatchesRowHash(t *testing.T) {
	a := RowHashStrings([]string{"p", "q"})
	b := RowHash([]*string{strptr("p"), strptr("q")})
	if a != b {
		t.Fatalf("RowHashStrings must agree with RowHash for all-non-null input")
	}
}
