package version

import (
	"testing"
	"time"
)

func TestLSNTotalOrder(t *testing.T) {
	a, err := ParseLSN("0/16B3748")
	if err != nil {
		t.Fatalf("parse a: %v", err)
	}
	b, err := ParseLSN("0/16B3749")
	if err != nil {
		t.Fatalf("parse b: %v", err)
	}
	if !b.Gt(a) {
		t.Fatalf("expected b > a")
	}
	if a.Gt(a) {
		t.Fatalf("gt must be irreflexive")
	}
	if !a.Gte(a) {
		t.Fatalf("gte must be reflexive")
	}
	if a.Gt(b) && b.Gt(a) {
		t.Fatalf("gt must be antisymmetric")
	}
}

func TestLSNParseRejectsMalformed(t *testing.T) {
	if _, err := ParseLSN("not-an-lsn"); err == nil {
		t.Fatalf("expected Format error")
	}
}

func TestCanonicalPeriodInvariants(t *testing.T) {
	for _, s := range []int{96, 100, 200, 1000, 100000} {
		p := SelectCanonicalPeriodSecs(s)
		if p < 48 {
			t.Fatalf("P must be >= 48, got %d for S=%d", p, s)
		}
		if float64(p) > float64(s)/2 {
			t.Fatalf("P must be <= S/2, got P=%d for S=%d", p, s)
		}
		// P = 48*2^k for some k >= 0
		q := p / 48
		if q*48 != p {
			t.Fatalf("P must be a multiple of 48, got %d", p)
		}
		for q > 1 {
			if q%2 != 0 {
				t.Fatalf("P/48 must be a power of two, got %d", p/48)
			}
			q /= 2
		}
	}
}

func TestCanonicalPeriodFloor(t *testing.T) {
	if got := SelectCanonicalPeriodSecs(10); got != 48 {
		t.Fatalf("expected floor of 48, got %d", got)
	}
}

func TestFrontierJSONRoundTrip(t *testing.T) {
	f := NewFrontier()
	lsn, _ := ParseLSN("0/16B3748")
	f.SetSource(16384, lsn, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	f.DataTimestamp = time.Date(2026, 1, 2, 3, 4, 6, 0, time.UTC)
	f.HasDataTimestamp = true

	b1, err := f.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON: %v", err)
	}
	f2, err := FrontierFromJSON(b1)
	if err != nil {
		t.Fatalf("FromJSON: %v", err)
	}
	b2, err := f2.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON2: %v", err)
	}
	if string(b1) != string(b2) {
		t.Fatalf("round trip not exact:\n%s\nvs\n%s", b1, b2)
	}
	if !f.Equal(f2) {
		t.Fatalf("frontiers not Equal after round trip")
	}
}

func TestFrontierEmpty(t *testing.T) {
	f := NewFrontier()
	if !f.IsEmpty() {
		t.Fatalf("new frontier should be empty")
	}
	lsn, _ := ParseLSN("0/1")
	f.SetSource(1, lsn, time.Now())
	if f.IsEmpty() {
		t.Fatalf("frontier with a source should not be empty")
	}
}
