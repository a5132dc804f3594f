package refresh

import (
	"errors"
	"testing"

	"github.com/pgtrickle/pgtrickle/internal/catalog"
	"github.com/pgtrickle/pgtrickle/internal/dvm"
	"github.com/pgtrickle/pgtrickle/internal/parser"
	"github.com/pgtrickle/pgtrickle/internal/pgerrors"
	"github.com/pgtrickle/pgtrickle/internal/version"
)

func TestDecideActionPrefersReinitOverMode(t *testing.T) {
	st := &catalog.StreamTable{RefreshMode: catalog.ModeDifferential, NeedsReinit: true}
	if got := decideAction(st); got != catalog.ActionReinitialize {
		t.Fatalf("expected REINITIALIZE, got %s", got)
	}
}

func TestDecideActionFullMode(t *testing.T) {
	st := &catalog.StreamTable{RefreshMode: catalog.ModeFull}
	if got := decideAction(st); got != catalog.ActionFull {
		t.Fatalf("expected FULL, got %s", got)
	}
}

func TestDecideActionDifferentialMode(t *testing.T) {
	st := &catalog.StreamTable{RefreshMode: catalog.ModeDifferential}
	if got := decideAction(st); got != catalog.ActionDifferential {
		t.Fatalf("expected DIFFERENTIAL, got %s", got)
	}
}

func TestParseModeMatchesAction(t *testing.T) {
	if parseMode(catalog.ActionDifferential) != parser.Differential {
		t.Fatalf("expected Differential parse mode")
	}
	if parseMode(catalog.ActionFull) != parser.Full {
		t.Fatalf("expected Full parse mode for FULL")
	}
	if parseMode(catalog.ActionReinitialize) != parser.Full {
		t.Fatalf("expected Full parse mode for REINITIALIZE")
	}
}

func TestClassifyErrors(t *testing.T) {
	if classify(&pgerrors.Schema{Detail: "x"}) != outcomeSchema {
		t.Fatalf("expected schema outcome")
	}
	if classify(&pgerrors.Transient{Detail: "x"}) != outcomeTransient {
		t.Fatalf("expected transient outcome")
	}
	if classify(errors.New("boom")) != outcomeFatal {
		t.Fatalf("expected fatal outcome for an unrecognized error")
	}
}

func TestTotalDeltaRowsAndAnyAdvanced(t *testing.T) {
	windows := map[uint32]sourceWindow{
		100: {window: dvm.ChangeWindow{Since: 5, Until: 12}},
		200: {window: dvm.ChangeWindow{Since: 3, Until: 3}},
	}
	if got := totalDeltaRows(windows); got != 7 {
		t.Fatalf("expected 7 total delta rows, got %d", got)
	}
	if !anyAdvanced(windows) {
		t.Fatalf("expected at least one source to have advanced")
	}
	stale := map[uint32]sourceWindow{100: {window: dvm.ChangeWindow{Since: 8, Until: 8}}}
	if anyAdvanced(stale) {
		t.Fatalf("expected no advancement when since == until for every source")
	}
}

func TestComputeWindowsFrontierLookup(t *testing.T) {
	f := version.NewFrontier()
	if _, ok := f.GetLSN(42); ok {
		t.Fatalf("expected no LSN recorded for an untracked source")
	}
}
