package scheduler

import (
	"testing"
	"time"

	"github.com/pgtrickle/pgtrickle/internal/catalog"
	"github.com/pgtrickle/pgtrickle/internal/dag"
)

func intPtr(i int) *int { return &i }

func TestEffectiveSecondsExplicitSchedule(t *testing.T) {
	st := &catalog.StreamTable{ScheduleSeconds: intPtr(60)}
	secs, calc := effectiveSeconds(st, time.Now())
	if calc || secs != 60 {
		t.Fatalf("got (%d, %v), want (60, false)", secs, calc)
	}
}

func TestEffectiveSecondsCalculated(t *testing.T) {
	st := &catalog.StreamTable{}
	_, calc := effectiveSeconds(st, time.Now())
	if !calc {
		t.Fatal("expected calculated=true when no schedule is set")
	}
}

func TestEffectiveSecondsCronExpr(t *testing.T) {
	expr := "*/5 * * * *"
	st := &catalog.StreamTable{CronExpr: &expr}
	secs, calc := effectiveSeconds(st, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	if calc {
		t.Fatal("cron schedule should not be reported as calculated")
	}
	if secs != 300 {
		t.Fatalf("got %d seconds, want 300 for */5 cron", secs)
	}
}

func TestIsDueUnpopulatedAlwaysDue(t *testing.T) {
	st := &catalog.StreamTable{IsPopulated: false}
	if !isDue(st, 3600, 60, time.Now()) {
		t.Fatal("an unpopulated stream table must always be due")
	}
}

func TestIsDueRespectsMinimum(t *testing.T) {
	last := time.Now().Add(-30 * time.Second)
	st := &catalog.StreamTable{IsPopulated: true, LastRefreshAt: &last}
	if isDue(st, 10, 300, time.Now()) {
		t.Fatal("staleness below the configured minimum schedule should not be due")
	}
}

func TestIsDueStaleByEffectiveSchedule(t *testing.T) {
	last := time.Now().Add(-120 * time.Second)
	st := &catalog.StreamTable{IsPopulated: true, LastRefreshAt: &last}
	if !isDue(st, 60, 10, time.Now()) {
		t.Fatal("staleness past the effective schedule should be due")
	}
}

func TestResolveSchedulesInheritsFromDownstream(t *testing.T) {
	g := dag.New()
	base := dag.NodeID{Kind: dag.BaseTableNode, ID: 1}
	upstream := dag.NodeID{Kind: dag.StreamTableNode, ID: 10}
	downstream := dag.NodeID{Kind: dag.StreamTableNode, ID: 20}
	g.AddNode(base)
	g.AddNode(upstream)
	g.AddNode(downstream)
	g.AddEdge(base, upstream)
	g.AddEdge(upstream, downstream)

	byNode := map[dag.NodeID]*catalog.StreamTable{
		upstream:   {PgsID: 10},
		downstream: {PgsID: 20, ScheduleSeconds: intPtr(120)},
	}

	resolved, err := resolveSchedules(g, byNode, 3600, time.Now())
	if err != nil {
		t.Fatalf("resolveSchedules: %v", err)
	}
	if resolved[upstream] != 120 {
		t.Fatalf("calculated upstream schedule = %d, want inherited 120", resolved[upstream])
	}
	if resolved[downstream] != 120 {
		t.Fatalf("downstream schedule = %d, want 120", resolved[downstream])
	}
}

func TestAllDueAtomicStreamTables(t *testing.T) {
	a := dag.NodeID{Kind: dag.StreamTableNode, ID: 1}
	b := dag.NodeID{Kind: dag.StreamTableNode, ID: 2}
	byNode := map[dag.NodeID]*catalog.StreamTable{
		a: {PgsID: 1, DiamondConsistency: catalog.DiamondAtomic},
		b: {PgsID: 2, DiamondConsistency: catalog.DiamondAtomic},
	}
	due := map[dag.NodeID]bool{a: true, b: true}
	if !allDueAtomicStreamTables([]dag.NodeID{a, b}, byNode, due) {
		t.Fatal("expected both atomic, due members to qualify as a group")
	}

	due[b] = false
	if allDueAtomicStreamTables([]dag.NodeID{a, b}, byNode, due) {
		t.Fatal("a non-due member should disqualify the group this tick")
	}
}

func TestPredecessorsSatisfied(t *testing.T) {
	g := dag.New()
	up := dag.NodeID{Kind: dag.StreamTableNode, ID: 1}
	down := dag.NodeID{Kind: dag.StreamTableNode, ID: 2}
	g.AddNode(up)
	g.AddNode(down)
	g.AddEdge(up, down)

	due := map[dag.NodeID]bool{up: true, down: true}
	done := map[dag.NodeID]bool{}
	if predecessorsSatisfied(g, down, due, done) {
		t.Fatal("downstream should not be launchable before its due upstream completes")
	}
	done[up] = true
	if !predecessorsSatisfied(g, down, due, done) {
		t.Fatal("downstream should be launchable once its due upstream is done")
	}
}

func TestGroupPredecessorsSatisfiedIgnoresIntraGroupEdges(t *testing.T) {
	g := dag.New()
	a := dag.NodeID{Kind: dag.StreamTableNode, ID: 1}
	b := dag.NodeID{Kind: dag.StreamTableNode, ID: 2}
	g.AddNode(a)
	g.AddNode(b)
	g.AddEdge(a, b)

	due := map[dag.NodeID]bool{a: true, b: true}
	done := map[dag.NodeID]bool{}
	if !groupPredecessorsSatisfied(g, []dag.NodeID{a, b}, due, done) {
		t.Fatal("an edge between two members of the same group must not block the group")
	}
}
