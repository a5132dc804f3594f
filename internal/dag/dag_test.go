package dag

import "testing"

func st(id int64) NodeID   { return NodeID{Kind: StreamTableNode, ID: id} }
func tbl(id int64) NodeID  { return NodeID{Kind: BaseTableNode, ID: id} }

func TestTopologicalOrderRespectsEveryEdge(t *testing.T) {
	g := New()
	g.AddEdge(tbl(1), st(2))
	g.AddEdge(st(2), st(3))

	order, err := g.TopologicalOrder()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pos := map[NodeID]int{}
	for i, n := range order {
		pos[n] = i
	}
	if pos[tbl(1)] >= pos[st(2)] {
		t.Fatalf("tbl(1) must precede st(2)")
	}
	if pos[st(2)] >= pos[st(3)] {
		t.Fatalf("st(2) must precede st(3)")
	}
}

// S5 — Cycle rejection: nodes {1,2,3} with edges 1->2, 2->3, 3->1.
func TestDetectCyclesFindsTheCycle(t *testing.T) {
	g := New()
	g.AddEdge(st(1), st(2))
	g.AddEdge(st(2), st(3))
	g.AddEdge(st(3), st(1))

	c := g.DetectCycles()
	if c == nil {
		t.Fatalf("expected a cycle to be detected")
	}
	if len(c.Path) < 2 {
		t.Fatalf("expected a non-trivial cycle path, got %v", c.Path)
	}

	if _, err := g.TopologicalOrder(); err == nil {
		t.Fatalf("expected TopologicalOrder to refuse a cyclic graph")
	}
}

func TestAcyclicGraphHasNoCycle(t *testing.T) {
	g := New()
	g.AddEdge(tbl(1), st(2))
	if c := g.DetectCycles(); c != nil {
		t.Fatalf("expected no cycle, got %v", c)
	}
}

// S6 — Atomic diamond: A (base), B, C, D with A->B, A->C, B->D, C->D.
func TestDiamondGroupsFindsTheDiamond(t *testing.T) {
	g := New()
	a := tbl(1)
	b := st(2)
	c := st(3)
	d := st(4)
	g.AddEdge(a, b)
	g.AddEdge(a, c)
	g.AddEdge(b, d)
	g.AddEdge(c, d)

	groups := g.DiamondGroups()
	if len(groups) != 1 {
		t.Fatalf("expected exactly one diamond group, got %d: %v", len(groups), groups)
	}
	members := map[NodeID]bool{}
	for _, n := range groups[0] {
		members[n] = true
	}
	for _, want := range []NodeID{a, b, c, d} {
		if !members[want] {
			t.Fatalf("expected diamond group to contain %v, got %v", want, groups[0])
		}
	}
}

func TestResolveCalculatedScheduleInheritsDownstreamMinimum(t *testing.T) {
	g := New()
	g.AddEdge(st(1), st(2))
	g.AddEdge(st(1), st(3))

	calculated := map[NodeID]bool{st(1): true}
	user := map[NodeID]int{st(2): 300, st(3): 120}

	resolved, err := ResolveCalculatedSchedule(g, calculated, user, 3600)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resolved[st(1)] != 120 {
		t.Fatalf("expected calculated node to inherit min(300,120)=120, got %d", resolved[st(1)])
	}
}

func TestResolveCalculatedScheduleFallsBackWithNoDownstream(t *testing.T) {
	g := New()
	g.AddNode(st(1))
	calculated := map[NodeID]bool{st(1): true}

	resolved, err := ResolveCalculatedSchedule(g, calculated, map[NodeID]int{}, 900)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resolved[st(1)] != 900 {
		t.Fatalf("expected fallback 900, got %d", resolved[st(1)])
	}
}
