// Package dag maintains the stream-table dependency graph: cycle
// detection, topological order, diamond-group discovery, and CALCULATED
// schedule resolution.
package dag

import (
	"sort"
	"strconv"

	"github.com/pgtrickle/pgtrickle/internal/pgerrors"
)

// NodeKind discriminates the two node flavors spec.md's data model names.
type NodeKind int

const (
	BaseTableNode NodeKind = iota
	StreamTableNode
)

// NodeID is an opaque, comparable node identity: BaseTable(oid) or
// StreamTable(pgs_id). Represented as integer IDs per §9's design note —
// never structurally cyclic, since cycles only ever arise from traversal.
type NodeID struct {
	Kind NodeKind
	ID   int64
}

func (n NodeID) String() string {
	if n.Kind == BaseTableNode {
		return "table:" + strconv.FormatInt(n.ID, 10)
	}
	return "st:" + strconv.FormatInt(n.ID, 10)
}

// Graph is the dependency DAG: edge u -> v means "v's defining query reads
// from u". Insertion order of nodes is preserved for stable topological
// tie-breaking, per spec's reproducibility requirement.
type Graph struct {
	order []NodeID
	seen  map[NodeID]bool
	out   map[NodeID][]NodeID
	in    map[NodeID][]NodeID
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{
		seen: map[NodeID]bool{},
		out:  map[NodeID][]NodeID{},
		in:   map[NodeID][]NodeID{},
	}
}

// AddNode registers a node if not already present.
func (g *Graph) AddNode(n NodeID) {
	if g.seen[n] {
		return
	}
	g.seen[n] = true
	g.order = append(g.order, n)
}

// AddEdge records u -> v. Rejecting an edge that would close a cycle is
// not required at insertion time; cycle detection runs globally at each
// scheduler tick instead.
func (g *Graph) AddEdge(u, v NodeID) {
	g.AddNode(u)
	g.AddNode(v)
	g.out[u] = append(g.out[u], v)
	g.in[v] = append(g.in[v], u)
}

// Nodes returns all nodes in insertion order.
func (g *Graph) Nodes() []NodeID {
	return append([]NodeID(nil), g.order...)
}

// Out returns the successors of n in insertion order.
func (g *Graph) Out(n NodeID) []NodeID { return g.out[n] }

// In returns the predecessors of n in insertion order.
func (g *Graph) In(n NodeID) []NodeID { return g.in[n] }

type color int

const (
	white color = iota
	gray
	black
)

// DetectCycles runs a three-colour DFS and returns the first offending
// cycle path found, or nil if the graph is acyclic.
func (g *Graph) DetectCycles() *pgerrors.Cycle {
	colors := make(map[NodeID]color, len(g.order))
	var stack []NodeID

	var visit func(n NodeID) *pgerrors.Cycle
	visit = func(n NodeID) *pgerrors.Cycle {
		colors[n] = gray
		stack = append(stack, n)
		for _, next := range g.out[n] {
			switch colors[next] {
			case white:
				if c := visit(next); c != nil {
					return c
				}
			case gray:
				// Found the back edge; extract the cycle from the stack.
				start := 0
				for i, s := range stack {
					if s == next {
						start = i
						break
					}
				}
				cyclePath := append([]NodeID(nil), stack[start:]...)
				cyclePath = append(cyclePath, next)
				return &pgerrors.Cycle{Path: nodeStrings(cyclePath)}
			case black:
				// already fully explored, no cycle through here
			}
		}
		stack = stack[:len(stack)-1]
		colors[n] = black
		return nil
	}

	for _, n := range g.order {
		if colors[n] == white {
			if c := visit(n); c != nil {
				return c
			}
		}
	}
	return nil
}

func nodeStrings(ns []NodeID) []string {
	out := make([]string, len(ns))
	for i, n := range ns {
		out[i] = n.String()
	}
	return out
}

// TopologicalOrder runs Kahn's algorithm, breaking ties by stable
// insertion order so the result is reproducible across runs.
func (g *Graph) TopologicalOrder() ([]NodeID, error) {
	if c := g.DetectCycles(); c != nil {
		return nil, c
	}

	indexOf := make(map[NodeID]int, len(g.order))
	for i, n := range g.order {
		indexOf[n] = i
	}

	indegree := make(map[NodeID]int, len(g.order))
	for _, n := range g.order {
		indegree[n] = len(g.in[n])
	}

	ready := make([]NodeID, 0, len(g.order))
	for _, n := range g.order {
		if indegree[n] == 0 {
			ready = append(ready, n)
		}
	}

	var out []NodeID
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return indexOf[ready[i]] < indexOf[ready[j]] })
		n := ready[0]
		ready = ready[1:]
		out = append(out, n)
		for _, next := range g.out[n] {
			indegree[next]--
			if indegree[next] == 0 {
				ready = append(ready, next)
			}
		}
	}
	return out, nil
}

// DiamondGroups finds maximal sets of nodes reachable from a common
// ancestor by two or more disjoint paths that converge at a common
// descendant. Used by the scheduler to schedule atomic consistency groups.
func (g *Graph) DiamondGroups() [][]NodeID {
	order, err := g.TopologicalOrder()
	if err != nil {
		return nil
	}

	// reachableFrom[n] = set of nodes that can reach n via some upstream
	// path, used to find nodes with >=2 distinct upstream "branch roots".
	reachableFrom := make(map[NodeID]map[NodeID]struct{}, len(order))
	for _, n := range order {
		set := map[NodeID]struct{}{}
		for _, p := range g.in[n] {
			set[p] = struct{}{}
			for anc := range reachableFrom[p] {
				set[anc] = struct{}{}
			}
		}
		reachableFrom[n] = set
	}

	var groups [][]NodeID
	seen := map[NodeID]bool{}
	for _, n := range order {
		if len(g.in[n]) < 2 {
			continue
		}
		// Find a common ancestor reachable via >=2 of n's direct parents
		// through disjoint first hops.
		parents := g.in[n]
		commonAncestors := map[NodeID]int{}
		for _, p := range parents {
			commonAncestors[p]++
			for anc := range reachableFrom[p] {
				commonAncestors[anc]++
			}
		}
		for anc, count := range commonAncestors {
			if count < 2 {
				continue
			}
			if seen[n] {
				continue
			}
			group := diamondMembers(g, anc, n)
			if len(group) > 0 {
				groups = append(groups, group)
				seen[n] = true
			}
		}
	}
	return groups
}

// diamondMembers collects every node on some path from ancestor to
// descendant (inclusive), used to materialize one diamond's member set.
func diamondMembers(g *Graph, ancestor, descendant NodeID) []NodeID {
	downFromAncestor := reachableSet(g.out, ancestor)
	upFromDescendant := reachableSet(g.in, descendant)

	var members []NodeID
	for n := range downFromAncestor {
		if _, ok := upFromDescendant[n]; ok {
			members = append(members, n)
		}
	}
	sort.Slice(members, func(i, j int) bool {
		return members[i].String() < members[j].String()
	})
	return members
}

func reachableSet(adj map[NodeID][]NodeID, start NodeID) map[NodeID]struct{} {
	visited := map[NodeID]struct{}{start: {}}
	queue := []NodeID{start}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		for _, next := range adj[n] {
			if _, ok := visited[next]; !ok {
				visited[next] = struct{}{}
				queue = append(queue, next)
			}
		}
	}
	return visited
}

// ResolveCalculatedSchedule implements §4.6's rule: a CALCULATED node
// inherits the minimum effective_schedule among its downstream consumers;
// nodes with no downstream use fallback. effectiveSchedule maps already-
// resolved nodes to their schedule in seconds; resolution proceeds over
// nodes in reverse topological order so consumers are resolved first.
func ResolveCalculatedSchedule(g *Graph, calculated map[NodeID]bool, userSchedule map[NodeID]int, fallback int) (map[NodeID]int, error) {
	order, err := g.TopologicalOrder()
	if err != nil {
		return nil, err
	}

	resolved := make(map[NodeID]int, len(order))
	// Process in reverse topological order: downstream consumers (later in
	// topo order) are resolved before their upstream producers.
	for i := len(order) - 1; i >= 0; i-- {
		n := order[i]
		if !calculated[n] {
			resolved[n] = userSchedule[n]
			continue
		}
		min := -1
		for _, consumer := range g.out[n] {
			s, ok := resolved[consumer]
			if !ok {
				continue
			}
			if min == -1 || s < min {
				min = s
			}
		}
		if min == -1 {
			resolved[n] = fallback
		} else {
			resolved[n] = min
		}
	}
	return resolved, nil
}
