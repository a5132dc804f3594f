package scheduler

import (
	"context"

	"github.com/pgtrickle/pgtrickle/internal/catalog"
	"github.com/pgtrickle/pgtrickle/internal/dag"
)

// buildGraph assembles §4.7's dependency DAG for the given active stream
// tables: one StreamTableNode per ST, one BaseTableNode per non-ST
// source, and an edge source -> ST for every dependency row. A
// STREAM_TABLE-typed dependency is resolved to its owner's own
// StreamTableNode (by relid lookup) so transitive ST-on-ST chains appear
// as ST-to-ST edges rather than collapsing to an opaque base table.
func buildGraph(ctx context.Context, deps *catalog.DependencyRepo, streams *catalog.StreamTableRepo, sts []*catalog.StreamTable) (*dag.Graph, map[dag.NodeID]*catalog.StreamTable, error) {
	g := dag.New()
	byNode := make(map[dag.NodeID]*catalog.StreamTable, len(sts))

	for _, st := range sts {
		node := dag.NodeID{Kind: dag.StreamTableNode, ID: st.PgsID}
		g.AddNode(node)
		byNode[node] = st
	}

	for _, st := range sts {
		node := dag.NodeID{Kind: dag.StreamTableNode, ID: st.PgsID}
		edges, err := deps.ForStreamTable(ctx, st.PgsID)
		if err != nil {
			return nil, nil, err
		}
		for _, d := range edges {
			src := dag.NodeID{Kind: dag.BaseTableNode, ID: int64(d.SourceRelID)}
			if d.SourceType == catalog.SourceStreamTable {
				if owner, err := streams.GetByRelID(ctx, d.SourceRelID); err == nil {
					src = dag.NodeID{Kind: dag.StreamTableNode, ID: owner.PgsID}
				}
			}
			g.AddEdge(src, node)
		}
	}
	return g, byNode, nil
}
