// Package scheduler implements §4.6's periodic refresh loop: build the
// dependency DAG (internal/dag), resolve CALCULATED schedules, compute
// which stream tables are due, and drive their refreshes
// (internal/refresh) in topological waves bounded by a worker pool —
// grounded on pkg/richcatalog's ticker-loop-with-cancel shape and
// internal/app.Server's goroutine/signal-channel run loop.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pgtrickle/pgtrickle/internal/catalog"
	"github.com/pgtrickle/pgtrickle/internal/dag"
	"github.com/pgtrickle/pgtrickle/internal/pgerrors"
	"github.com/pgtrickle/pgtrickle/internal/refresh"
)

// Scheduler owns the background tick loop. All fields must be set by
// the caller before Run.
type Scheduler struct {
	Streams *catalog.StreamTableRepo
	Deps    *catalog.DependencyRepo
	History *catalog.HistoryRepo
	Engine  *refresh.Engine
	Logger  *zap.Logger

	TickInterval            time.Duration
	MinScheduleSeconds      int
	MaxConcurrentRefreshes  int
	FallbackScheduleSeconds int
}

// Run rewrites any refreshes left RUNNING by a prior crashed process to
// FAILED, then ticks on TickInterval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	if n, err := s.History.RewriteRunningToFailed(ctx); err != nil {
		return err
	} else if n > 0 {
		s.Logger.Warn("rewrote stale running refreshes to failed on startup", zap.Int64("count", n))
	}

	ticker := time.NewTicker(s.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.tick(ctx); err != nil {
				s.Logger.Error("scheduler tick failed", zap.Error(err))
			}
		}
	}
}

// tick runs exactly one scheduling pass: build the graph, resolve
// schedules, compute the due set, and drive refreshes in topological
// waves so a due downstream ST always sees its due upstream's
// freshly-committed output within the same tick.
func (s *Scheduler) tick(ctx context.Context) error {
	sts, err := s.Streams.ListActive(ctx)
	if err != nil {
		return err
	}
	if len(sts) == 0 {
		return nil
	}

	g, byNode, err := buildGraph(ctx, s.Deps, s.Streams, sts)
	if err != nil {
		return err
	}

	if cyc := g.DetectCycles(); cyc != nil {
		s.Logger.Error("dependency cycle detected, skipping tick", zap.Strings("path", cyc.Path))
		return cyc
	}

	order, err := g.TopologicalOrder()
	if err != nil {
		return err
	}

	now := time.Now()
	resolved, err := resolveSchedules(g, byNode, s.FallbackScheduleSeconds, now)
	if err != nil {
		return err
	}

	due := make(map[dag.NodeID]bool, len(byNode))
	for node, st := range byNode {
		if isDue(st, resolved[node], s.MinScheduleSeconds, now) {
			due[node] = true
		}
	}
	if len(due) == 0 {
		return nil
	}

	groupOf := make(map[dag.NodeID]int)
	var groups [][]dag.NodeID
	for _, members := range g.DiamondGroups() {
		if !allDueAtomicStreamTables(members, byNode, due) {
			continue
		}
		idx := len(groups)
		groups = append(groups, members)
		for _, m := range members {
			groupOf[m] = idx
		}
	}

	return s.runWaves(ctx, g, order, due, groups, groupOf)
}

// allDueAtomicStreamTables reports whether every member of a diamond
// group is a due stream table configured for atomic consistency; a
// group with a non-ST member (a base table) or a not-yet-due member
// cannot be refreshed as a unit this tick.
func allDueAtomicStreamTables(members []dag.NodeID, byNode map[dag.NodeID]*catalog.StreamTable, due map[dag.NodeID]bool) bool {
	if len(members) == 0 {
		return false
	}
	for _, m := range members {
		if m.Kind != dag.StreamTableNode {
			return false
		}
		st, ok := byNode[m]
		if !ok || st.DiamondConsistency != catalog.DiamondAtomic {
			return false
		}
		if !due[m] {
			return false
		}
	}
	return true
}

// runWaves processes nodes in topological order with bounded
// concurrency: a node (or, for a diamond group, the whole group) is
// launched once every due predecessor that was part of this tick has
// completed, so downstream refreshes observe upstream's new data.
func (s *Scheduler) runWaves(ctx context.Context, g *dag.Graph, order []dag.NodeID, due map[dag.NodeID]bool, groups [][]dag.NodeID, groupOf map[dag.NodeID]int) error {
	maxConcurrent := s.MaxConcurrentRefreshes
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	sem := make(chan struct{}, maxConcurrent)

	done := make(map[dag.NodeID]bool, len(order))
	launchedGroup := make(map[int]bool)
	var mu sync.Mutex
	var wg sync.WaitGroup

	markDone := func(node dag.NodeID) {
		mu.Lock()
		done[node] = true
		mu.Unlock()
	}

	remaining := make(map[dag.NodeID]bool, len(due))
	for n := range due {
		remaining[n] = true
	}

	for len(remaining) > 0 {
		launchedAny := false
		for _, node := range order {
			if !remaining[node] {
				continue
			}

			if gi, inGroup := groupOf[node]; inGroup {
				if launchedGroup[gi] {
					continue
				}
				members := groups[gi]
				if !groupPredecessorsSatisfied(g, members, due, done) {
					continue
				}
				launchedGroup[gi] = true
				launchedAny = true
				wg.Add(1)
				sem <- struct{}{}
				go func(members []dag.NodeID) {
					defer wg.Done()
					defer func() { <-sem }()
					s.refreshGroup(ctx, members)
					for _, m := range members {
						markDone(m)
					}
				}(members)
				for _, m := range members {
					delete(remaining, m)
				}
				continue
			}

			if !predecessorsSatisfied(g, node, due, done) {
				continue
			}
			launchedAny = true
			delete(remaining, node)
			wg.Add(1)
			sem <- struct{}{}
			go func(node dag.NodeID) {
				defer wg.Done()
				defer func() { <-sem }()
				s.refreshOne(ctx, node)
				markDone(node)
			}(node)
		}
		wg.Wait()
		if !launchedAny {
			// Remaining nodes are due but blocked on a predecessor that
			// wasn't due this tick and so will never complete within it;
			// nothing more to do until the next tick.
			break
		}
	}
	return nil
}

// predecessorsSatisfied reports whether every due predecessor of node
// has already finished this tick. A predecessor that wasn't due this
// tick is ignored — its data is already as fresh as it's going to get
// for now.
func predecessorsSatisfied(g *dag.Graph, node dag.NodeID, due, done map[dag.NodeID]bool) bool {
	for _, pred := range g.In(node) {
		if due[pred] && !done[pred] {
			return false
		}
	}
	return true
}

// groupPredecessorsSatisfied is predecessorsSatisfied applied to every
// member of a diamond group, ignoring edges between members of the
// same group (those are exactly the converging/diverging paths the
// group exists to refresh together, not an ordering constraint).
func groupPredecessorsSatisfied(g *dag.Graph, members []dag.NodeID, due, done map[dag.NodeID]bool) bool {
	inGroup := make(map[dag.NodeID]bool, len(members))
	for _, m := range members {
		inGroup[m] = true
	}
	for _, m := range members {
		for _, pred := range g.In(m) {
			if inGroup[pred] {
				continue
			}
			if due[pred] && !done[pred] {
				return false
			}
		}
	}
	return true
}

func (s *Scheduler) refreshOne(ctx context.Context, node dag.NodeID) {
	if node.Kind != dag.StreamTableNode {
		return
	}
	res, err := s.Engine.Refresh(ctx, node.ID, catalog.InitiatedScheduler)
	s.logResult(node.ID, res, err)
}

func (s *Scheduler) refreshGroup(ctx context.Context, members []dag.NodeID) {
	ids := make([]int64, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.ID)
	}
	results, err := s.Engine.RefreshGroupAtomic(ctx, ids, catalog.InitiatedScheduler)
	if err != nil {
		s.Logger.Error("atomic group refresh failed", zap.Int64s("pgs_ids", ids), zap.Error(err))
		return
	}
	for _, r := range results {
		s.Logger.Info("refreshed stream table", zap.String("action", string(r.Action)),
			zap.Int64("rows_inserted", r.RowsInserted), zap.Int64("rows_deleted", r.RowsDeleted))
	}
}

func (s *Scheduler) logResult(pgsID int64, res *refresh.Result, err error) {
	if err != nil {
		s.Logger.Error("refresh failed", zap.Int64("pgs_id", pgsID), zap.String("kind", pgerrors.Kind(err)), zap.Error(err))
		return
	}
	if res == nil {
		return
	}
	s.Logger.Info("refreshed stream table", zap.Int64("pgs_id", pgsID),
		zap.String("action", string(res.Action)),
		zap.Int64("rows_inserted", res.RowsInserted), zap.Int64("rows_deleted", res.RowsDeleted))
}
