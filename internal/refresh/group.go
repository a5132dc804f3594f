package refresh

import (
	"context"
	"sort"

	"github.com/pgtrickle/pgtrickle/internal/catalog"
	"github.com/pgtrickle/pgtrickle/internal/pgerrors"
)

// RefreshGroupAtomic refreshes every member of a diamond consistency
// group (§4.6's "atomic diamond groups") inside one shared transaction,
// so a reader never observes one member's new data alongside another
// member's stale data mid-refresh. Locks are acquired in sorted order to
// give every caller the same lock ordering, avoiding the advisory-lock
// equivalent of a deadlock.
func (e *Engine) RefreshGroupAtomic(ctx context.Context, pgsIDs []int64, initiatedBy catalog.InitiatedBy) ([]*Result, error) {
	sorted := append([]int64(nil), pgsIDs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	locks := make([]*advisoryLock, 0, len(sorted))
	defer func() {
		for _, l := range locks {
			l.release(ctx)
		}
	}()
	for _, pgsID := range sorted {
		lock, ok, err := tryAcquireStreamTableLock(ctx, e.Pool, pgsID)
		if err != nil {
			return nil, err
		}
		if !ok {
			// Another worker holds one member; skip the whole group this
			// tick rather than refresh it partially.
			return nil, nil
		}
		locks = append(locks, lock)
	}

	plans := make([]*plan, 0, len(sorted))
	for _, pgsID := range sorted {
		p, err := e.prepare(ctx, pgsID, initiatedBy)
		if err != nil {
			return nil, err
		}
		if p != nil {
			plans = append(plans, p)
		}
	}
	if len(plans) == 0 {
		return nil, nil
	}

	tx, err := e.Pool.Begin(ctx)
	if err != nil {
		return nil, &pgerrors.Transient{Detail: "begin atomic group tx", Err: err}
	}
	defer func() { _ = tx.Rollback(ctx) }()

	type execResult struct {
		inserted, deleted int64
	}
	execResults := make([]execResult, len(plans))
	for i, p := range plans {
		inserted, deleted, err := runStatements(ctx, tx, p.prog)
		if err != nil {
			for _, p2 := range plans {
				_, _ = e.failOpen(ctx, p2.st, p2.st.PgsID, p2.refreshID, err)
			}
			return nil, err
		}
		execResults[i] = execResult{inserted: inserted, deleted: deleted}
	}

	if err := tx.Commit(ctx); err != nil {
		commitErr := &pgerrors.Transient{Detail: "commit atomic group tx", Err: err}
		for _, p := range plans {
			_, _ = e.failOpen(ctx, p.st, p.st.PgsID, p.refreshID, commitErr)
		}
		return nil, commitErr
	}

	results := make([]*Result, 0, len(plans))
	for i, p := range plans {
		r, err := e.finish(ctx, p, execResults[i].inserted, execResults[i].deleted)
		if err != nil {
			return results, err
		}
		results = append(results, r)
	}
	return results, nil
}
