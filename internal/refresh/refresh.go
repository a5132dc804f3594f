// Package refresh implements §4.5's single-stream-table refresh
// orchestrator: advisory-lock acquisition, frontier comparison, FULL vs
// DIFFERENTIAL selection (including the change-ratio fallback), program
// execution inside one transaction, and catalog/history bookkeeping.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pgtrickle/pgtrickle/internal/catalog"
	"github.com/pgtrickle/pgtrickle/internal/dvm"
	"github.com/pgtrickle/pgtrickle/internal/notify"
	"github.com/pgtrickle/pgtrickle/internal/parser"
	"github.com/pgtrickle/pgtrickle/internal/pgerrors"
	"github.com/pgtrickle/pgtrickle/internal/version"
)

// Engine runs refreshes for one ST at a time, against a single pool
// shared by every worker (the advisory lock is what keeps two workers
// from stepping on the same ST concurrently, not a separate connection
// per ST).
type Engine struct {
	Pool                 *pgxpool.Pool
	ChangesSchema        string
	MaxChangeRatio       float64
	MaxConsecutiveErrors int

	Streams *catalog.StreamTableRepo
	Deps    *catalog.DependencyRepo
	History *catalog.HistoryRepo
	Sources *catalog.SourceCatalog
	Notify  *notify.Broadcaster
}

// Result summarizes one completed (non-skipped) refresh attempt.
type Result struct {
	Action       catalog.RefreshAction
	RowsInserted int64
	RowsDeleted  int64
}

// plan is everything decided about one ST's refresh before any data
// statement runs: the compiled program and the frontier it will advance
// to if that program succeeds. Separated from execution so a group of
// STs can each be planned independently, then executed together inside
// one shared transaction for atomic diamond consistency.
type plan struct {
	st        *catalog.StreamTable
	action    catalog.RefreshAction
	prog      *dvm.Program
	windows   map[uint32]sourceWindow
	refreshID int64
}

// prepare runs everything up through compiling the refresh program and
// opening its RUNNING history row. Returns (nil, nil) when the ST was
// skipped outright (suspended, or no new data and already populated)
// rather than planned. Assumes the caller already holds pgsID's advisory
// lock.
func (e *Engine) prepare(ctx context.Context, pgsID int64, initiatedBy catalog.InitiatedBy) (*plan, error) {
	st, err := e.Streams.GetByID(ctx, pgsID)
	if err != nil {
		return nil, err
	}
	if st.Status == catalog.StatusSuspended {
		_ = e.History.Skip(ctx, pgsID, catalog.ActionSkip, initiatedBy)
		return nil, nil
	}

	before, err := version.FrontierFromJSON(st.Frontier)
	if err != nil {
		before = version.NewFrontier()
	}

	deps, err := e.Deps.ForStreamTable(ctx, pgsID)
	if err != nil {
		return nil, err
	}
	sourceOIDs := make([]uint32, len(deps))
	for i, d := range deps {
		sourceOIDs[i] = d.SourceRelID
	}

	windows, err := computeWindows(ctx, e.Pool, e.ChangesSchema, sourceOIDs, before)
	if err != nil {
		return nil, err
	}
	if st.IsPopulated && !st.NeedsReinit && !anyAdvanced(windows) {
		_ = e.History.Skip(ctx, pgsID, catalog.ActionNoData, initiatedBy)
		return nil, nil
	}

	action := decideAction(st)

	root, err := parser.Parse(st.DefiningQuery, e.Sources, parser.Options{Mode: parseMode(action), SelfOID: st.PgsRelID})
	if err != nil {
		return nil, e.failNewHistory(ctx, st, pgsID, action, initiatedBy, err)
	}

	if action == catalog.ActionDifferential {
		currentRows, err := currentStorageRowCount(ctx, e.Pool, st.Schema, st.Name)
		if err != nil {
			return nil, e.failNewHistory(ctx, st, pgsID, action, initiatedBy, err)
		}
		if dvm.ShouldFallbackToFull(dvm.FallbackDecision{
			DeltaRowCount:              totalDeltaRows(windows),
			CurrentStorageRows:         currentRows,
			DifferentialMaxChangeRatio: e.MaxChangeRatio,
			NeedsReinit:                st.NeedsReinit,
		}) {
			action = catalog.ActionFull
			root, err = parser.Parse(st.DefiningQuery, e.Sources, parser.Options{Mode: parser.Full, SelfOID: st.PgsRelID})
			if err != nil {
				return nil, e.failNewHistory(ctx, st, pgsID, action, initiatedBy, err)
			}
		}
	}

	refreshID, err := e.History.Open(ctx, pgsID, action, initiatedBy)
	if err != nil {
		return nil, err
	}

	var prog *dvm.Program
	switch action {
	case catalog.ActionFull, catalog.ActionReinitialize:
		prog, err = dvm.CompileFull(root, st.Schema, st.Name)
	default:
		dvmCtx := &dvm.Context{ChangesSchema: e.ChangesSchema, Windows: make(map[uint32]dvm.ChangeWindow, len(windows))}
		for oid, w := range windows {
			dvmCtx.Windows[oid] = w.window
		}
		prog, err = dvm.CompileDifferential(root, dvmCtx, st.Schema, st.Name)
	}
	if err != nil {
		return nil, e.failOpen(ctx, st, pgsID, refreshID, err)
	}

	return &plan{st: st, action: action, prog: prog, windows: windows, refreshID: refreshID}, nil
}

// finish records a successfully executed plan's catalog/history updates.
func (e *Engine) finish(ctx context.Context, p *plan, inserted, deleted int64) (*Result, error) {
	st, pgsID := p.st, p.st.PgsID

	newFrontier := version.NewFrontier()
	now := time.Now()
	for oid, w := range p.windows {
		newFrontier.SetSource(oid, w.newLSN, now)
	}
	frontierJSON, err := newFrontier.ToJSON()
	if err != nil {
		return e.failOpen(ctx, st, pgsID, p.refreshID, &pgerrors.Fatal{Detail: "marshal frontier", Err: err})
	}

	if err := e.Streams.UpdateFrontierAndTimestamp(ctx, pgsID, frontierJSON); err != nil {
		return e.failOpen(ctx, st, pgsID, p.refreshID, err)
	}
	if st.NeedsReinit {
		_ = e.Streams.ClearNeedsReinit(ctx, pgsID)
	}
	dataTS := now.UTC().Format(time.RFC3339Nano)
	if err := e.History.Complete(ctx, p.refreshID, dataTS, inserted, deleted); err != nil {
		return nil, err
	}
	if e.Notify != nil {
		_ = e.Notify.RefreshCompleted(ctx, st.Schema, st.Name, string(p.action), inserted, deleted)
	}

	// pgt_change_tracking.last_consumed_lsn (the cursor a buffer's last
	// consumer eventually drops up to) is not advanced here, and neither
	// internal/scheduler nor any other caller in this module invokes
	// cdc.AdvanceLastConsumed, so it keeps its initial value.
	return &Result{Action: p.action, RowsInserted: inserted, RowsDeleted: deleted}, nil
}

// Refresh runs §4.5's pseudocode for a single stream table. A nil Result
// with a nil error means the refresh was skipped (lock contention, no new
// data, or a suspended ST) without that being a failure.
func (e *Engine) Refresh(ctx context.Context, pgsID int64, initiatedBy catalog.InitiatedBy) (*Result, error) {
	lock, ok, err := tryAcquireStreamTableLock(ctx, e.Pool, pgsID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	defer lock.release(ctx)

	p, err := e.prepare(ctx, pgsID, initiatedBy)
	if err != nil || p == nil {
		return nil, err
	}

	inserted, deleted, err := e.executeOwnTx(ctx, p.prog)
	if err != nil {
		return e.failOpen(ctx, p.st, pgsID, p.refreshID, err)
	}
	return e.finish(ctx, p, inserted, deleted)
}

func decideAction(st *catalog.StreamTable) catalog.RefreshAction {
	if st.NeedsReinit {
		return catalog.ActionReinitialize
	}
	if st.RefreshMode == catalog.ModeFull {
		return catalog.ActionFull
	}
	return catalog.ActionDifferential
}

func parseMode(action catalog.RefreshAction) parser.Mode {
	if action == catalog.ActionDifferential {
		return parser.Differential
	}
	return parser.Full
}

// statementExecer is satisfied by both pgx.Tx and (via a thin wrapper)
// a connection acquired directly from the pool, so runStatements can run
// a program against either a private transaction or a shared one.
type statementExecer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// runStatements executes prog against exec, returning the rows affected
// by its insert/upsert statement as "inserted" and its delete statement
// (DIFFERENTIAL only) as "deleted".
func runStatements(ctx context.Context, exec statementExecer, prog *dvm.Program) (inserted, deleted int64, err error) {
	for i, stmt := range prog.Statements {
		tag, err := exec.Exec(ctx, stmt)
		if err != nil {
			return 0, 0, classifyExecError(err)
		}
		n := tag.RowsAffected()
		switch {
		case len(prog.Statements) == 2 && i == 0:
			deleted = n
		case len(prog.Statements) == 2 && i == 1:
			inserted = n
		default:
			inserted = n
		}
	}
	return inserted, deleted, nil
}

// executeOwnTx runs prog inside a transaction scoped to this one refresh.
func (e *Engine) executeOwnTx(ctx context.Context, prog *dvm.Program) (inserted, deleted int64, err error) {
	tx, err := e.Pool.Begin(ctx)
	if err != nil {
		return 0, 0, &pgerrors.Transient{Detail: "begin refresh tx", Err: err}
	}
	defer func() { _ = tx.Rollback(ctx) }()

	inserted, deleted, err = runStatements(ctx, tx, prog)
	if err != nil {
		return 0, 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, 0, &pgerrors.Transient{Detail: "commit refresh tx", Err: err}
	}
	return inserted, deleted, nil
}

// classifyExecError turns a raw pgx statement error into §7's taxonomy:
// connection/lock-class SQLSTATEs are transient; undefined-column/table
// and type-mismatch classes mean the defining query no longer matches its
// sources (schema); anything else is fatal.
func classifyExecError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, "08"), pgErr.Code == "57014", pgErr.Code == "40001", pgErr.Code == "40P01":
			return &pgerrors.Transient{Detail: "refresh program statement failed", Err: err}
		case pgErr.Code == "42703", pgErr.Code == "42P01", pgErr.Code == "42804", pgErr.Code == "42883":
			return &pgerrors.Schema{Detail: fmt.Sprintf("refresh program statement failed: %s", pgErr.Message)}
		}
	}
	return &pgerrors.Fatal{Detail: "refresh program statement failed", Err: err}
}

func (e *Engine) failNewHistory(ctx context.Context, st *catalog.StreamTable, pgsID int64, action catalog.RefreshAction, initiatedBy catalog.InitiatedBy, err error) error {
	refreshID, openErr := e.History.Open(ctx, pgsID, action, initiatedBy)
	if openErr != nil {
		return err
	}
	_, _ = e.failOpen(ctx, st, pgsID, refreshID, err)
	return err
}

func (e *Engine) failOpen(ctx context.Context, st *catalog.StreamTable, pgsID, refreshID int64, err error) (*Result, error) {
	switch classify(err) {
	case outcomeSchema:
		_ = e.Streams.MarkNeedsReinit(ctx, pgsID)
	case outcomeTransient:
		_ = e.Streams.IncrementConsecutiveErrors(ctx, pgsID, e.MaxConsecutiveErrors)
	default:
		_ = e.Streams.MarkError(ctx, pgsID)
	}
	_ = e.History.Fail(ctx, refreshID, err.Error())
	if e.Notify != nil {
		_ = e.Notify.RefreshFailed(ctx, st.Schema, st.Name, "REFRESH", err.Error())
	}
	return nil, err
}
