package dvm

import (
	"fmt"
	"strings"

	"github.com/pgtrickle/pgtrickle/internal/ir"
	"github.com/pgtrickle/pgtrickle/internal/pgerrors"
)

// ChangeWindow names the CDC buffer row range a source's delta is read
// from for one refresh (exclusive of Since, inclusive of Until).
type ChangeWindow struct {
	Since uint64
	Until uint64
}

// Context carries everything Delta needs beyond the operator tree itself:
// where each source's change buffer lives and which rows of it are in
// scope for this refresh.
type Context struct {
	ChangesSchema string
	Windows       map[uint32]ChangeWindow
}

// signCol is the signed-multiplicity column every delta subquery carries:
// +1 for an inserted tuple, -1 for a deleted one.
const signCol = "__pgs_sign"

// Delta compiles node's §4.4 delta contract into a SELECT statement
// producing node's output columns plus __pgs_sign. DvmUnsupported shapes
// (keyless-source DIFFERENTIAL, nested window functions, etc.) are
// rejected earlier by the parser; Delta assumes a validated tree.
func Delta(node ir.Node, ctx *Context) (string, error) {
	switch n := node.(type) {
	case *ir.Scan:
		return deltaScan(n, ctx)
	case *ir.Filter:
		return deltaFilter(n, ctx)
	case *ir.Project:
		return deltaProject(n, ctx)
	case *ir.Join:
		return deltaJoin(n, ctx)
	case *ir.LateralJoin:
		return deltaLateralJoin(n, ctx)
	case *ir.Aggregate:
		return deltaAggregate(n, ctx)
	case *ir.Distinct:
		return deltaDistinct(n, ctx)
	case *ir.Window:
		return deltaWindow(n, ctx)
	case *ir.UnionAll:
		return deltaUnionAll(n, ctx)
	case *ir.Subquery:
		return Delta(n.Inner, ctx)
	default:
		return "", &pgerrors.Unsupported{Construct: fmt.Sprintf("%T in DIFFERENTIAL mode", node), Suggestion: "use FULL refresh mode for this construct"}
	}
}

func colNames(cols []ir.Column) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = c.Name
	}
	return out
}

// deltaScan reads the source's CDC buffer for the refresh's change
// window. INSERT rows carry the new image at sign +1; DELETE rows carry
// the old image at sign -1; UPDATE rows are split into both (§4.4:
// "U" interpreted as "-old +new").
func deltaScan(s *ir.Scan, ctx *Context) (string, error) {
	w, ok := ctx.Windows[s.TableOID]
	if !ok {
		return "", &pgerrors.Fatal{Detail: fmt.Sprintf("no change window for source oid %d", s.TableOID)}
	}
	table := fmt.Sprintf("%s.changes_%d", ctx.ChangesSchema, s.TableOID)
	names := colNames(s.Columns)

	newCols := make([]string, len(names))
	oldCols := make([]string, len(names))
	for i, n := range names {
		newCols[i] = fmt.Sprintf("new_%s AS %s", n, n)
		oldCols[i] = fmt.Sprintf("old_%s AS %s", n, n)
	}

	insertSelect := fmt.Sprintf(
		"SELECT %s, 1 AS %s FROM %s WHERE change_id > %d AND change_id <= %d AND action IN ('I','U')",
		strings.Join(newCols, ", "), signCol, table, w.Since, w.Until,
	)
	deleteSelect := fmt.Sprintf(
		"SELECT %s, -1 AS %s FROM %s WHERE change_id > %d AND change_id <= %d AND action IN ('D','U')",
		strings.Join(oldCols, ", "), signCol, table, w.Since, w.Until,
	)
	return insertSelect + " UNION ALL " + deleteSelect, nil
}

func deltaFilter(f *ir.Filter, ctx *Context) (string, error) {
	child, err := Delta(f.Child, ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("SELECT * FROM (%s) AS __pgs_d WHERE %s", child, f.Predicate.SQL), nil
}

func deltaProject(p *ir.Project, ctx *Context) (string, error) {
	child, err := Delta(p.Child, ctx)
	if err != nil {
		return "", err
	}
	parts := make([]string, 0, len(p.Projections)+1)
	for _, pr := range p.Projections {
		parts = append(parts, fmt.Sprintf("%s AS %s", pr.Expr.SQL, pr.Alias))
	}
	parts = append(parts, signCol)
	if len(p.Projections) == 0 {
		return fmt.Sprintf("SELECT *, %s FROM (%s) AS __pgs_d", signCol, child), nil
	}
	return fmt.Sprintf("SELECT %s FROM (%s) AS __pgs_d", strings.Join(parts, ", "), child), nil
}

// negateSign flips every row's sign, used to turn an insert delta into the
// corresponding "remove this row" operand and vice versa.
func negateSign(sql string) string {
	return fmt.Sprintf("SELECT *, -%s AS %s FROM (SELECT * FROM (%s) AS __pgs_n) AS __pgs_n2", signCol, signCol, sql)
}

// beforeState derives an operand's contents as of the start of this
// refresh from its current (post-commit) contents and its delta, via
// multiset arithmetic: before = current ⊎ (-Δ). Grouping by every output
// column and summing signed multiplicity recovers exactly the rows whose
// net count was positive before the delta was applied.
func beforeState(node ir.Node, ctx *Context) (string, error) {
	current, err := Render(node)
	if err != nil {
		return "", err
	}
	delta, err := Delta(node, ctx)
	if err != nil {
		return "", err
	}
	cols := colNames(node.OutputColumns())
	colList := strings.Join(cols, ", ")
	union := fmt.Sprintf(
		"SELECT %s, 1 AS %s FROM (%s) AS __pgs_cur UNION ALL SELECT %s, -%s AS %s FROM (%s) AS __pgs_delta",
		colList, signCol, current, colList, signCol, signCol, delta,
	)
	return fmt.Sprintf(
		"SELECT %s FROM (%s) AS __pgs_u GROUP BY %s HAVING sum(%s) > 0",
		colList, union, colList, signCol,
	), nil
}

func deltaJoin(j *ir.Join, ctx *Context) (string, error) {
	deltaL, err := Delta(j.Left, ctx)
	if err != nil {
		return "", err
	}
	deltaR, err := Delta(j.Right, ctx)
	if err != nil {
		return "", err
	}
	rNow, err := Render(j.Right)
	if err != nil {
		return "", err
	}
	lBefore, err := beforeState(j.Left, ctx)
	if err != nil {
		return "", err
	}

	joinWord := joinSQL[j.Kind]
	// Δ = (Δ_L ⋈ R_new) ∪ (L_old ⋈ Δ_R); avoids double counting rows
	// present in Δ_L ⋈ Δ_R since that term never appears on either side.
	left := fmt.Sprintf(
		"SELECT __pgs_dl.*, __pgs_r.*, __pgs_dl.%s AS %s FROM (%s) AS __pgs_dl %s (%s) AS __pgs_r ON %s",
		signCol, signCol+"_l", deltaL, joinWord, rNow, j.Condition.SQL,
	)
	right := fmt.Sprintf(
		"SELECT __pgs_l.*, __pgs_dr.*, __pgs_dr.%s AS %s FROM (%s) AS __pgs_l %s (%s) AS __pgs_dr ON %s",
		signCol, signCol+"_r", lBefore, joinWord, deltaR, j.Condition.SQL,
	)
	return fmt.Sprintf(
		"SELECT * FROM ((%s) UNION ALL (%s)) AS __pgs_jd",
		left, right,
	), nil
}

func deltaLateralJoin(l *ir.LateralJoin, ctx *Context) (string, error) {
	// Row-scoped recomputation: for every left row touched by Δ_L, delete
	// its old expansion and re-emit the new one by rejoining the lateral
	// plan against the current state.
	deltaL, err := Delta(l.Left, ctx)
	if err != nil {
		return "", err
	}
	rightNow, err := Render(l.RightSRF)
	if err != nil {
		return "", err
	}
	joinWord := "CROSS JOIN LATERAL"
	if l.LeftOuter {
		joinWord = "LEFT JOIN LATERAL"
	}
	return fmt.Sprintf(
		"SELECT * FROM (%s) AS __pgs_dl %s (%s) AS __pgs_r",
		deltaL, joinWord, rightNow,
	), nil
}

// aggregateDeltaPlan is deltaAggregate's compiled pieces, split out so the
// apply step can retract storage rows by group key rather than by a
// value-dependent __pgs_row_id (see compileDifferentialAggregate): a group
// key can be "changed" by having every one of its underlying rows vanish,
// in which case the recompute leg below emits nothing for that key at all
// and the apply step must delete it anyway.
type aggregateDeltaPlan struct {
	ChangedKeysSQL string
	RecomputeSQL   string // bare group + aggregate columns, no signCol
	KeyCols        []string
}

// buildAggregateDeltaPlan computes the changed group keys (every key
// touched by at least one delta row) and, for the keys still represented
// in the child's current state, recomputes their aggregates from scratch
// rather than incrementally folding the delta — most of the supported
// aggregates (array_agg, percentile_cont, mode, ...) have no cheap
// incremental form. A key with no surviving rows contributes nothing to
// RecomputeSQL; its retraction is the caller's job.
func buildAggregateDeltaPlan(a *ir.Aggregate, ctx *Context) (*aggregateDeltaPlan, error) {
	childDelta, err := Delta(a.Child, ctx)
	if err != nil {
		return nil, err
	}
	childNow, err := Render(a.Child)
	if err != nil {
		return nil, err
	}

	keyCols := make([]string, len(a.GroupBy))
	keyExprs := make([]string, len(a.GroupBy))
	groupSelects := make([]string, len(a.GroupBy))
	for i, g := range a.GroupBy {
		keyCols[i] = groupColName(i)
		keyExprs[i] = g.SQL
		groupSelects[i] = fmt.Sprintf("%s AS %s", g.SQL, groupColName(i))
	}

	changedKeys := fmt.Sprintf(
		"SELECT DISTINCT %s FROM (%s) AS __pgs_cd",
		strings.Join(groupSelects, ", "), childDelta,
	)

	aggSelects := append([]string{}, groupSelects...)
	for _, ae := range a.Aggregates {
		aggSelects = append(aggSelects, fmt.Sprintf("%s AS %s", aggSQL(ae), ae.Alias))
	}

	recompute := fmt.Sprintf(
		"SELECT %s FROM (%s) AS __pgs_cn",
		strings.Join(aggSelects, ", "), childNow,
	)
	if len(keyExprs) > 0 {
		recompute += fmt.Sprintf(
			" WHERE (%s) IN (SELECT %s FROM (%s) AS __pgs_ck)",
			strings.Join(keyExprs, ", "), strings.Join(keyCols, ", "), changedKeys,
		)
		recompute += " GROUP BY " + strings.Join(keyExprs, ", ")
	}
	if a.Having != nil && a.Having.SQL != "" {
		recompute += " HAVING " + a.Having.SQL
	}

	return &aggregateDeltaPlan{ChangedKeysSQL: changedKeys, RecomputeSQL: recompute, KeyCols: keyCols}, nil
}

func deltaAggregate(a *ir.Aggregate, ctx *Context) (string, error) {
	plan, err := buildAggregateDeltaPlan(a, ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("SELECT *, 1 AS %s FROM (%s) AS __pgs_ar", signCol, plan.RecomputeSQL), nil
}

func deltaDistinct(d *ir.Distinct, ctx *Context) (string, error) {
	child, err := Delta(d.Child, ctx)
	if err != nil {
		return "", err
	}
	cols := colNames(d.Child.OutputColumns())
	colList := strings.Join(cols, ", ")
	return fmt.Sprintf(
		"SELECT %s, CASE WHEN sum(%s) > 0 THEN 1 ELSE -1 END AS %s FROM (%s) AS __pgs_d GROUP BY %s",
		colList, signCol, signCol, child, colList,
	), nil
}

// windowDeltaPlan is deltaWindow's compiled pieces. PartitionExprs is empty
// when the window has no PARTITION BY clause, meaning the whole result is
// one partition: any delta at all forces a full delete-and-reemit (see
// compileDifferentialWindow), since every row's window value can shift.
type windowDeltaPlan struct {
	ChangedPartitionsSQL string
	RecomputeSQL         string // child columns + window columns, no signCol
	PartitionExprs       []string
}

// buildWindowDeltaPlan finds every partition touched by the child's delta
// and re-evaluates the window functions over the partition's current
// members. §4.4 treats a window re-evaluation as delete-the-partition,
// re-emit — not a row-by-row patch — since row_number/rank/running sums
// depend on every other row in the partition, not just the changed one.
func buildWindowDeltaPlan(w *ir.Window, ctx *Context) (*windowDeltaPlan, error) {
	childDelta, err := Delta(w.Child, ctx)
	if err != nil {
		return nil, err
	}
	childNow, err := Render(w.Child)
	if err != nil {
		return nil, err
	}

	var partitionExprs []string
	if len(w.Windows) > 0 {
		for _, p := range w.Windows[0].PartitionBy {
			partitionExprs = append(partitionExprs, p.SQL)
		}
	}

	var changedPartitions string
	if len(partitionExprs) > 0 {
		changedPartitions = fmt.Sprintf("SELECT DISTINCT %s FROM (%s) AS __pgs_cd", strings.Join(partitionExprs, ", "), childDelta)
	}

	childCols := colNames(w.Child.OutputColumns())
	var winParts []string
	for _, we := range w.Windows {
		winParts = append(winParts, fmt.Sprintf("%s AS %s", windowSQL(we), we.Alias))
	}
	selects := append(append([]string{}, childCols...), winParts...)
	recompute := fmt.Sprintf("SELECT %s FROM (%s) AS __pgs_cn", strings.Join(selects, ", "), childNow)
	if len(partitionExprs) > 0 {
		recompute += fmt.Sprintf(" WHERE (%s) IN (SELECT %s FROM (%s) AS __pgs_cp)", strings.Join(partitionExprs, ", "), strings.Join(partitionExprs, ", "), changedPartitions)
	}

	return &windowDeltaPlan{ChangedPartitionsSQL: changedPartitions, RecomputeSQL: recompute, PartitionExprs: partitionExprs}, nil
}

func deltaWindow(w *ir.Window, ctx *Context) (string, error) {
	if len(w.Windows) == 0 {
		return Delta(w.Child, ctx)
	}
	plan, err := buildWindowDeltaPlan(w, ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("SELECT *, 1 AS %s FROM (%s) AS __pgs_wr", signCol, plan.RecomputeSQL), nil
}

func deltaUnionAll(u *ir.UnionAll, ctx *Context) (string, error) {
	parts := make([]string, len(u.Children))
	for i, c := range u.Children {
		s, err := Delta(c, ctx)
		if err != nil {
			return "", err
		}
		parts[i] = s
	}
	return strings.Join(parts, " UNION ALL "), nil
}
