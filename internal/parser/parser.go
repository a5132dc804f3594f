// Package parser adapts raw SELECT text into the internal/ir operator
// tree, or a structured pgerrors.Unsupported rejection, built on
// pganalyze/pg_query_go/v6 — the same AST library the teacher's
// pkg/pg_lineage uses for PK-provenance rewriting.
package parser

import (
	"fmt"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"

	"github.com/pgtrickle/pgtrickle/internal/ir"
	"github.com/pgtrickle/pgtrickle/internal/pgerrors"
)

// Mode selects which hard-rejection rules apply; DIFFERENTIAL is strictly
// more restrictive than FULL (see §4.3's nested-window-function rule).
type Mode int

const (
	Full Mode = iota
	Differential
)

// Options configures one Parse call.
type Options struct {
	Mode Mode
	// SelfOID is the ST's own relid, used to reject self-referential
	// defining queries. Zero for a query being parsed for the first time,
	// before the ST has been assigned storage.
	SelfOID uint32
}

var aggFuncsByName = map[string]ir.AggFunc{
	"count":              ir.AggCount,
	"sum":                ir.AggSum,
	"avg":                ir.AggAvg,
	"min":                ir.AggMin,
	"max":                ir.AggMax,
	"array_agg":          ir.AggArrayAgg,
	"string_agg":         ir.AggStringAgg,
	"bool_and":           ir.AggBoolAnd,
	"bool_or":            ir.AggBoolOr,
	"every":              ir.AggEvery,
	"bit_and":            ir.AggBitAnd,
	"bit_or":             ir.AggBitOr,
	"json_agg":           ir.AggJSONAgg,
	"jsonb_agg":          ir.AggJSONBAgg,
	"json_object_agg":    ir.AggJSONObjectAgg,
	"jsonb_object_agg":   ir.AggJSONBObjectAgg,
	"percentile_cont":    ir.AggPercentileCont,
	"percentile_disc":    ir.AggPercentileDisc,
	"mode":               ir.AggMode,
}

var windowFuncsByName = map[string]ir.WindowFunc{
	"row_number": ir.WinRowNumber,
	"rank":       ir.WinRank,
	"sum":        ir.WinSum,
}

// rejectedWindowFuncsDifferential names window functions §9's open
// questions restrict to FULL mode until explicit differential semantics
// exist (LAG/LEAD, DENSE_RANK, NTILE). Window functions in an aggregate
// query (e.g. RANK over an aggregate) are rejected by buildAggregate.
var rejectedWindowFuncsDifferential = map[string]bool{
	"lag":         true,
	"lead":        true,
	"dense_rank":  true,
	"ntile":       true,
}

// Parse translates sql (a single SELECT statement) into an operator tree.
func Parse(sql string, cat Catalog, opts Options) (ir.Node, error) {
	result, err := pg_query.Parse(sql)
	if err != nil {
		return nil, &pgerrors.Format{Input: sql, Detail: "SQL parse error: " + err.Error()}
	}
	if len(result.GetStmts()) != 1 {
		return nil, &pgerrors.Unsupported{Construct: "multi-statement defining query", Suggestion: "a defining query must be a single SELECT"}
	}
	sel := result.GetStmts()[0].GetStmt().GetSelectStmt()
	if sel == nil {
		return nil, &pgerrors.Unsupported{Construct: "non-SELECT defining query", Suggestion: "a defining query must be a SELECT"}
	}
	return parseSelect(sel, cat, opts)
}

func parseSelect(sel *pg_query.SelectStmt, cat Catalog, opts Options) (ir.Node, error) {
	// UNION ALL is the only set operation DVM supports (§3's UnionAll).
	if sel.GetOp() != pg_query.SetOperation_SETOP_NONE {
		if sel.GetOp() == pg_query.SetOperation_SETOP_UNION && sel.GetAll() {
			left, err := parseSelect(sel.GetLarg(), cat, opts)
			if err != nil {
				return nil, err
			}
			right, err := parseSelect(sel.GetRarg(), cat, opts)
			if err != nil {
				return nil, err
			}
			return &ir.UnionAll{Children: []ir.Node{left, right}}, nil
		}
		return nil, &pgerrors.Unsupported{Construct: "UNION/INTERSECT/EXCEPT (non-ALL)", Suggestion: "use UNION ALL; deduplication is a DISTINCT on top"}
	}

	if err := checkHardRejections(sel); err != nil {
		return nil, err
	}

	if opts.Mode == Differential {
		for _, t := range sel.GetTargetList() {
			if rt := t.GetResTarget(); rt != nil {
				if err := checkNestedWindowFuncs(rt.GetVal(), true); err != nil {
					return nil, err
				}
			}
		}
	}

	// WITH clause (CTEs) are not expanded into their own nodes; each
	// reference is resolved as a Subquery the first time it's scanned,
	// mirroring the teacher's CTE-as-derived-schema treatment.
	ctes := map[string]*pg_query.SelectStmt{}
	if wc := sel.GetWithClause(); wc != nil {
		for _, c := range wc.GetCtes() {
			if cte := c.GetCommonTableExpr(); cte != nil {
				if q := cte.GetCtequery(); q != nil && q.GetSelectStmt() != nil {
					ctes[cte.GetCtename()] = q.GetSelectStmt()
				}
			}
		}
	}

	child, sourceOIDs, err := buildFrom(sel.GetFromClause(), cat, opts, ctes)
	if err != nil {
		return nil, err
	}
	if err := checkSelfReference(sourceOIDs, opts.SelfOID); err != nil {
		return nil, err
	}

	if child == nil {
		// No FROM clause (e.g. SELECT 1); represent as a zero-input
		// projection over a trivial SRF-less scan is unnecessary — DVM has
		// nothing to differentiate, so this shape is out of scope.
		return nil, &pgerrors.Unsupported{Construct: "SELECT with no FROM clause", Suggestion: "stream tables must be defined over at least one source"}
	}

	if sel.GetWhereClause() != nil {
		predSQL, err := deparseExpr(sel.GetWhereClause())
		if err != nil {
			return nil, &pgerrors.Fatal{Detail: "deparse WHERE clause", Err: err}
		}
		child = &ir.Filter{Predicate: ir.Expr{SQL: predSQL}, Child: child}
	}

	isAggregate := len(sel.GetGroupClause()) > 0 || targetListHasAggregate(sel.GetTargetList())
	if isAggregate {
		agg, err := buildAggregate(sel, child, opts)
		if err != nil {
			return nil, err
		}
		child = agg
	} else {
		proj, err := buildProjectOrWindow(sel, child, opts)
		if err != nil {
			return nil, err
		}
		child = proj
	}

	if len(sel.GetDistinctClause()) > 0 {
		child = &ir.Distinct{Child: child}
	}

	// ORDER BY without LIMIT/OFFSET is silently discarded — matches
	// materialized-view semantics (§4.3).
	return child, nil
}

func targetListHasAggregate(targets []*pg_query.Node) bool {
	for _, t := range targets {
		rt := t.GetResTarget()
		if rt == nil {
			continue
		}
		if fc := rt.GetVal().GetFuncCall(); fc != nil && fc.GetOver() == nil {
			if _, ok := aggFuncsByName[lastFuncName(fc)]; ok {
				return true
			}
		}
	}
	return false
}

func lastFuncName(fc *pg_query.FuncCall) string {
	names := fc.GetFuncname()
	if len(names) == 0 {
		return ""
	}
	last := names[len(names)-1]
	if s := last.GetString_(); s != nil {
		return strings.ToLower(s.GetSval())
	}
	return ""
}

func buildAggregate(sel *pg_query.SelectStmt, child ir.Node, opts Options) (ir.Node, error) {
	var groupBy []ir.Expr
	for _, g := range sel.GetGroupClause() {
		sql, err := deparseExpr(g)
		if err != nil {
			return nil, &pgerrors.Fatal{Detail: "deparse GROUP BY expr", Err: err}
		}
		groupBy = append(groupBy, ir.Expr{SQL: sql})
	}

	var aggs []ir.AggExpr
	for _, t := range sel.GetTargetList() {
		rt := t.GetResTarget()
		if rt == nil {
			continue
		}
		fc := rt.GetVal().GetFuncCall()
		if fc != nil && fc.GetOver() != nil && opts.Mode == Differential {
			return nil, &pgerrors.Unsupported{Construct: fmt.Sprintf("window function %q over an aggregate in DIFFERENTIAL mode", lastFuncName(fc)), Suggestion: "use FULL refresh mode for this query"}
		}
		if fc == nil || fc.GetOver() != nil {
			continue
		}
		name := lastFuncName(fc)
		af, ok := aggFuncsByName[name]
		if !ok {
			continue
		}
		if name == "count" && len(fc.GetArgs()) > 0 && fc.GetAggDistinct() {
			af = ir.AggCountDistinct
		}
		if name == "sum" && fc.GetAggDistinct() {
			af = ir.AggSumDistinct
		}
		var argSQL string
		if len(fc.GetArgs()) > 0 {
			s, err := deparseExpr(fc.GetArgs()[0])
			if err != nil {
				return nil, &pgerrors.Fatal{Detail: "deparse aggregate argument", Err: err}
			}
			argSQL = s
		} else if fc.GetAggStar() {
			argSQL = "*"
		}
		alias := rt.GetName()
		if alias == "" {
			alias = name
		}
		aggs = append(aggs, ir.AggExpr{
			Func:  af,
			Arg:   ir.Expr{SQL: argSQL},
			Alias: alias,
			Col:   ir.Column{Name: alias, Nullable: true},
		})
	}

	var having *ir.Expr
	if sel.GetHavingClause() != nil {
		s, err := deparseExpr(sel.GetHavingClause())
		if err != nil {
			return nil, &pgerrors.Fatal{Detail: "deparse HAVING", Err: err}
		}
		having = &ir.Expr{SQL: s}
	}

	return &ir.Aggregate{GroupBy: groupBy, Aggregates: aggs, Having: having, Child: child}, nil
}

func buildProjectOrWindow(sel *pg_query.SelectStmt, child ir.Node, opts Options) (ir.Node, error) {
	var plain []ir.Projection
	var windows []ir.WindowExpr
	hasStar := false

	for _, t := range sel.GetTargetList() {
		rt := t.GetResTarget()
		if rt == nil {
			continue
		}
		if rt.GetVal().GetColumnRef() != nil && isStarRef(rt.GetVal().GetColumnRef()) {
			hasStar = true
			continue
		}
		if fc := rt.GetVal().GetFuncCall(); fc != nil && fc.GetOver() != nil {
			if opts.Mode == Differential && rejectedWindowFuncsDifferential[lastFuncName(fc)] {
				return nil, &pgerrors.Unsupported{Construct: fmt.Sprintf("window function %q in DIFFERENTIAL mode", lastFuncName(fc)), Suggestion: "use FULL refresh mode for this window function"}
			}
			wf, ok := windowFuncsByName[lastFuncName(fc)]
			if !ok && rejectedWindowFuncsDifferential[lastFuncName(fc)] {
				wf, ok = ir.WindowFunc(lastFuncName(fc)), true
			}
			if !ok {
				return nil, &pgerrors.Unsupported{Construct: fmt.Sprintf("window function %q", lastFuncName(fc)), Suggestion: "only row_number, rank, and sum are maintained differentially"}
			}
			alias := rt.GetName()
			if alias == "" {
				alias = lastFuncName(fc)
			}
			we := ir.WindowExpr{Func: wf, Alias: alias, Col: ir.Column{Name: alias, Nullable: true}}
			if len(fc.GetArgs()) > 0 {
				s, err := deparseExpr(fc.GetArgs()[0])
				if err != nil {
					return nil, &pgerrors.Fatal{Detail: "deparse window arg", Err: err}
				}
				we.Arg = &ir.Expr{SQL: s}
			}
			if wd := fc.GetOver(); wd != nil {
				for _, p := range wd.GetPartitionClause() {
					s, err := deparseExpr(p)
					if err != nil {
						return nil, &pgerrors.Fatal{Detail: "deparse PARTITION BY", Err: err}
					}
					we.PartitionBy = append(we.PartitionBy, ir.Expr{SQL: s})
				}
				for _, o := range wd.GetOrderClause() {
					s, err := deparseExpr(o)
					if err != nil {
						return nil, &pgerrors.Fatal{Detail: "deparse window ORDER BY", Err: err}
					}
					we.OrderBy = append(we.OrderBy, ir.Expr{SQL: s})
				}
			}
			windows = append(windows, we)
			continue
		}

		sql, err := deparseExpr(rt.GetVal())
		if err != nil {
			return nil, &pgerrors.Fatal{Detail: "deparse projection", Err: err}
		}
		alias := rt.GetName()
		if alias == "" {
			alias = sql
		}
		plain = append(plain, ir.Projection{Expr: ir.Expr{SQL: sql}, Alias: alias, Col: ir.Column{Name: alias, Nullable: true}})
	}

	if hasStar && len(plain) == 0 {
		// SELECT * (or alias.*): project every output column of the child
		// unchanged.
		for _, c := range child.OutputColumns() {
			plain = append(plain, ir.Projection{Expr: ir.Expr{SQL: c.Name}, Alias: c.Name, Col: c})
		}
	}

	if len(windows) > 0 {
		base := child
		if len(plain) > 0 {
			base = &ir.Project{Projections: plain, Child: child}
		}
		return &ir.Window{Windows: windows, Child: base}, nil
	}

	return &ir.Project{Projections: plain, Child: child}, nil
}

func isStarRef(cr *pg_query.ColumnRef) bool {
	for _, f := range cr.GetFields() {
		if f.GetAStar() != nil {
			return true
		}
	}
	return false
}
