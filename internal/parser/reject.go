package parser

import (
	pg_query "github.com/pganalyze/pg_query_go/v6"

	"github.com/pgtrickle/pgtrickle/internal/pgerrors"
)

// checkHardRejections inspects a SelectStmt for every mandatory hard
// rejection named in §4.3 that isn't already handled structurally
// elsewhere in Parse (self-reference and nested-window checks run
// separately, since they need tree-wide context).
func checkHardRejections(sel *pg_query.SelectStmt) error {
	if sel.GetLimitCount() != nil {
		return &pgerrors.Unsupported{Construct: "LIMIT/FETCH FIRST", Suggestion: "remove LIMIT; stream tables materialize the full result set"}
	}
	if sel.GetLimitOffset() != nil {
		return &pgerrors.Unsupported{Construct: "OFFSET", Suggestion: "remove OFFSET; stream tables materialize the full result set"}
	}
	if len(sel.GetLockingClause()) > 0 {
		return &pgerrors.Unsupported{Construct: "FOR UPDATE/FOR SHARE/FOR NO KEY UPDATE/FOR KEY SHARE", Suggestion: "row-locking clauses have no meaning against a materialized stream table"}
	}
	for _, n := range sel.GetGroupClause() {
		if n.GetGroupingSet() != nil {
			return &pgerrors.Unsupported{Construct: "GROUPING SETS/ROLLUP/CUBE", Suggestion: "express each grouping as a separate stream table, or UNION ALL the grouping variants"}
		}
	}
	if hasTableSample(sel.GetFromClause()) {
		return &pgerrors.Unsupported{Construct: "TABLESAMPLE", Suggestion: "TABLESAMPLE is nondeterministic across refreshes; materialize the sample as its own table first"}
	}
	return nil
}

func hasTableSample(from []*pg_query.Node) bool {
	for _, n := range from {
		if n.GetRangeTableSample() != nil {
			return true
		}
		if je := n.GetJoinExpr(); je != nil {
			if hasTableSample([]*pg_query.Node{je.GetLarg(), je.GetRarg()}) {
				return true
			}
		}
	}
	return false
}

// checkSelfReference rejects a defining query that reads from the ST's
// own relation — a stream table cannot depend on itself.
func checkSelfReference(sourceOIDs map[uint32]struct{}, selfOID uint32) error {
	if selfOID == 0 {
		return nil
	}
	if _, ok := sourceOIDs[selfOID]; ok {
		return &pgerrors.Unsupported{Construct: "self-referential defining query", Suggestion: "a stream table cannot read from its own storage"}
	}
	return nil
}

// checkNestedWindowFuncs walks an expression tree for window function
// calls that are not the direct value of a top-level target, rejecting
// them in DIFFERENTIAL mode only (e.g. CASE WHEN ROW_NUMBER() ... END).
func checkNestedWindowFuncs(expr *pg_query.Node, topLevel bool) error {
	if expr == nil {
		return nil
	}
	if fc := expr.GetFuncCall(); fc != nil {
		if fc.GetOver() != nil && !topLevel {
			return &pgerrors.Unsupported{
				Construct:  "window function nested inside another expression",
				Suggestion: "project the window function as its own top-level column, then reference it from an outer stream table",
			}
		}
		for _, a := range fc.GetArgs() {
			if err := checkNestedWindowFuncs(a, false); err != nil {
				return err
			}
		}
		return nil
	}
	if ae := expr.GetAExpr(); ae != nil {
		if err := checkNestedWindowFuncs(ae.GetLexpr(), false); err != nil {
			return err
		}
		return checkNestedWindowFuncs(ae.GetRexpr(), false)
	}
	if be := expr.GetBoolExpr(); be != nil {
		for _, a := range be.GetArgs() {
			if err := checkNestedWindowFuncs(a, false); err != nil {
				return err
			}
		}
		return nil
	}
	if ce := expr.GetCaseExpr(); ce != nil {
		for _, w := range ce.GetArgs() {
			if cw := w.GetCaseWhen(); cw != nil {
				if err := checkNestedWindowFuncs(cw.GetExpr(), false); err != nil {
					return err
				}
				if err := checkNestedWindowFuncs(cw.GetResult(), false); err != nil {
					return err
				}
			}
		}
		return checkNestedWindowFuncs(ce.GetDefresult(), false)
	}
	return nil
}
