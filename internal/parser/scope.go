package parser

import (
	"fmt"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"

	"github.com/pgtrickle/pgtrickle/internal/ir"
	"github.com/pgtrickle/pgtrickle/internal/pgerrors"
)

// buildFrom translates a FROM clause (zero or more comma-joined items,
// each possibly a JoinExpr tree) into an ir.Node plus the set of base
// table / stream table OIDs it reads from. Comma-joins are treated as
// implicit CROSS JOIN, represented as an InnerJoin with a literal "true"
// condition — DVM's inner-join delta degenerates correctly for that case.
func buildFrom(from []*pg_query.Node, cat Catalog, opts Options, ctes map[string]*pg_query.SelectStmt) (ir.Node, map[uint32]struct{}, error) {
	var node ir.Node
	oids := map[uint32]struct{}{}

	for _, item := range from {
		n, itemOIDs, err := buildFromItem(item, cat, opts, ctes)
		if err != nil {
			return nil, nil, err
		}
		for k := range itemOIDs {
			oids[k] = struct{}{}
		}
		if node == nil {
			node = n
			continue
		}
		node = &ir.Join{
			Kind:      ir.InnerJoin,
			Condition: ir.Expr{SQL: "true"},
			Left:      node,
			Right:     n,
		}
	}
	return node, oids, nil
}

func buildFromItem(item *pg_query.Node, cat Catalog, opts Options, ctes map[string]*pg_query.SelectStmt) (ir.Node, map[uint32]struct{}, error) {
	switch {
	case item.GetRangeVar() != nil:
		return buildRangeVar(item.GetRangeVar(), cat, opts, ctes)
	case item.GetJoinExpr() != nil:
		return buildJoinExpr(item.GetJoinExpr(), cat, opts, ctes)
	case item.GetRangeSubselect() != nil:
		return buildRangeSubselect(item.GetRangeSubselect(), cat, opts, ctes)
	case item.GetRangeFunction() != nil:
		return buildRangeFunction(item.GetRangeFunction())
	default:
		return nil, nil, &pgerrors.Unsupported{Construct: "FROM item", Suggestion: "only tables, joins, subqueries, and set-returning functions are supported in a defining query"}
	}
}

func buildRangeVar(rv *pg_query.RangeVar, cat Catalog, opts Options, ctes map[string]*pg_query.SelectStmt) (ir.Node, map[uint32]struct{}, error) {
	alias := rv.GetRelname()
	if a := rv.GetAlias(); a != nil && a.GetAliasname() != "" {
		alias = a.GetAliasname()
	}

	if cte, ok := ctes[rv.GetRelname()]; ok {
		inner, err := parseSelect(cte, cat, opts)
		if err != nil {
			return nil, nil, err
		}
		sub := &ir.Subquery{Inner: inner, Alias: alias}
		return sub, sub.SourceOIDs(), nil
	}

	qualified := rv.GetRelname()
	if rv.GetSchemaname() != "" {
		qualified = rv.GetSchemaname() + "." + rv.GetRelname()
	}

	cols, ok := cat.Columns(qualified)
	if !ok {
		return nil, nil, &pgerrors.Schema{Detail: fmt.Sprintf("relation %q not found in catalog", qualified)}
	}
	pks, _ := cat.PrimaryKeys(qualified)
	if opts.Mode == Differential && len(pks) == 0 {
		return nil, nil, &pgerrors.Unsupported{Construct: "keyless source", Suggestion: fmt.Sprintf("relation %q has no primary key; use FULL refresh mode", qualified)}
	}
	oid, ok := cat.OID(qualified)
	if !ok {
		return nil, nil, &pgerrors.Schema{Detail: fmt.Sprintf("relation %q has no known OID", qualified)}
	}

	outCols := make([]ir.Column, len(cols))
	for i, c := range cols {
		outCols[i] = ir.Column{Name: c, Nullable: true}
	}

	scan := &ir.Scan{
		TableOID:  oid,
		TableName: rv.GetRelname(),
		Schema:    rv.GetSchemaname(),
		Columns:   outCols,
		PKColumns: pks,
		Alias:     alias,
	}
	return scan, scan.SourceOIDs(), nil
}

var joinKindByType = map[pg_query.JoinType]ir.JoinKind{
	pg_query.JoinType_JOIN_INNER: ir.InnerJoin,
	pg_query.JoinType_JOIN_LEFT:  ir.LeftJoin,
	pg_query.JoinType_JOIN_RIGHT: ir.RightJoin,
	pg_query.JoinType_JOIN_FULL:  ir.FullJoin,
}

func buildJoinExpr(je *pg_query.JoinExpr, cat Catalog, opts Options, ctes map[string]*pg_query.SelectStmt) (ir.Node, map[uint32]struct{}, error) {
	kind, ok := joinKindByType[je.GetJointype()]
	if !ok {
		return nil, nil, &pgerrors.Unsupported{Construct: "join type", Suggestion: "only INNER, LEFT, RIGHT, and FULL joins are supported"}
	}

	left, leftOIDs, err := buildFromItem(je.GetLarg(), cat, opts, ctes)
	if err != nil {
		return nil, nil, err
	}
	right, rightOIDs, err := buildFromItem(je.GetRarg(), cat, opts, ctes)
	if err != nil {
		return nil, nil, err
	}

	var condSQL string
	if je.GetQuals() != nil {
		s, err := deparseExpr(je.GetQuals())
		if err != nil {
			return nil, nil, &pgerrors.Fatal{Detail: "deparse join condition", Err: err}
		}
		condSQL = s
	} else if len(je.GetUsingClause()) > 0 {
		var parts []string
		for _, u := range je.GetUsingClause() {
			if s := u.GetString_(); s != nil {
				parts = append(parts, s.GetSval())
			}
		}
		condSQL = strings.Join(parts, " AND ")
	} else {
		condSQL = "true"
	}

	oids := map[uint32]struct{}{}
	for k := range leftOIDs {
		oids[k] = struct{}{}
	}
	for k := range rightOIDs {
		oids[k] = struct{}{}
	}

	join := &ir.Join{
		Kind:            kind,
		Condition:       ir.Expr{SQL: condSQL},
		Left:            left,
		Right:           right,
		ApproximateDiff: kind == ir.FullJoin,
	}
	return join, oids, nil
}

func buildRangeSubselect(rs *pg_query.RangeSubselect, cat Catalog, opts Options, ctes map[string]*pg_query.SelectStmt) (ir.Node, map[uint32]struct{}, error) {
	inner, err := parseSelect(rs.GetSubquery().GetSelectStmt(), cat, opts)
	if err != nil {
		return nil, nil, err
	}
	alias := ""
	if a := rs.GetAlias(); a != nil {
		alias = a.GetAliasname()
	}
	sub := &ir.Subquery{Inner: inner, Alias: alias}
	return sub, sub.SourceOIDs(), nil
}

func buildRangeFunction(rf *pg_query.RangeFunction) (ir.Node, map[uint32]struct{}, error) {
	for _, f := range rf.GetFunctions() {
		list := f.GetList()
		if list == nil || len(list.GetItems()) == 0 {
			continue
		}
		fc := list.GetItems()[0].GetFuncCall()
		if fc == nil {
			continue
		}
		var args []ir.Expr
		for _, a := range fc.GetArgs() {
			s, err := deparseExpr(a)
			if err != nil {
				return nil, nil, &pgerrors.Fatal{Detail: "deparse SRF argument", Err: err}
			}
			args = append(args, ir.Expr{SQL: s})
		}
		srf := &ir.SRF{FuncName: lastFuncName(fc), Args: args}
		return srf, map[uint32]struct{}{}, nil
	}
	return nil, nil, &pgerrors.Unsupported{Construct: "set-returning function in FROM", Suggestion: "the function call could not be resolved"}
}
