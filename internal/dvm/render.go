// Package dvm compiles the internal/ir operator tree into the SQL programs
// a refresh executes: a full re-population SELECT for FULL mode, and a
// delta program for DIFFERENTIAL mode, following §4.4's operator-by-
// operator contract.
package dvm

import (
	"fmt"
	"strings"

	"github.com/pgtrickle/pgtrickle/internal/ir"
	"github.com/pgtrickle/pgtrickle/internal/pgerrors"
	"github.com/pgtrickle/pgtrickle/internal/sqlident"
)

// Render renders node as a standalone SELECT statement evaluated against
// the live contents of its sources, used both for FULL refresh and as the
// "current state" operand in delta derivation.
func Render(node ir.Node) (string, error) {
	switch n := node.(type) {
	case *ir.Scan:
		return renderScan(n), nil
	case *ir.Filter:
		return renderFilter(n)
	case *ir.Project:
		return renderProject(n)
	case *ir.Join:
		return renderJoin(n)
	case *ir.LateralJoin:
		return renderLateralJoin(n)
	case *ir.Aggregate:
		return renderAggregate(n)
	case *ir.Distinct:
		return renderDistinct(n)
	case *ir.Window:
		return renderWindow(n)
	case *ir.UnionAll:
		return renderUnionAll(n)
	case *ir.Subquery:
		return renderSubquery(n)
	case *ir.SRF:
		return renderSRF(n), nil
	default:
		return "", &pgerrors.Fatal{Detail: fmt.Sprintf("dvm: unrenderable node type %T", node)}
	}
}

func renderScan(s *ir.Scan) string {
	table := s.TableName
	if s.Schema != "" {
		table = s.Schema + "." + s.TableName
	}
	cols := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		cols[i] = sqlident.QuoteIdent(c.Name)
	}
	return fmt.Sprintf("SELECT %s FROM %s AS %s", strings.Join(cols, ", "), table, sqlident.QuoteIdent(s.Alias))
}

func renderFilter(f *ir.Filter) (string, error) {
	child, err := Render(f.Child)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("SELECT * FROM (%s) AS __pgs_t WHERE %s", child, f.Predicate.SQL), nil
}

func renderProject(p *ir.Project) (string, error) {
	child, err := Render(p.Child)
	if err != nil {
		return "", err
	}
	parts := make([]string, len(p.Projections))
	for i, pr := range p.Projections {
		parts[i] = fmt.Sprintf("%s AS %s", pr.Expr.SQL, sqlident.QuoteIdent(pr.Alias))
	}
	if len(parts) == 0 {
		return fmt.Sprintf("SELECT * FROM (%s) AS __pgs_t", child), nil
	}
	return fmt.Sprintf("SELECT %s FROM (%s) AS __pgs_t", strings.Join(parts, ", "), child), nil
}

var joinSQL = map[ir.JoinKind]string{
	ir.InnerJoin: "JOIN",
	ir.LeftJoin:  "LEFT JOIN",
	ir.RightJoin: "RIGHT JOIN",
	ir.FullJoin:  "FULL JOIN",
}

func renderJoin(j *ir.Join) (string, error) {
	left, err := Render(j.Left)
	if err != nil {
		return "", err
	}
	right, err := Render(j.Right)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(
		"SELECT * FROM (%s) AS __pgs_l %s (%s) AS __pgs_r ON %s",
		left, joinSQL[j.Kind], right, j.Condition.SQL,
	), nil
}

func renderLateralJoin(l *ir.LateralJoin) (string, error) {
	left, err := Render(l.Left)
	if err != nil {
		return "", err
	}
	right, err := Render(l.RightSRF)
	if err != nil {
		return "", err
	}
	joinWord := "CROSS JOIN LATERAL"
	if l.LeftOuter {
		joinWord = "LEFT JOIN LATERAL"
	}
	on := ""
	if l.LeftOuter {
		on = " ON true"
	}
	return fmt.Sprintf("SELECT * FROM (%s) AS __pgs_l %s (%s) AS __pgs_r%s", left, joinWord, right, on), nil
}

func renderAggregate(a *ir.Aggregate) (string, error) {
	child, err := Render(a.Child)
	if err != nil {
		return "", err
	}
	var groupExprs []string
	var selectCols []string
	for i, g := range a.GroupBy {
		alias := fmt.Sprintf("group_key_%d", i)
		groupExprs = append(groupExprs, g.SQL)
		selectCols = append(selectCols, fmt.Sprintf("%s AS %s", g.SQL, sqlident.QuoteIdent(alias)))
	}
	for _, ae := range a.Aggregates {
		selectCols = append(selectCols, fmt.Sprintf("%s AS %s", aggSQL(ae), sqlident.QuoteIdent(ae.Alias)))
	}
	query := fmt.Sprintf("SELECT %s FROM (%s) AS __pgs_t", strings.Join(selectCols, ", "), child)
	if len(groupExprs) > 0 {
		query += " GROUP BY " + strings.Join(groupExprs, ", ")
	}
	if a.Having != nil && a.Having.SQL != "" {
		query += " HAVING " + a.Having.SQL
	}
	return query, nil
}

func aggSQL(ae ir.AggExpr) string {
	switch ae.Func {
	case ir.AggCount:
		if ae.Arg.SQL == "" || ae.Arg.SQL == "*" {
			return "count(*)"
		}
		return fmt.Sprintf("count(%s)", ae.Arg.SQL)
	case ir.AggCountDistinct:
		return fmt.Sprintf("count(DISTINCT %s)", ae.Arg.SQL)
	case ir.AggSumDistinct:
		return fmt.Sprintf("sum(DISTINCT %s)", ae.Arg.SQL)
	case ir.AggBoolAnd:
		return fmt.Sprintf("bool_and(%s)", ae.Arg.SQL)
	case ir.AggBoolOr:
		return fmt.Sprintf("bool_or(%s)", ae.Arg.SQL)
	default:
		return fmt.Sprintf("%s(%s)", string(ae.Func), ae.Arg.SQL)
	}
}

func renderDistinct(d *ir.Distinct) (string, error) {
	child, err := Render(d.Child)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("SELECT DISTINCT * FROM (%s) AS __pgs_t", child), nil
}

func renderWindow(w *ir.Window) (string, error) {
	child, err := Render(w.Child)
	if err != nil {
		return "", err
	}
	var parts []string
	for _, we := range w.Windows {
		parts = append(parts, fmt.Sprintf("%s AS %s", windowSQL(we), sqlident.QuoteIdent(we.Alias)))
	}
	return fmt.Sprintf("SELECT *, %s FROM (%s) AS __pgs_t", strings.Join(parts, ", "), child), nil
}

func windowSQL(we ir.WindowExpr) string {
	var over []string
	if len(we.PartitionBy) > 0 {
		var parts []string
		for _, p := range we.PartitionBy {
			parts = append(parts, p.SQL)
		}
		over = append(over, "PARTITION BY "+strings.Join(parts, ", "))
	}
	if len(we.OrderBy) > 0 {
		var parts []string
		for _, o := range we.OrderBy {
			parts = append(parts, o.SQL)
		}
		over = append(over, "ORDER BY "+strings.Join(parts, ", "))
	}
	arg := ""
	if we.Arg != nil {
		arg = we.Arg.SQL
	}
	return fmt.Sprintf("%s(%s) OVER (%s)", string(we.Func), arg, strings.Join(over, " "))
}

func renderUnionAll(u *ir.UnionAll) (string, error) {
	parts := make([]string, len(u.Children))
	for i, c := range u.Children {
		s, err := Render(c)
		if err != nil {
			return "", err
		}
		parts[i] = s
	}
	return strings.Join(parts, " UNION ALL "), nil
}

func renderSubquery(s *ir.Subquery) (string, error) {
	inner, err := Render(s.Inner)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("SELECT * FROM (%s) AS %s", inner, sqlident.QuoteIdent(s.Alias)), nil
}

func renderSRF(s *ir.SRF) string {
	args := make([]string, len(s.Args))
	for i, a := range s.Args {
		args[i] = a.SQL
	}
	return fmt.Sprintf("SELECT * FROM %s(%s)", s.FuncName, strings.Join(args, ", "))
}
