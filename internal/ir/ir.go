// Package ir is the tagged-variant operator tree every defining query is
// compiled into before DVM or FULL-refresh SQL generation runs. Nodes are
// immutable after the parser builds them; children are owned outright, so
// no shared ownership or mutation-after-construction is modeled.
package ir

import "strconv"

// Column describes one output column of a node: its name, declared SQL
// type, and nullability.
type Column struct {
	Name     string
	Type     string
	Nullable bool
}

// Node is implemented by every operator variant. OutputColumns and
// SourceOIDs are recursive, read-only traversals — never memoized on the
// node itself, since the tree is small and rebuilt on every parse.
type Node interface {
	OutputColumns() []Column
	SourceOIDs() map[uint32]struct{}
	isNode()
}

// Expr is an opaque, already-deparseable SQL expression fragment carried
// by Filter/Project/Aggregate/Window nodes. The parser adapter is
// responsible for producing valid fragments; DVM treats them as text.
type Expr struct {
	SQL string
}

// Scan is a leaf referencing one base table or stream table.
type Scan struct {
	TableOID   uint32
	TableName  string
	Schema     string
	Columns    []Column
	PKColumns  []string
	Alias      string
}

func (s *Scan) isNode() {}
func (s *Scan) OutputColumns() []Column { return s.Columns }
func (s *Scan) SourceOIDs() map[uint32]struct{} {
	return map[uint32]struct{}{s.TableOID: {}}
}

// Filter applies a predicate to its child's rows without changing shape.
type Filter struct {
	Predicate Expr
	Child     Node
}

func (f *Filter) isNode() {}
func (f *Filter) OutputColumns() []Column       { return f.Child.OutputColumns() }
func (f *Filter) SourceOIDs() map[uint32]struct{} { return f.Child.SourceOIDs() }

// Projection is one output column of a Project node.
type Projection struct {
	Expr  Expr
	Alias string
	Col   Column
}

// Project computes a new row shape from its child.
type Project struct {
	Projections []Projection
	Child       Node
}

func (p *Project) isNode() {}
func (p *Project) OutputColumns() []Column {
	cols := make([]Column, len(p.Projections))
	for i, pr := range p.Projections {
		cols[i] = pr.Col
	}
	return cols
}
func (p *Project) SourceOIDs() map[uint32]struct{} { return p.Child.SourceOIDs() }

// JoinKind discriminates the join node variants.
type JoinKind int

const (
	InnerJoin JoinKind = iota
	LeftJoin
	RightJoin
	FullJoin
)

func (k JoinKind) String() string {
	switch k {
	case InnerJoin:
		return "inner"
	case LeftJoin:
		return "left"
	case RightJoin:
		return "right"
	case FullJoin:
		return "full"
	default:
		return "unknown"
	}
}

// Join is a two-sided join node. ApproximateDiff marks full outer joins
// whose differential delta is a documented approximation at the
// matched/unmatched boundary (see the open-question resolution in
// DESIGN.md) rather than a hard parser rejection.
type Join struct {
	Kind           JoinKind
	Condition      Expr
	Left, Right    Node
	ApproximateDiff bool
}

func (j *Join) isNode() {}
func (j *Join) OutputColumns() []Column {
	return append(append([]Column{}, j.Left.OutputColumns()...), j.Right.OutputColumns()...)
}
func (j *Join) SourceOIDs() map[uint32]struct{} {
	return mergeOIDs(j.Left.SourceOIDs(), j.Right.SourceOIDs())
}

// LateralJoin pairs a left-side row stream with a set-returning function
// or correlated subquery evaluated per left row.
type LateralJoin struct {
	Left        Node
	RightSRF    Node
	LeftOuter   bool
}

func (l *LateralJoin) isNode() {}
func (l *LateralJoin) OutputColumns() []Column {
	return append(append([]Column{}, l.Left.OutputColumns()...), l.RightSRF.OutputColumns()...)
}
func (l *LateralJoin) SourceOIDs() map[uint32]struct{} {
	return mergeOIDs(l.Left.SourceOIDs(), l.RightSRF.SourceOIDs())
}

// AggFunc names one of the supported aggregate functions.
type AggFunc string

const (
	AggCount            AggFunc = "count"
	AggCountDistinct    AggFunc = "count_distinct"
	AggSum              AggFunc = "sum"
	AggSumDistinct      AggFunc = "sum_distinct"
	AggAvg              AggFunc = "avg"
	AggMin              AggFunc = "min"
	AggMax              AggFunc = "max"
	AggArrayAgg         AggFunc = "array_agg"
	AggStringAgg        AggFunc = "string_agg"
	AggBoolAnd          AggFunc = "bool_and"
	AggBoolOr           AggFunc = "bool_or"
	AggEvery            AggFunc = "every"
	AggBitAnd           AggFunc = "bit_and"
	AggBitOr            AggFunc = "bit_or"
	AggJSONAgg          AggFunc = "json_agg"
	AggJSONBAgg         AggFunc = "jsonb_agg"
	AggJSONObjectAgg    AggFunc = "json_object_agg"
	AggJSONBObjectAgg   AggFunc = "jsonb_object_agg"
	AggPercentileCont   AggFunc = "percentile_cont"
	AggPercentileDisc   AggFunc = "percentile_disc"
	AggMode             AggFunc = "mode"
)

// AggExpr is one aggregate projection of an Aggregate node.
type AggExpr struct {
	Func  AggFunc
	Arg   Expr
	Alias string
	Col   Column
}

// Aggregate groups its child's rows by group_by and computes aggregates,
// optionally filtered by a HAVING predicate.
type Aggregate struct {
	GroupBy    []Expr
	Aggregates []AggExpr
	Having     *Expr
	Child      Node
}

func (a *Aggregate) isNode() {}
func (a *Aggregate) OutputColumns() []Column {
	cols := make([]Column, 0, len(a.GroupBy)+len(a.Aggregates))
	for i := range a.GroupBy {
		cols = append(cols, Column{Name: groupColName(i), Type: "", Nullable: true})
	}
	for _, ae := range a.Aggregates {
		cols = append(cols, ae.Col)
	}
	return cols
}
func (a *Aggregate) SourceOIDs() map[uint32]struct{} { return a.Child.SourceOIDs() }

func groupColName(i int) string {
	return "group_key_" + strconv.Itoa(i)
}

// Distinct is equivalent to Aggregate(G = all columns, A = ∅); kept as its
// own node kind because DVM treats it as a multiplicity-collapse, not a
// general aggregate.
type Distinct struct {
	Child Node
}

func (d *Distinct) isNode() {}
func (d *Distinct) OutputColumns() []Column       { return d.Child.OutputColumns() }
func (d *Distinct) SourceOIDs() map[uint32]struct{} { return d.Child.SourceOIDs() }

// WindowFunc names a supported window function.
type WindowFunc string

const (
	WinRowNumber WindowFunc = "row_number"
	WinRank      WindowFunc = "rank"
	WinSum       WindowFunc = "sum"
)

// WindowExpr is one window projection.
type WindowExpr struct {
	Func        WindowFunc
	Arg         *Expr
	PartitionBy []Expr
	OrderBy     []Expr
	Alias       string
	Col         Column
}

// Window re-evaluates its projections per partition whenever a member row
// changes; DVM deletes and re-emits the whole partition.
type Window struct {
	Windows []WindowExpr
	Child   Node
}

func (w *Window) isNode() {}
func (w *Window) OutputColumns() []Column {
	return append(append([]Column{}, w.Child.OutputColumns()...), windowCols(w.Windows)...)
}
func (w *Window) SourceOIDs() map[uint32]struct{} { return w.Child.SourceOIDs() }

func windowCols(ws []WindowExpr) []Column {
	cols := make([]Column, len(ws))
	for i, w := range ws {
		cols[i] = w.Col
	}
	return cols
}

// UnionAll concatenates its children's rows without deduplication.
type UnionAll struct {
	Children []Node
}

func (u *UnionAll) isNode() {}
func (u *UnionAll) OutputColumns() []Column {
	if len(u.Children) == 0 {
		return nil
	}
	return u.Children[0].OutputColumns()
}
func (u *UnionAll) SourceOIDs() map[uint32]struct{} {
	out := map[uint32]struct{}{}
	for _, c := range u.Children {
		out = mergeOIDs(out, c.SourceOIDs())
	}
	return out
}

// Subquery wraps an inner operator tree under an alias, delegating all
// column/OID queries to the wrapped plan.
type Subquery struct {
	Inner Node
	Alias string
}

func (s *Subquery) isNode() {}
func (s *Subquery) OutputColumns() []Column       { return s.Inner.OutputColumns() }
func (s *Subquery) SourceOIDs() map[uint32]struct{} { return s.Inner.SourceOIDs() }

// SRF is a leaf producing rows from a set-returning function call, used on
// the right side of a LateralJoin or as a top-level FROM item.
type SRF struct {
	FuncName string
	Args     []Expr
	Columns  []Column
}

func (s *SRF) isNode() {}
func (s *SRF) OutputColumns() []Column         { return s.Columns }
func (s *SRF) SourceOIDs() map[uint32]struct{} { return map[uint32]struct{}{} }

func mergeOIDs(a, b map[uint32]struct{}) map[uint32]struct{} {
	out := make(map[uint32]struct{}, len(a)+len(b))
	for k := range a {
		out[k] = struct{}{}
	}
	for k := range b {
		out[k] = struct{}{}
	}
	return out
}
