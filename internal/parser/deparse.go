package parser

import (
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
)

// deparseExpr renders an arbitrary expression node back to SQL text by
// wrapping it in a throwaway "SELECT <expr>" statement and stripping the
// prefix — pg_query_go only exposes whole-statement deparsing, not a
// per-node deparser.
func deparseExpr(node *pg_query.Node) (string, error) {
	if node == nil {
		return "", nil
	}
	wrapped := &pg_query.ParseResult{
		Stmts: []*pg_query.RawStmt{
			{
				Stmt: &pg_query.Node{
					Node: &pg_query.Node_SelectStmt{
						SelectStmt: &pg_query.SelectStmt{
							TargetList: []*pg_query.Node{
								{
									Node: &pg_query.Node_ResTarget{
										ResTarget: &pg_query.ResTarget{Val: node},
									},
								},
							},
						},
					},
				},
			},
		},
	}
	out, err := pg_query.Deparse(wrapped)
	if err != nil {
		return "", err
	}
	return strings.TrimPrefix(out, "SELECT "), nil
}
