package dvm

import (
	"fmt"
	"strings"

	"github.com/pgtrickle/pgtrickle/internal/ir"
	"github.com/pgtrickle/pgtrickle/internal/sqlident"
)

// CompileFull builds the FULL-mode refresh program: truncate storage, then
// re-populate it wholesale from the defining query, stamping
// __pgs_row_id/__pgs_count on every row.
func CompileFull(root ir.Node, storageSchema, storageTable string) (*Program, error) {
	body, err := Render(root)
	if err != nil {
		return nil, err
	}
	storage := fmt.Sprintf("%s.%s", sqlident.QuoteIdent(storageSchema), sqlident.QuoteIdent(storageTable))

	cols := root.OutputColumns()
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = sqlident.QuoteIdent(c.Name)
	}
	rowID := RowIDExpr(cols)

	insertCols := append(append([]string{}, names...), "__pgs_row_id", "__pgs_count")
	selectCols := fmt.Sprintf(
		"%s, %s AS __pgs_row_id, count(*) AS __pgs_count",
		strings.Join(names, ", "), rowID,
	)
	groupedBody := fmt.Sprintf(
		"SELECT %s FROM (%s) AS __pgs_full GROUP BY %s",
		selectCols, body, strings.Join(append([]string{}, names...), ", "),
	)

	truncate := fmt.Sprintf("TRUNCATE %s", storage)
	insert := fmt.Sprintf("INSERT INTO %s (%s) %s", storage, strings.Join(insertCols, ", "), groupedBody)

	return &Program{Statements: []string{truncate, insert}}, nil
}
