package dvm

import (
	"fmt"
	"strings"

	"github.com/pgtrickle/pgtrickle/internal/cdc"
	"github.com/pgtrickle/pgtrickle/internal/ir"
	"github.com/pgtrickle/pgtrickle/internal/sqlident"
)

// RowIDExpr builds the SQL expression computing __pgs_row_id for a row
// with the given output columns, reusing the same seed/separator/NULL
// marker scheme as a source row's pk_hash (internal/cdc.pkHashSQLExpr) so
// that both sides of a refresh agree on row identity.
func RowIDExpr(cols []ir.Column) string {
	if len(cols) == 0 {
		return "0::bigint"
	}
	parts := make([]string, 0, len(cols))
	for _, c := range cols {
		name := sqlident.QuoteIdent(c.Name)
		parts = append(parts, fmt.Sprintf("coalesce(%s::text, '\\x00NULL\\x00')", name))
	}
	sep := fmt.Sprintf("chr(%d)", cdc.ColSep)
	return fmt.Sprintf("hashtextextended(%s, %d)", strings.Join(parts, " || "+sep+" || "), int64(cdc.HashSeed))
}
