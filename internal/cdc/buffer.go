package cdc

import (
	"fmt"
	"strings"

	"github.com/pgtrickle/pgtrickle/internal/sqlident"
)

// BufferTableName is the name (unqualified) of the per-source buffer table.
func BufferTableName(sourceOID uint32) string {
	return fmt.Sprintf("changes_%d", sourceOID)
}

// TriggerFuncName is the name of the row-level trigger function installed
// on the source table.
func TriggerFuncName(sourceOID uint32) string {
	return fmt.Sprintf("pgt_cdc_fn_%d", sourceOID)
}

// TriggerName is the name of the AFTER INSERT/UPDATE/DELETE trigger itself.
func TriggerName(sourceOID uint32) string {
	return fmt.Sprintf("pgt_cdc_trg_%d", sourceOID)
}

// CreateBufferTableSQL renders the DDL for a source's change buffer:
// one new_<col>/old_<col> pair per source column, plus the metadata
// columns from the data model (change_id, lsn, action, pk_hash).
func CreateBufferTableSQL(changesSchema string, sourceOID uint32, cols []SourceColumn) string {
	table := sqlident.QuoteQualified(changesSchema, BufferTableName(sourceOID))

	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", table)
	b.WriteString("  change_id BIGSERIAL PRIMARY KEY,\n")
	b.WriteString("  lsn pg_lsn NOT NULL,\n")
	b.WriteString("  action CHAR(1) NOT NULL CHECK (action IN ('I','U','D')),\n")
	b.WriteString("  pk_hash BIGINT,\n")
	for _, c := range cols {
		fmt.Fprintf(&b, "  %s %s,\n", sqlident.QuoteIdent("new_"+c.Name), c.Type)
	}
	for _, c := range cols {
		fmt.Fprintf(&b, "  %s %s,\n", sqlident.QuoteIdent("old_"+c.Name), c.Type)
	}
	b.WriteString("  committed_at timestamptz NOT NULL DEFAULT clock_timestamp()\n")
	b.WriteString(");\n")
	fmt.Fprintf(&b, "CREATE INDEX IF NOT EXISTS %s ON %s (lsn, change_id);\n",
		sqlident.QuoteIdent(fmt.Sprintf("idx_changes_%d_lsn", sourceOID)), table)
	return b.String()
}

// DropBufferTableSQL drops a source's buffer table; used when the last
// consumer of a source is removed.
func DropBufferTableSQL(changesSchema string, sourceOID uint32) string {
	return fmt.Sprintf("DROP TABLE IF EXISTS %s;\n",
		sqlident.QuoteQualified(changesSchema, BufferTableName(sourceOID)))
}
