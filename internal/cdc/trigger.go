package cdc

import (
	"fmt"
	"strings"

	"github.com/pgtrickle/pgtrickle/internal/sqlident"
)

// pkHashSQLExpr builds the SQL expression that reproduces RowHash's
// seed/separator/NULL-marker encoding for a list of already-quoted column
// name references (e.g. NEW.id). Postgres has no built-in xxhash64, so the
// trigger-side hash uses hashtextextended seeded the same way; the
// semantics (separator 0x1E, NULL marker) match internal/cdc.RowHash
// even though the underlying hash function differs from RowHash's
// in-process cespare/xxhash/v2 path. DVM's RowIDExpr uses the same
// hashtextextended form. See DESIGN.md.
func pkHashSQLExpr(prefix string, pkCols []string) string {
	if len(pkCols) == 0 {
		return "NULL"
	}
	parts := make([]string, len(pkCols))
	for i, c := range pkCols {
		parts[i] = fmt.Sprintf("COALESCE(%s.%s::text, E'\\x00NULL\\x00')", prefix, sqlident.QuoteIdent(c))
	}
	joined := strings.Join(parts, fmt.Sprintf(" || chr(%d) || ", ColSep))
	return fmt.Sprintf("hashtextextended(%s, %d)", joined, int64(HashSeed))
}

// CreateTriggerFunctionSQL renders the PL/pgSQL function body that, on
// each row event, inserts exactly one row into the source's buffer table
// within the same transaction as the source mutation (satisfying the
// "one buffer row before commit" invariant).
func CreateTriggerFunctionSQL(changesSchema string, sourceOID uint32, cols []SourceColumn, pkCols []string) string {
	table := sqlident.QuoteQualified(changesSchema, BufferTableName(sourceOID))
	fn := sqlident.QuoteQualified(changesSchema, TriggerFuncName(sourceOID))

	colNames := make([]string, len(cols))
	for i, c := range cols {
		colNames[i] = c.Name
	}
	newCols := sqlident.AliasedColList(colNames, "new_")
	oldCols := sqlident.AliasedColList(colNames, "old_")

	insertCols := "lsn, action, pk_hash"
	for _, c := range colNames {
		insertCols += ", " + sqlident.QuoteIdent("new_"+c)
	}
	for _, c := range colNames {
		insertCols += ", " + sqlident.QuoteIdent("old_"+c)
	}

	newValues := make([]string, len(colNames))
	for i, c := range colNames {
		newValues[i] = "NEW." + sqlident.QuoteIdent(c)
	}
	oldValues := make([]string, len(colNames))
	for i, c := range colNames {
		oldValues[i] = "OLD." + sqlident.QuoteIdent(c)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "CREATE OR REPLACE FUNCTION %s() RETURNS trigger AS $$\n", fn)
	b.WriteString("BEGIN\n")
	fmt.Fprintf(&b, "  IF TG_OP = 'INSERT' THEN\n")
	fmt.Fprintf(&b, "    INSERT INTO %s (%s)\n", table, insertCols)
	fmt.Fprintf(&b, "    VALUES (pg_current_wal_lsn(), 'I', %s%s%s);\n",
		pkHashSQLExpr("NEW", pkCols),
		columnValuesTail(newValues),
		nullTail(len(colNames)))
	fmt.Fprintf(&b, "  ELSIF TG_OP = 'UPDATE' THEN\n")
	fmt.Fprintf(&b, "    INSERT INTO %s (%s)\n", table, insertCols)
	fmt.Fprintf(&b, "    VALUES (pg_current_wal_lsn(), 'U', %s%s%s);\n",
		pkHashSQLExpr("NEW", pkCols),
		columnValuesTail(newValues),
		columnValuesTail(oldValues))
	fmt.Fprintf(&b, "  ELSIF TG_OP = 'DELETE' THEN\n")
	fmt.Fprintf(&b, "    INSERT INTO %s (%s)\n", table, insertCols)
	fmt.Fprintf(&b, "    VALUES (pg_current_wal_lsn(), 'D', %s%s%s);\n",
		pkHashSQLExpr("OLD", pkCols),
		nullTail(len(colNames)),
		columnValuesTail(oldValues))
	b.WriteString("  END IF;\n")
	b.WriteString("  RETURN NULL;\n")
	b.WriteString("END;\n")
	b.WriteString("$$ LANGUAGE plpgsql;\n")

	_ = newCols
	_ = oldCols
	return b.String()
}

// CreateTriggerSQL renders the AFTER INSERT/UPDATE/DELETE FOR EACH ROW
// trigger that calls the function above. A single trigger on the parent
// of a partitioned table relies on the host's automatic partition
// routing so that child-table writes still fire the parent's trigger.
func CreateTriggerSQL(schema, tableName string, sourceOID uint32, changesSchema string) string {
	trg := sqlident.QuoteIdent(TriggerName(sourceOID))
	table := sqlident.QuoteQualified(schema, tableName)
	fn := sqlident.QuoteQualified(changesSchema, TriggerFuncName(sourceOID))
	return fmt.Sprintf(
		"DROP TRIGGER IF EXISTS %s ON %s;\nCREATE TRIGGER %s AFTER INSERT OR UPDATE OR DELETE ON %s FOR EACH ROW EXECUTE FUNCTION %s();\n",
		trg, table, trg, table, fn,
	)
}

// DropTriggerSQL removes the trigger and its function, used when the last
// consumer of a source is removed.
func DropTriggerSQL(schema, tableName string, sourceOID uint32, changesSchema string) string {
	trg := sqlident.QuoteIdent(TriggerName(sourceOID))
	table := sqlident.QuoteQualified(schema, tableName)
	fn := sqlident.QuoteQualified(changesSchema, TriggerFuncName(sourceOID))
	return fmt.Sprintf("DROP TRIGGER IF EXISTS %s ON %s;\nDROP FUNCTION IF EXISTS %s();\n", trg, table, fn)
}

func columnValuesTail(vals []string) string {
	if len(vals) == 0 {
		return ""
	}
	return ", " + strings.Join(vals, ", ")
}

func nullTail(n int) string {
	if n == 0 {
		return ""
	}
	parts := make([]string, n)
	for i := range parts {
		parts[i] = "NULL"
	}
	return ", " + strings.Join(parts, ", ")
}
