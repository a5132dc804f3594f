package cdc

import (
	"strings"
	"testing"
)

func TestCreateBufferTableSQLIncludesMetadataColumns(t *testing.T) {
	sql := CreateBufferTableSQL("pgtrickle_changes", 16384, []SourceColumn{{Name: "id", Type: "int4"}, {Name: "amount", Type: "numeric"}})
	for _, want := range []string{"change_id BIGSERIAL", "lsn pg_lsn", "action CHAR(1)", "pk_hash BIGINT", `"new_id"`, `"old_amount"`} {
		if !strings.Contains(sql, want) {
			t.Fatalf("expected buffer DDL to contain %q, got:\n%s", want, sql)
		}
	}
}

func TestCreateTriggerFunctionSQLBranchesOnTGOP(t *testing.T) {
	cols := []SourceColumn{{Name: "id", Type: "int4"}, {Name: "val", Type: "text"}}
	sql := CreateTriggerFunctionSQL("pgtrickle_changes", 16384, cols, []string{"id"})
	for _, want := range []string{"TG_OP = 'INSERT'", "TG_OP = 'UPDATE'", "TG_OP = 'DELETE'", "'I'", "'U'", "'D'", "pg_current_wal_lsn()"} {
		if !strings.Contains(sql, want) {
			t.Fatalf("expected trigger function to contain %q, got:\n%s", want, sql)
		}
	}
}

func TestCreateTriggerSQLNamesMatchHelpers(t *testing.T) {
	sql := CreateTriggerSQL("public", "orders", 16384, "pgtrickle_changes")
	if !strings.Contains(sql, TriggerName(16384)) {
		t.Fatalf("expected trigger SQL to reference %s", TriggerName(16384))
	}
	if !strings.Contains(sql, TriggerFuncName(16384)) {
		t.Fatalf("expected trigger SQL to reference %s", TriggerFuncName(16384))
	}
}
