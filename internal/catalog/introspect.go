package catalog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pgtrickle/pgtrickle/internal/pgerrors"
)

// sourceTable is one introspected base table, stream table, or view a
// defining query may read from.
type sourceTable struct {
	Schema  string
	Name    string
	OID     uint32
	Columns []string
	PK      []string
}

// SourceCatalog is a cached snapshot of source-schema metadata, refreshed
// in one round trip via a single CTE query (adapted from pkg/richcatalog's
// introspection query) and checked for staleness by a content checksum
// rather than a per-call round trip.
type SourceCatalog struct {
	pool    *pgxpool.Pool
	schemas []string

	mu       sync.RWMutex
	byTable  map[string]*sourceTable
	checksum string
}

func NewSourceCatalog(pool *pgxpool.Pool, schemas []string) *SourceCatalog {
	return &SourceCatalog{pool: pool, schemas: schemas}
}

// Columns implements internal/parser.Catalog.
func (c *SourceCatalog) Columns(qualified string) ([]string, bool) {
	t, ok := c.lookup(qualified)
	if !ok {
		return nil, false
	}
	return append([]string(nil), t.Columns...), true
}

// PrimaryKeys implements internal/parser.Catalog.
func (c *SourceCatalog) PrimaryKeys(qualified string) ([]string, bool) {
	t, ok := c.lookup(qualified)
	if !ok {
		return nil, false
	}
	return append([]string(nil), t.PK...), true
}

// OID implements internal/parser.Catalog.
func (c *SourceCatalog) OID(qualified string) (uint32, bool) {
	t, ok := c.lookup(qualified)
	if !ok {
		return 0, false
	}
	return t.OID, true
}

func (c *SourceCatalog) lookup(qualified string) (*sourceTable, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.byTable[qual(qualified)]
	return t, ok
}

func qual(s string) string {
	if strings.Contains(s, ".") {
		return s
	}
	return "public." + s
}

// Refresh re-introspects the configured schemas and swaps in a new
// snapshot only if its checksum differs, so concurrent readers never
// observe a torn update.
func (c *SourceCatalog) Refresh(ctx context.Context) error {
	tables, checksum, err := c.introspect(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if checksum == c.checksum {
		return nil
	}
	c.byTable = tables
	c.checksum = checksum
	return nil
}

// StartAutoRefresh polls introspect on Interval until ctx is cancelled.
func (c *SourceCatalog) StartAutoRefresh(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			_ = c.Refresh(ctx)
		}
	}
}

func (c *SourceCatalog) introspect(ctx context.Context) (map[string]*sourceTable, string, error) {
	filter := "WHERE n.nspname NOT IN ('pg_catalog','information_schema','pg_toast')"
	if len(c.schemas) > 0 {
		quoted := make([]string, len(c.schemas))
		for i, s := range c.schemas {
			quoted[i] = "'" + strings.ReplaceAll(s, "'", "''") + "'"
		}
		filter = "WHERE n.nspname IN (" + strings.Join(quoted, ",") + ")"
	}

	query := fmt.Sprintf(`
WITH schemas AS (
  SELECT n.oid AS nspoid, n.nspname
  FROM pg_catalog.pg_namespace n
  %s
),
base_tables AS (
  SELECT c.oid AS relid, c.relname, s.nspname
  FROM pg_catalog.pg_class c
  JOIN schemas s ON s.nspoid = c.relnamespace
  WHERE c.relkind IN ('r','p','v','m')
),
cols AS (
  SELECT b.relid, b.nspname, b.relname, a.attnum, a.attname
  FROM base_tables b
  JOIN pg_catalog.pg_attribute a ON a.attrelid = b.relid AND a.attnum > 0 AND NOT a.attisdropped
),
pks AS (
  SELECT b.relid,
         (SELECT array_agg(a.attname ORDER BY k.ord)
            FROM unnest(i.indkey) WITH ORDINALITY AS k(attnum, ord)
            JOIN pg_catalog.pg_attribute a ON a.attrelid = b.relid AND a.attnum = k.attnum
         ) AS pk_cols
  FROM base_tables b
  JOIN pg_catalog.pg_index i ON i.indrelid = b.relid AND i.indisprimary
)
SELECT cols.relid, cols.nspname, cols.relname, cols.attnum, cols.attname, pks.pk_cols
FROM cols
LEFT JOIN pks ON pks.relid = cols.relid
ORDER BY cols.nspname, cols.relname, cols.attnum`, filter)

	rows, err := c.pool.Query(ctx, query)
	if err != nil {
		return nil, "", &pgerrors.Transient{Detail: "introspect source schema", Err: err}
	}
	defer rows.Close()

	tables := map[string]*sourceTable{}
	for rows.Next() {
		var relid uint32
		var nsp, rel, attname string
		var attnum int32
		var pkCols []string
		if err := rows.Scan(&relid, &nsp, &rel, &attnum, &attname, &pkCols); err != nil {
			return nil, "", &pgerrors.Transient{Detail: "scan introspected column", Err: err}
		}
		key := nsp + "." + rel
		t, ok := tables[key]
		if !ok {
			t = &sourceTable{Schema: nsp, Name: rel, OID: relid, PK: pkCols}
			tables[key] = t
		}
		t.Columns = append(t.Columns, attname)
	}
	if err := rows.Err(); err != nil {
		return nil, "", &pgerrors.Transient{Detail: "iterate introspected columns", Err: err}
	}

	keys := make([]string, 0, len(tables))
	for k := range tables {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	b, _ := json.Marshal(keys)
	for _, k := range keys {
		cb, _ := json.Marshal(tables[k])
		b = append(b, cb...)
	}
	sum := sha256.Sum256(b)
	return tables, hex.EncodeToString(sum[:]), nil
}
