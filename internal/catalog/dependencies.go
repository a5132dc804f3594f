package catalog

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pgtrickle/pgtrickle/internal/pgerrors"
)

// DependencyRepo reads and writes pgtrickle.pgt_dependencies, the edge set
// internal/dag builds its graph from.
type DependencyRepo struct {
	pool   *pgxpool.Pool
	schema string
}

func NewDependencyRepo(pool *pgxpool.Pool, catalogSchema string) *DependencyRepo {
	return &DependencyRepo{pool: pool, schema: catalogSchema}
}

func (r *DependencyRepo) table() string { return r.schema + ".pgt_dependencies" }

// Replace atomically swaps pgsID's dependency rows for deps, used when a
// stream table's defining query is reinitialized.
func (r *DependencyRepo) Replace(ctx context.Context, pgsID int64, deps []Dependency) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return &pgerrors.Transient{Detail: "begin dependency replace tx", Err: err}
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE pgs_id = $1`, r.table()), pgsID); err != nil {
		return &pgerrors.Transient{Detail: "delete old dependencies", Err: err}
	}
	for _, d := range deps {
		if _, err := tx.Exec(ctx, fmt.Sprintf(
			`INSERT INTO %s (pgs_id, source_relid, source_type, columns_used) VALUES ($1, $2, $3, $4)`,
			r.table()), pgsID, d.SourceRelID, d.SourceType, d.ColumnsUsed); err != nil {
			return &pgerrors.Transient{Detail: "insert dependency", Err: err}
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return &pgerrors.Transient{Detail: "commit dependency replace tx", Err: err}
	}
	return nil
}

// ForStreamTable returns pgsID's own dependency rows, the source list a
// refresh needs to compute a change window over.
func (r *DependencyRepo) ForStreamTable(ctx context.Context, pgsID int64) ([]Dependency, error) {
	rows, err := r.pool.Query(ctx, fmt.Sprintf(
		`SELECT pgs_id, source_relid, source_type, columns_used FROM %s WHERE pgs_id = $1`, r.table()), pgsID)
	if err != nil {
		return nil, &pgerrors.Transient{Detail: "list dependencies for stream table", Err: err}
	}
	defer rows.Close()

	var out []Dependency
	for rows.Next() {
		var d Dependency
		if err := rows.Scan(&d.PgsID, &d.SourceRelID, &d.SourceType, &d.ColumnsUsed); err != nil {
			return nil, &pgerrors.Transient{Detail: "scan dependency row", Err: err}
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, &pgerrors.Transient{Detail: "iterate dependency rows", Err: err}
	}
	return out, nil
}

// AllEdges returns every (pgs_id, source_relid, source_type) row across
// every stream table, the raw material internal/dag.Graph is built from.
func (r *DependencyRepo) AllEdges(ctx context.Context) ([]Dependency, error) {
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`SELECT pgs_id, source_relid, source_type, columns_used FROM %s`, r.table()))
	if err != nil {
		return nil, &pgerrors.Transient{Detail: "list dependency edges", Err: err}
	}
	defer rows.Close()

	var out []Dependency
	for rows.Next() {
		var d Dependency
		if err := rows.Scan(&d.PgsID, &d.SourceRelID, &d.SourceType, &d.ColumnsUsed); err != nil {
			return nil, &pgerrors.Transient{Detail: "scan dependency edge", Err: err}
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, &pgerrors.Transient{Detail: "iterate dependency edges", Err: err}
	}
	return out, nil
}
