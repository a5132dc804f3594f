package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pgtrickle/pgtrickle/internal/pgerrors"
)

// rowScanner is satisfied by both pgx.Row and pgx.Rows, matching the
// teacher's scanSchedule(row rowScanner) helper shape.
type rowScanner interface {
	Scan(dest ...any) error
}

// StreamTableRepo reads and writes pgtrickle.pgt_stream_tables.
type StreamTableRepo struct {
	pool   *pgxpool.Pool
	schema string
}

func NewStreamTableRepo(pool *pgxpool.Pool, catalogSchema string) *StreamTableRepo {
	return &StreamTableRepo{pool: pool, schema: catalogSchema}
}

const streamTableCols = `pgs_id, pgs_relid, name, schema, defining_query, refresh_mode, status,
	is_populated, data_timestamp, frontier, last_refresh_at, consecutive_errors,
	needs_reinit, functions_used, diamond_consistency, schedule_seconds, cron_expr,
	created_at, updated_at`

func (r *StreamTableRepo) table() string { return r.schema + ".pgt_stream_tables" }

func (r *StreamTableRepo) Create(ctx context.Context, st *StreamTable) (*StreamTable, error) {
	query := fmt.Sprintf(`
		INSERT INTO %s (
			pgs_relid, name, schema, defining_query, refresh_mode, status,
			is_populated, diamond_consistency, schedule_seconds, cron_expr
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING %s`, r.table(), streamTableCols)

	row := r.pool.QueryRow(ctx, query,
		st.PgsRelID, st.Name, st.Schema, st.DefiningQuery, st.RefreshMode, st.Status,
		st.IsPopulated, st.DiamondConsistency, st.ScheduleSeconds, st.CronExpr,
	)
	created, err := scanStreamTable(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, &pgerrors.Schema{Detail: fmt.Sprintf("stream table %s.%s already exists", st.Schema, st.Name)}
		}
		return nil, err
	}
	return created, nil
}

func (r *StreamTableRepo) GetByID(ctx context.Context, pgsID int64) (*StreamTable, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE pgs_id = $1`, streamTableCols, r.table())
	return scanStreamTable(r.pool.QueryRow(ctx, query, pgsID))
}

func (r *StreamTableRepo) GetByRelID(ctx context.Context, relID uint32) (*StreamTable, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE pgs_relid = $1`, streamTableCols, r.table())
	return scanStreamTable(r.pool.QueryRow(ctx, query, relID))
}

func (r *StreamTableRepo) GetByName(ctx context.Context, schema, name string) (*StreamTable, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE schema = $1 AND name = $2`, streamTableCols, r.table())
	return scanStreamTable(r.pool.QueryRow(ctx, query, schema, name))
}

func (r *StreamTableRepo) ListActive(ctx context.Context) ([]*StreamTable, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE status = 'ACTIVE' ORDER BY pgs_id ASC`, streamTableCols, r.table())
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, &pgerrors.Transient{Detail: "list active stream tables", Err: err}
	}
	defer rows.Close()

	var out []*StreamTable
	for rows.Next() {
		st, err := scanStreamTable(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, &pgerrors.Transient{Detail: "iterate active stream tables", Err: err}
	}
	return out, nil
}

// ListAll returns every stream table regardless of status, for the
// monitoring surface (internal/admin) where a suspended or errored ST
// is exactly what an operator wants to see.
func (r *StreamTableRepo) ListAll(ctx context.Context) ([]*StreamTable, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s ORDER BY pgs_id ASC`, streamTableCols, r.table())
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, &pgerrors.Transient{Detail: "list stream tables", Err: err}
	}
	defer rows.Close()

	var out []*StreamTable
	for rows.Next() {
		st, err := scanStreamTable(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, &pgerrors.Transient{Detail: "iterate stream tables", Err: err}
	}
	return out, nil
}

func (r *StreamTableRepo) UpdateFrontierAndTimestamp(ctx context.Context, pgsID int64, frontierJSON []byte) error {
	_, err := r.pool.Exec(ctx, fmt.Sprintf(`
		UPDATE %s SET data_timestamp = now(), frontier = $2, last_refresh_at = now(),
			consecutive_errors = 0, is_populated = true, updated_at = now(),
			status = CASE WHEN status = 'INITIALIZING' THEN 'ACTIVE' ELSE status END
		WHERE pgs_id = $1`, r.table()), pgsID, frontierJSON)
	if err != nil {
		return &pgerrors.Transient{Detail: "update frontier", Err: err}
	}
	return nil
}

func (r *StreamTableRepo) IncrementConsecutiveErrors(ctx context.Context, pgsID int64, maxErrors int) error {
	_, err := r.pool.Exec(ctx, fmt.Sprintf(`
		UPDATE %s SET consecutive_errors = consecutive_errors + 1,
			status = CASE WHEN consecutive_errors + 1 >= $2 THEN 'SUSPENDED' ELSE status END,
			updated_at = now()
		WHERE pgs_id = $1`, r.table()), pgsID, maxErrors)
	if err != nil {
		return &pgerrors.Transient{Detail: "increment consecutive_errors", Err: err}
	}
	return nil
}

func (r *StreamTableRepo) MarkNeedsReinit(ctx context.Context, pgsID int64) error {
	_, err := r.pool.Exec(ctx, fmt.Sprintf(
		`UPDATE %s SET needs_reinit = true, status = 'ERROR', updated_at = now() WHERE pgs_id = $1`, r.table()), pgsID)
	if err != nil {
		return &pgerrors.Transient{Detail: "mark needs_reinit", Err: err}
	}
	return nil
}

// ClearNeedsReinit turns off needs_reinit after a REINITIALIZE refresh
// rebuilds storage from the (possibly still-ERROR) stream table's
// defining query successfully.
func (r *StreamTableRepo) ClearNeedsReinit(ctx context.Context, pgsID int64) error {
	_, err := r.pool.Exec(ctx, fmt.Sprintf(
		`UPDATE %s SET needs_reinit = false, updated_at = now() WHERE pgs_id = $1`, r.table()), pgsID)
	if err != nil {
		return &pgerrors.Transient{Detail: "clear needs_reinit", Err: err}
	}
	return nil
}

func (r *StreamTableRepo) MarkError(ctx context.Context, pgsID int64) error {
	_, err := r.pool.Exec(ctx, fmt.Sprintf(
		`UPDATE %s SET status = 'ERROR', updated_at = now() WHERE pgs_id = $1`, r.table()), pgsID)
	if err != nil {
		return &pgerrors.Transient{Detail: "mark error status", Err: err}
	}
	return nil
}

// SetActive resumes a SUSPENDED stream table, resetting consecutive_errors
// to 0 per invariant 9.
func (r *StreamTableRepo) SetActive(ctx context.Context, pgsID int64) error {
	tag, err := r.pool.Exec(ctx, fmt.Sprintf(
		`UPDATE %s SET status = 'ACTIVE', consecutive_errors = 0, updated_at = now() WHERE pgs_id = $1`, r.table()), pgsID)
	if err != nil {
		return &pgerrors.Transient{Detail: "set stream table active", Err: err}
	}
	if tag.RowsAffected() == 0 {
		return &pgerrors.Fatal{Detail: fmt.Sprintf("stream table %d not found", pgsID)}
	}
	return nil
}

func scanStreamTable(row rowScanner) (*StreamTable, error) {
	var st StreamTable
	err := row.Scan(
		&st.PgsID, &st.PgsRelID, &st.Name, &st.Schema, &st.DefiningQuery, &st.RefreshMode, &st.Status,
		&st.IsPopulated, &st.DataTimestamp, &st.Frontier, &st.LastRefreshAt, &st.ConsecutiveErrors,
		&st.NeedsReinit, &st.FunctionsUsed, &st.DiamondConsistency, &st.ScheduleSeconds, &st.CronExpr,
		&st.CreatedAt, &st.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &pgerrors.Fatal{Detail: "stream table not found"}
		}
		return nil, &pgerrors.Transient{Detail: "scan stream table", Err: err}
	}
	return &st, nil
}
