// Package catalog persists and introspects pgtrickle's own bookkeeping
// tables (pgt_stream_tables, pgt_dependencies, pgt_refresh_history,
// pgt_change_tracking) and the source-schema metadata the parser and DVM
// compilers need, all over github.com/jackc/pgx/v5/pgxpool.
package catalog

import (
	"encoding/json"
	"time"
)

// RefreshMode mirrors the stream_tables.refresh_mode check constraint.
type RefreshMode string

const (
	ModeFull         RefreshMode = "FULL"
	ModeDifferential RefreshMode = "DIFFERENTIAL"
)

// Status mirrors the stream_tables.status check constraint.
type Status string

const (
	StatusInitializing Status = "INITIALIZING"
	StatusActive        Status = "ACTIVE"
	StatusSuspended      Status = "SUSPENDED"
	StatusError          Status = "ERROR"
)

// DiamondConsistency mirrors stream_tables.diamond_consistency.
type DiamondConsistency string

const (
	DiamondNone   DiamondConsistency = "none"
	DiamondAtomic DiamondConsistency = "atomic"
)

// StreamTable is one row of pgtrickle.pgt_stream_tables.
type StreamTable struct {
	PgsID              int64
	PgsRelID           uint32
	Name               string
	Schema             string
	DefiningQuery      string
	RefreshMode        RefreshMode
	Status             Status
	IsPopulated        bool
	DataTimestamp      *time.Time
	Frontier           json.RawMessage
	LastRefreshAt      *time.Time
	ConsecutiveErrors  int
	NeedsReinit        bool
	FunctionsUsed      []string
	DiamondConsistency DiamondConsistency
	ScheduleSeconds    *int
	CronExpr           *string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// SourceType mirrors dependencies.source_type.
type SourceType string

const (
	SourceTable       SourceType = "TABLE"
	SourceStreamTable SourceType = "STREAM_TABLE"
	SourceView        SourceType = "VIEW"
)

// Dependency is one row of pgtrickle.pgt_dependencies.
type Dependency struct {
	PgsID        int64
	SourceRelID  uint32
	SourceType   SourceType
	ColumnsUsed  []string
}

// RefreshAction mirrors refresh_history.action.
type RefreshAction string

const (
	ActionNoData      RefreshAction = "NO_DATA"
	ActionFull        RefreshAction = "FULL"
	ActionDifferential RefreshAction = "DIFFERENTIAL"
	ActionReinitialize RefreshAction = "REINITIALIZE"
	ActionSkip        RefreshAction = "SKIP"
)

// RefreshStatus mirrors refresh_history.status.
type RefreshStatus string

const (
	RefreshRunning   RefreshStatus = "RUNNING"
	RefreshCompleted RefreshStatus = "COMPLETED"
	RefreshFailed    RefreshStatus = "FAILED"
	RefreshSkipped   RefreshStatus = "SKIPPED"
)

// InitiatedBy mirrors refresh_history.initiated_by.
type InitiatedBy string

const (
	InitiatedScheduler InitiatedBy = "SCHEDULER"
	InitiatedManual    InitiatedBy = "MANUAL"
	InitiatedInitial   InitiatedBy = "INITIAL"
)

// RefreshHistory is one row of pgtrickle.pgt_refresh_history.
type RefreshHistory struct {
	RefreshID     int64
	PgsID         int64
	DataTimestamp *time.Time
	StartTime     time.Time
	EndTime       *time.Time
	Action        RefreshAction
	RowsInserted  int64
	RowsDeleted   int64
	ErrorMessage  *string
	Status        RefreshStatus
	InitiatedBy   InitiatedBy
}
