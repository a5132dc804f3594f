// Package notify broadcasts refresh completion and error events on a
// single Postgres NOTIFY channel as JSON, replacing the teacher's
// gorilla/websocket client-fanout registry (internal/protocol,
// internal/reactive) with the host database's own pub/sub primitive —
// every consumer is a plain LISTEN, not a dependency on this process.
package notify

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Channel is the fixed NOTIFY channel name every event is broadcast on.
const Channel = "pgtrickle_events"

// Event is the JSON payload shape §6 specifies.
type Event struct {
	EventType    string `json:"event"`
	Schema       string `json:"schema"`
	Name         string `json:"name"`
	Action       string `json:"action"`
	RowsInserted *int64 `json:"rows_inserted,omitempty"`
	RowsDeleted  *int64 `json:"rows_deleted,omitempty"`
	Error        *string `json:"error,omitempty"`
}

// Broadcaster publishes events via pg_notify. A nil Broadcaster (or a
// nil *Broadcaster receiver) is a valid no-op, so notifications can be
// disabled without conditionals at every call site.
type Broadcaster struct {
	pool *pgxpool.Pool
}

func NewBroadcaster(pool *pgxpool.Pool) *Broadcaster {
	return &Broadcaster{pool: pool}
}

func (b *Broadcaster) Publish(ctx context.Context, ev Event) error {
	if b == nil || b.pool == nil {
		return nil
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = b.pool.Exec(ctx, `SELECT pg_notify($1, $2)`, Channel, string(payload))
	return err
}

// RefreshCompleted publishes a successful-refresh event.
func (b *Broadcaster) RefreshCompleted(ctx context.Context, schema, name, action string, rowsInserted, rowsDeleted int64) error {
	return b.Publish(ctx, Event{
		EventType:    "refresh_completed",
		Schema:       schema,
		Name:         name,
		Action:       action,
		RowsInserted: &rowsInserted,
		RowsDeleted:  &rowsDeleted,
	})
}

// RefreshFailed publishes a failed-refresh event.
func (b *Broadcaster) RefreshFailed(ctx context.Context, schema, name, action, errMsg string) error {
	return b.Publish(ctx, Event{
		EventType: "refresh_failed",
		Schema:    schema,
		Name:      name,
		Action:    action,
		Error:     &errMsg,
	})
}
