package version

import (
	"encoding/json"
	"strconv"
	"time"
)

// SourceState is one entry of a Frontier: the last LSN and snapshot
// timestamp an ST has absorbed from a given source.
type SourceState struct {
	LSN        LSN       `json:"lsn"`
	SnapshotTS time.Time `json:"snapshot_ts"`
}

// sourceStateWire mirrors SourceState with string-typed fields so
// Frontier.ToJSON/FromJSON round-trips are exact string equality, not
// reformatted through Go's float/time defaults.
type sourceStateWire struct {
	LSN        string `json:"lsn"`
	SnapshotTS string `json:"snapshot_ts"`
}

// Frontier is the per-source {lsn, snapshot_ts} map an ST has consumed,
// plus an optional wall-clock data_timestamp for the ST as a whole.
type Frontier struct {
	Sources        map[uint32]SourceState
	DataTimestamp  time.Time
	HasDataTimestamp bool
}

// NewFrontier returns an empty frontier (IsEmpty() == true).
func NewFrontier() *Frontier {
	return &Frontier{Sources: map[uint32]SourceState{}}
}

// IsEmpty reports whether the ST has never consumed from any source.
func (f *Frontier) IsEmpty() bool {
	return f == nil || len(f.Sources) == 0
}

// SetSource records the given LSN/snapshot for a source OID. Per the data
// model invariant, the stored LSN for a (ST, source) pair is never
// regressed; callers are expected to only call this with a monotone LSN,
// but SetSource itself performs no clamping — monotonicity is enforced by
// the refresh orchestrator, which reads-before-writes.
func (f *Frontier) SetSource(sourceOID uint32, lsn LSN, snapshotTS time.Time) {
	f.Sources[sourceOID] = SourceState{LSN: lsn, SnapshotTS: snapshotTS}
}

// GetLSN returns the last absorbed LSN for a source, or the zero LSN if
// the source has never been consumed.
func (f *Frontier) GetLSN(sourceOID uint32) (LSN, bool) {
	s, ok := f.Sources[sourceOID]
	if !ok {
		return 0, false
	}
	return s.LSN, true
}

// GetSnapshotTS returns the last recorded snapshot timestamp for a source.
func (f *Frontier) GetSnapshotTS(sourceOID uint32) (time.Time, bool) {
	s, ok := f.Sources[sourceOID]
	if !ok {
		return time.Time{}, false
	}
	return s.SnapshotTS, true
}

// Equal reports whether two frontiers record the same LSN for every
// tracked source (used by the orchestrator's NO_DATA short-circuit).
func (f *Frontier) Equal(other *Frontier) bool {
	if f.IsEmpty() && other.IsEmpty() {
		return true
	}
	if len(f.Sources) != len(other.Sources) {
		return false
	}
	for oid, s := range f.Sources {
		os, ok := other.Sources[oid]
		if !ok || os.LSN != s.LSN {
			return false
		}
	}
	return true
}

type frontierWire struct {
	Sources       map[string]sourceStateWire `json:"sources"`
	DataTimestamp *string                    `json:"data_timestamp,omitempty"`
}

// ToJSON serializes the frontier. LSNs and timestamps are encoded as the
// exact strings the parser would emit, so ToJSON∘FromJSON = id holds
// byte-for-byte, per invariant 5.
func (f *Frontier) ToJSON() ([]byte, error) {
	w := frontierWire{Sources: make(map[string]sourceStateWire, len(f.Sources))}
	for oid, s := range f.Sources {
		w.Sources[oidKey(oid)] = sourceStateWire{
			LSN:        s.LSN.String(),
			SnapshotTS: s.SnapshotTS.UTC().Format(time.RFC3339Nano),
		}
	}
	if f.HasDataTimestamp {
		ts := f.DataTimestamp.UTC().Format(time.RFC3339Nano)
		w.DataTimestamp = &ts
	}
	return json.Marshal(w)
}

// FrontierFromJSON parses the wire form produced by ToJSON.
func FrontierFromJSON(data []byte) (*Frontier, error) {
	var w frontierWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}
	f := NewFrontier()
	for k, s := range w.Sources {
		oid, err := parseOIDKey(k)
		if err != nil {
			return nil, err
		}
		lsn, err := ParseLSN(s.LSN)
		if err != nil {
			return nil, err
		}
		ts, err := time.Parse(time.RFC3339Nano, s.SnapshotTS)
		if err != nil {
			return nil, err
		}
		f.Sources[oid] = SourceState{LSN: lsn, SnapshotTS: ts}
	}
	if w.DataTimestamp != nil {
		ts, err := time.Parse(time.RFC3339Nano, *w.DataTimestamp)
		if err != nil {
			return nil, err
		}
		f.DataTimestamp = ts
		f.HasDataTimestamp = true
	}
	return f, nil
}

func oidKey(oid uint32) string {
	return strconv.FormatUint(uint64(oid), 10)
}

func parseOIDKey(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}
