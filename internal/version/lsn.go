// Package version implements the LSN total order, the per-source version
// frontier, and canonical staleness period selection.
package version

import (
	"github.com/jackc/pglogrepl"

	"github.com/pgtrickle/pgtrickle/internal/pgerrors"
)

// LSN wraps pglogrepl.LSN so comparison is a single uint64 compare instead
// of hand-split hex halves, while the external contract stays the "HI/LO"
// hex pair notation.
type LSN pglogrepl.LSN

// ParseLSN parses the canonical "HI/LO" hex notation. Ill-formed input
// fails with a Format error, never a panic.
func ParseLSN(s string) (LSN, error) {
	l, err := pglogrepl.ParseLSN(s)
	if err != nil {
		return 0, &pgerrors.Format{Input: s, Detail: "malformed LSN"}
	}
	return LSN(l), nil
}

func (l LSN) String() string { return pglogrepl.LSN(l).String() }

// Gt implements lsn_gt: strict total order on (hi, lo).
func (a LSN) Gt(b LSN) bool { return a > b }

// Gte implements lsn_gte.
func (a LSN) Gte(b LSN) bool { return a >= b }
