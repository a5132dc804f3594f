package refresh

import "github.com/pgtrickle/pgtrickle/internal/pgerrors"

// outcome is the catalog-side effect a failed refresh attempt triggers,
// per §7's error taxonomy.
type outcome int

const (
	outcomeTransient outcome = iota
	outcomeSchema
	outcomeFatal
)

// classify maps an arbitrary refresh error onto §7's three persisted
// outcomes. Every other kind, including the Unsupported/Format errors a
// defining query's parse can return, falls through to fatal, matching
// pgerrors.Kind's own default.
func classify(err error) outcome {
	switch err.(type) {
	case *pgerrors.Schema:
		return outcomeSchema
	case *pgerrors.Transient:
		return outcomeTransient
	default:
		return outcomeFatal
	}
}
