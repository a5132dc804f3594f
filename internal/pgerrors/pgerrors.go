// Package pgerrors defines the structured error kinds the refresh engine
// classifies every failure into. Callers use errors.As against the concrete
// kind, never string matching.
package pgerrors

import "fmt"

// Unsupported is raised at parse time when the defining query uses a
// construct the engine refuses to maintain. Never retried.
type Unsupported struct {
	Construct  string
	Suggestion string
}

func (e *Unsupported) Error() string {
	if e.Suggestion == "" {
		return fmt.Sprintf("unsupported construct: %s", e.Construct)
	}
	return fmt.Sprintf("unsupported construct: %s (%s)", e.Construct, e.Suggestion)
}

// Schema indicates the defining query is no longer valid against its
// sources (a column was dropped/retyped, or a referenced function changed).
type Schema struct {
	Detail string
}

func (e *Schema) Error() string { return fmt.Sprintf("schema: %s", e.Detail) }

// Transient covers connection loss, lock timeouts, and cancelled statements.
// The caller increments consecutive_errors and may auto-suspend.
type Transient struct {
	Detail string
	Err    error
}

func (e *Transient) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transient: %s: %v", e.Detail, e.Err)
	}
	return fmt.Sprintf("transient: %s", e.Detail)
}

func (e *Transient) Unwrap() error { return e.Err }

// Fatal covers constraint violations, corrupted catalog rows, and internal
// invariant breaches. Never retried.
type Fatal struct {
	Detail string
	Err    error
}

func (e *Fatal) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fatal: %s: %v", e.Detail, e.Err)
	}
	return fmt.Sprintf("fatal: %s", e.Detail)
}

func (e *Fatal) Unwrap() error { return e.Err }

// Cycle is raised at DAG build time; it names one offending cycle path.
type Cycle struct {
	Path []string
}

func (e *Cycle) Error() string {
	s := "cycle detected:"
	for i, n := range e.Path {
		if i > 0 {
			s += " ->"
		}
		s += " " + n
	}
	return s
}

// Format indicates a malformed LSN, frontier JSON, or schedule string.
type Format struct {
	Input  string
	Detail string
}

func (e *Format) Error() string {
	return fmt.Sprintf("format: %s: %q", e.Detail, e.Input)
}

// Kind classifies an arbitrary error into the taxonomy's name, for logging
// and for populating refresh_history.status/error_message.
func Kind(err error) string {
	switch err.(type) {
	case *Unsupported:
		return "unsupported"
	case *Schema:
		return "schema"
	case *Transient:
		return "transient"
	case *Fatal:
		return "fatal"
	case *Cycle:
		return "cycle"
	case *Format:
		return "format"
	default:
		return "fatal"
	}
}
