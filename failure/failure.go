// Package failure defines the error records that connection handlers report
// and the aggregator collects. Every record carries a Kind so callers can tell
// transport failures apart from crashed tasks without parsing messages.
package failure

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// Kind classifies an Error.
type Kind int

const (
	KindUnknown  Kind = iota // Unclassified failure
	KindIO                   // Read, write or flush on a connection failed
	KindJoin                 // A spawned task ended abnormally (panicked)
	KindMultiple             // An ordered aggregate of other records
)

// String returns a human-readable name for the kind.
func (k Kind) String() string {
	switch k {
	case KindIO:
		return "IO"
	case KindJoin:
		return "Join"
	case KindMultiple:
		return "Multiple"
	default:
		return "Unknown"
	}
}

// Error is a tagged error record. For KindMultiple, err holds the combined
// records built with multierr; otherwise it holds the cause, which may be nil
// for a bare KindUnknown.
type Error struct {
	Kind Kind
	err  error
}

// IO wraps a transport failure with the operation that produced it
// ("read", "write", "flush"). It returns nil when err is nil so it can be used
// directly on the result of an I/O call.
//
// Parameters:
//   - op: The operation that failed
//   - err: The underlying error
//
// Returns:
//   - A KindIO *Error as an error, or nil
func IO(op string, err error) error {
	if err == nil {
		return nil
	}

	return &Error{Kind: KindIO, err: errors.WithMessage(err, op)}
}

// Join records a task that ended abnormally. v is the value recovered from
// the panic; the resulting cause carries a stack trace (print with %+v).
func Join(v any) *Error {
	if err, ok := v.(error); ok {
		return &Error{Kind: KindJoin, err: errors.WithStack(err)}
	}

	return &Error{Kind: KindJoin, err: errors.Errorf("task panicked: %v", v)}
}

// Unknown returns an unclassified record wrapping cause. cause may be nil.
func Unknown(cause error) *Error {
	return &Error{Kind: KindUnknown, err: cause}
}

// Multiple combines records into one aggregate, preserving their order. The
// aggregate is returned even for a single record so that callers always see
// the full collection.
//
// Parameters:
//   - records: The records to combine; nil entries are skipped
//
// Returns:
//   - A KindMultiple *Error
func Multiple(records ...*Error) *Error {
	var combined error
	for _, r := range records {
		if r == nil {
			continue
		}

		combined = multierr.Append(combined, r)
	}

	return &Error{Kind: KindMultiple, err: combined}
}

// From classifies an arbitrary error. A *Error anywhere in the chain is
// returned as-is; anything else becomes a KindUnknown record. From(nil) is nil.
func From(err error) *Error {
	if err == nil {
		return nil
	}

	var rec *Error
	if errors.As(err, &rec) {
		return rec
	}

	return Unknown(err)
}

// Is reports whether err is, or wraps, a record of the given kind.
func Is(err error, kind Kind) bool {
	var rec *Error
	if !errors.As(err, &rec) {
		return false
	}

	return rec.Kind == kind
}

// Records returns the individual records held by an aggregate, in arrival
// order. For any other kind it returns a slice holding e itself.
func (e *Error) Records() []*Error {
	if e.Kind != KindMultiple {
		return []*Error{e}
	}

	errs := multierr.Errors(e.err)
	out := make([]*Error, 0, len(errs))
	for _, err := range errs {
		out = append(out, From(err))
	}

	return out
}

// Len returns the number of records in an aggregate, or 1 for any other kind.
func (e *Error) Len() int {
	if e.Kind != KindMultiple {
		return 1
	}

	return len(multierr.Errors(e.err))
}

// Error implements error.
func (e *Error) Error() string {
	switch e.Kind {
	case KindIO:
		return fmt.Sprintf("IO error: %v", e.err)
	case KindJoin:
		return fmt.Sprintf("task join error: %v", e.err)
	case KindMultiple:
		records := e.Records()
		msgs := make([]string, len(records))
		for i, r := range records {
			msgs[i] = r.Error()
		}

		return fmt.Sprintf("multiple errors (%d): [%s]", len(records), strings.Join(msgs, "; "))
	default:
		if e.err != nil {
			return fmt.Sprintf("unknown error: %v", e.err)
		}

		return "unknown error"
	}
}

// Format implements fmt.Formatter so that %+v prints the cause with its
// stack trace when one was captured.
func (e *Error) Format(s fmt.State, verb rune) {
	if verb == 'v' && s.Flag('+') && e.err != nil && e.Kind != KindMultiple {
		fmt.Fprintf(s, "%s error: %+v", e.Kind, e.err)
		return
	}

	fmt.Fprint(s, e.Error())
}

// Unwrap exposes the cause, or every record of an aggregate, to errors.Is and
// errors.As.
func (e *Error) Unwrap() []error {
	if e.err == nil {
		return nil
	}

	if e.Kind == KindMultiple {
		return multierr.Errors(e.err)
	}

	return []error{e.err}
}
