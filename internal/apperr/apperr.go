// Package apperr provides the structured error taxonomy used across codelens.
//
// Every error that crosses a component boundary (chunker, embedder, store,
// ANN index, coordinator, watcher, retrieval engine) is wrapped into a
// *Error carrying one of the fixed Kinds below, so callers can branch on
// "what went wrong" without string matching.
package apperr

import "fmt"

// Kind is the taxonomy of error kinds a caller can branch on.
type Kind string

const (
	// InvalidArgument covers malformed input: bad path, empty query,
	// out-of-range top_k, embedding dimension mismatch on insert.
	InvalidArgument Kind = "INVALID_ARGUMENT"
	// NotFound covers a missing chunk-id on retrieval. Tombstoned ANN
	// slots are demoted to a silent skip by the caller, never surfaced
	// as NotFound.
	NotFound Kind = "NOT_FOUND"
	// IOFailure covers filesystem read/write failures and store open
	// failures.
	IOFailure Kind = "IO_FAILURE"
	// CorruptState covers a chunk row without a matching embedding row,
	// embedding dimension drift, or a missing model cache with remote
	// fetch disabled.
	CorruptState Kind = "CORRUPT_STATE"
	// CapacityExceeded is returned when the ANN index is at
	// max_elements; it disables further inserts until a rebuild. Also
	// used when a subsystem has stopped accepting work entirely, e.g.
	// submitting to the embedding pool after its Close — a queue whose
	// remaining capacity is permanently zero.
	CapacityExceeded Kind = "CAPACITY_EXCEEDED"
	// ModelInitFailure means the embedding model failed to load after
	// exhausting retries. Fatal for the coordinator at startup.
	ModelInitFailure Kind = "MODEL_INIT_FAILURE"
	// WatcherFailure means the event source terminated; non-fatal,
	// recorded in status.
	WatcherFailure Kind = "WATCHER_FAILURE"
)

// Error is the structured error type for codelens.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]string
	Cause   error
}

// New creates an *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an *Error of the given kind from an underlying cause.
// Returns nil if err is nil.
func Wrap(kind Kind, err error, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Cause: err}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap supports errors.Is/As over the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches by Kind, so errors.Is(err, apperr.New(apperr.NotFound, "")) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// WithDetail attaches a key-value detail and returns the error for chaining.
func (e *Error) WithDetail(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// KindOf extracts the Kind from err, or "" if err is not an *Error.
func KindOf(err error) Kind {
	var ae *Error
	if as(err, &ae) {
		return ae.Kind
	}
	return ""
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// as is a tiny local errors.As to avoid importing the stdlib errors
// package under a name that collides with this package's purpose.
func as(err error, target **Error) bool {
	for err != nil {
		if ae, ok := err.(*Error); ok {
			*target = ae
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
