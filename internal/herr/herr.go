// Package herr defines the hub-wide error taxonomy: each component
// converts lower-level failures into one of these kinds at its
// boundary so callers can branch on Kind instead of string matching.
package herr

import "errors"

// Kind classifies a hub error for retry/propagation decisions.
type Kind int

const (
	// Transient errors are retried with bounded backoff by the caller:
	// lock contention, a full channel, a database reconnect.
	Transient Kind = iota
	// PermissionDenied is an access-control rejection; never retried.
	PermissionDenied
	// NotFound covers a missing group, object, or membership row.
	NotFound
	// Conflict covers duplicate creates and stale updates.
	Conflict
	// Timeout is a bounded-wait expiry.
	Timeout
	// Fatal covers decode failures, storage corruption, and invariant
	// violations; the connection is closed but the process continues.
	Fatal
)

func (k Kind) String() string {
	switch k {
	case Transient:
		return "transient"
	case PermissionDenied:
		return "permission_denied"
	case NotFound:
		return "not_found"
	case Conflict:
		return "conflict"
	case Timeout:
		return "timeout"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error wraps an underlying cause with a taxonomy Kind.
type Error struct {
	Kind Kind
	Op   string // component/operation that produced the error
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Op + ": " + e.Kind.String()
	}
	return e.Op + ": " + e.Kind.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err (which may be nil) as a taxonomy error from op.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var he *Error
	if errors.As(err, &he) {
		return he.Kind == kind
	}
	return false
}

// RegistryBusy is returned by the group cache when the registry write
// lock cannot be acquired within a bounded number of attempts.
var RegistryBusy = New(Transient, "group_cache.get_or_create", errors.New("registry busy, retry"))

// PermissionRevoked is surfaced by the storage plugin when a flush's
// access check fails.
var PermissionRevoked = New(PermissionDenied, "storage.flush", errors.New("write permission revoked"))

// DuplicateOrigin is the Conflict-kind error for subscribing an origin
// that is already subscribed. Group.Subscribe uses replace semantics and
// does not return it.
var DuplicateOrigin = New(Conflict, "group.subscribe", errors.New("origin already subscribed"))
