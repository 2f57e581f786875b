// Package fault classifies gridflux errors. pkg/protocol reports server
// codes in these kinds, so callers outside the module can match on them.
package fault

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Kind classifies a failure. The set is closed; every error surfaced by the
// transfer engine maps to exactly one Kind (or none, for plain local I/O).
type Kind int

const (
	// Unknown is returned by KindOf for errors outside the taxonomy.
	Unknown Kind = iota
	// ConnectionFailure covers socket and transport errors.
	ConnectionFailure
	// ProtocolViolation covers malformed or contradictory server responses.
	ProtocolViolation
	// ObjectNotFound covers missing remote objects and missing local sources.
	ObjectNotFound
	// OverwriteConflict means the target exists and may not be replaced.
	OverwriteConflict
	// DuplicateMetadata means the catalog already holds the item.
	DuplicateMetadata
	// FileIntegrityFailure means a checksum did not match.
	FileIntegrityFailure
	// ConfigurationError means static configuration could not be resolved.
	ConfigurationError
	// Cancelled means the transfer was cancelled by the caller.
	Cancelled
)

var kindNames = map[Kind]string{
	Unknown:              "unknown",
	ConnectionFailure:    "connection failure",
	ProtocolViolation:    "protocol violation",
	ObjectNotFound:       "object not found",
	OverwriteConflict:    "overwrite conflict",
	DuplicateMetadata:    "duplicate metadata",
	FileIntegrityFailure: "file integrity failure",
	ConfigurationError:   "configuration error",
	Cancelled:            "cancelled",
}

// String returns a human readable name.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error lets a Kind act as a sentinel, so errors.Is(err, fault.Cancelled) works.
func (k Kind) Error() string {
	return k.String()
}

// Error is a classified failure.
type Error struct {
	Kind Kind
	// Op names the operation that failed, e.g. "put" or "negotiate checksum".
	Op string
	// Path is the local or logical path involved, if any.
	Path string
	// Code is the server status code, or 0 when the failure is client-side.
	Code int
	Err  error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if e.Path != "" {
		b.WriteString(" (")
		b.WriteString(e.Path)
		b.WriteString(")")
	}
	if e.Code != 0 {
		fmt.Fprintf(&b, " [status %d]", e.Code)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is this error's Kind.
func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

// New creates a classified error with a message.
func New(kind Kind, op, message string) error {
	return &Error{Kind: kind, Op: op, Err: errors.New(message)}
}

// Newf creates a classified error with a formatted message.
func Newf(kind Kind, op, format string, args ...interface{}) error {
	return &Error{Kind: kind, Op: op, Err: errors.Errorf(format, args...)}
}

// Wrap classifies err. A nil err yields nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// WithPath returns a copy of err annotated with path when err is a *Error
// lacking one, otherwise err unchanged.
func WithPath(err error, path string) error {
	var fe *Error
	if !errors.As(err, &fe) || fe.Path != "" {
		return err
	}
	clone := *fe
	clone.Path = path
	return &clone
}

// KindOf returns the Kind of the outermost classified error in err's chain.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	var k Kind
	if errors.As(err, &k) {
		return k
	}
	return Unknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// CodeOf returns the server status code carried by err, or 0.
func CodeOf(err error) int {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return 0
}
