package errors

import (
	stderrors "errors"
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrMappingMissing is returned when a legacy label in use has no entry
	// in the upgrade settings resource.
	ErrMappingMissing = Register(1, "mapping missing")

	// ErrMappingMalformed is returned when a settings value is not an
	// integer.
	ErrMappingMalformed = Register(2, "mapping malformed")

	// ErrDataInconsistency is returned when existing data violates a
	// precondition of a transformation.
	ErrDataInconsistency = Register(3, "data inconsistency")

	// ErrIntegrityViolation is returned when the database rejects a write
	// with a constraint failure.
	ErrIntegrityViolation = Register(4, "integrity violation")

	// ErrChecksumMismatch is returned when an executed changeset was edited
	// after it ran.
	ErrChecksumMismatch = Register(5, "checksum mismatch")

	// ErrLocked is returned when another run holds the upgrade lock.
	ErrLocked = Register(6, "locked")

	// ErrInvalidChangelog is returned for malformed changelog definitions.
	ErrInvalidChangelog = Register(7, "invalid changelog")

	// ErrNotFound is returned when a named changelog or rule does not exist.
	ErrNotFound = Register(8, "not found")
)

var usedCodes = map[uint32]*Error{}

// Register returns an error instance that should be used as the base for
// creating error instances during runtime. Reusing a code panics, so call it
// only during program startup.
func Register(code uint32, description string) *Error {
	if e, ok := usedCodes[code]; ok {
		panic(fmt.Sprintf("error with code %d is already registered: %q", code, e.desc))
	}
	e := &Error{code: code, desc: description}
	usedCodes[code] = e
	return e
}

// Error is a registered error kind.
type Error struct {
	code uint32
	desc string
}

func (e *Error) Error() string { return e.desc }

func (e *Error) Code() uint32 { return e.code }

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.code == e.code
}

// Wrap annotates err with msg. It returns nil if err is nil.
func Wrap(err error, msg string) error {
	return errors.Wrap(err, msg)
}

// Wrapf is Wrap with a format string.
func Wrapf(err error, format string, args ...interface{}) error {
	return errors.Wrapf(err, format, args...)
}

// WithKind classifies err as kind while keeping err in the chain. The
// message is "<kind>: <err>".
func WithKind(kind *Error, err error) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: kind, cause: err}
}

type kindError struct {
	kind  *Error
	cause error
}

func (e *kindError) Error() string {
	return e.kind.desc + ": " + e.cause.Error()
}

func (e *kindError) Unwrap() []error {
	return []error{e.kind, e.cause}
}

// Is, As and New mirror the standard library so callers need a single
// import.
func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target interface{}) bool { return stderrors.As(err, target) }

func New(msg string) error { return errors.New(msg) }

// Kind returns the first registered kind found in err's chain, or nil.
func Kind(err error) *Error {
	for _, k := range usedCodes {
		if stderrors.Is(err, k) {
			return k
		}
	}
	return nil
}
