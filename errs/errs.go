// Package errs defines the semantic error kinds shared across the engine.
//
// Kinds are not Go types in their own right — callers branch on Kind(err),
// not on a type switch — matching the "semantic, not typed" wording of the
// error handling design.
package errs

import "github.com/pkg/errors"

// ErrKind classifies an error for callers that need to branch on it.
type ErrKind int

const (
	KindNone ErrKind = iota
	KindNotFound
	KindCorruption
	KindIOError
	KindInvalidArgument
	KindNotOpen
	KindAlreadyOpen
	KindBusy
	KindReadOnly
)

var (
	// ErrNotFound is returned by reads that miss; it is not an error
	// condition for Get, which reports it via a boolean instead.
	ErrNotFound = errors.New("lsmkv: not found")

	// ErrCorruption marks CRC mismatches, bad footer magic, or invalid
	// manifest/WAL frames.
	ErrCorruption = errors.New("lsmkv: corruption")

	// ErrInvalidArgument marks bad caller input: empty key, oversized
	// key/value, or an invalid option.
	ErrInvalidArgument = errors.New("lsmkv: invalid argument")

	// ErrNotOpen is returned by any operation on a DB that is not in the
	// Open state.
	ErrNotOpen = errors.New("lsmkv: db not open")

	// ErrAlreadyOpen is returned when the on-disk LOCK file is already held.
	ErrAlreadyOpen = errors.New("lsmkv: db already open")

	// ErrBusy signals write backpressure once L0 has reached l0_stop.
	ErrBusy = errors.New("lsmkv: busy, too many level-0 files")

	// ErrReadOnly is returned by mutating operations on a read-only DB.
	ErrReadOnly = errors.New("lsmkv: db is read-only")
)

// Kind unwraps err (following pkg/errors causer chains) to one of the
// semantic kinds above. Errors not recognized as one of ours report
// KindIOError, since at that point they are assumed to originate from the
// underlying filesystem.
func Kind(err error) ErrKind {
	if err == nil {
		return KindNone
	}
	cause := errors.Cause(err)
	switch cause {
	case ErrNotFound:
		return KindNotFound
	case ErrCorruption:
		return KindCorruption
	case ErrInvalidArgument:
		return KindInvalidArgument
	case ErrNotOpen:
		return KindNotOpen
	case ErrAlreadyOpen:
		return KindAlreadyOpen
	case ErrBusy:
		return KindBusy
	case ErrReadOnly:
		return KindReadOnly
	default:
		return KindIOError
	}
}
