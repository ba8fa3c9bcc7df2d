// Package brancherr defines the error taxonomy shared by every
// branchfs component below the VFS binding: allocator, delta log,
// branch manager, and resolver all return (or wrap) one of these
// codes instead of an ad-hoc error string, so the vfs layer can map
// them onto syscall errno/fuse.Status without string sniffing.
package brancherr

import "fmt"

// Code is one of the error classes from the core error-handling
// design: Resource (NOSPC, NOMEM), Semantic (EXIST, NOENT, INVAL),
// or State (STALE, IO).
type Code int

const (
	// NOSPC: the delta-region allocator or a branch's sub-range is
	// exhausted.
	NOSPC Code = iota + 1
	// NOMEM: an in-memory index could not grow (host out of memory).
	NOMEM
	// EXIST: create/mkdir/rename-noreplace target already exists.
	EXIST
	// NOENT: lookup found nothing live at the given name or inode.
	NOENT
	// INVAL: unsupported rename flags, bad offsets, or other
	// malformed input.
	INVAL
	// STALE: operation attempted against a branch invalidated by a
	// sibling's commit.
	STALE
	// IO: corruption detected while rebuilding an index, e.g. a
	// record's total size would overrun the log.
	IO
	// FAULT: an invariant the caller promised held did not.
	FAULT
)

func (c Code) String() string {
	switch c {
	case NOSPC:
		return "NOSPC"
	case NOMEM:
		return "NOMEM"
	case EXIST:
		return "EXIST"
	case NOENT:
		return "NOENT"
	case INVAL:
		return "INVAL"
	case STALE:
		return "STALE"
	case IO:
		return "IO"
	case FAULT:
		return "FAULT"
	default:
		return "UNKNOWN"
	}
}

// Error is a Code plus the context that produced it. It satisfies the
// standard error interface and supports errors.Is/As via Unwrap of the
// underlying cause, where one exists.
type Error struct {
	Code    Code
	Op      string // e.g. "alloc.Reserve", "deltalog.Append"
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s: %v", e.Op, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New builds an *Error with no wrapped cause.
func New(code Code, op, format string, args ...interface{}) *Error {
	return &Error{Code: code, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error around an existing error, classified as code.
func Wrap(code Code, op string, cause error) *Error {
	return &Error{Code: code, Op: op, Message: cause.Error(), Cause: cause}
}

// CodeOf extracts the Code from err if it is (or wraps) a *Error,
// defaulting to FAULT for anything else — an error branchfs itself
// didn't classify is, by definition, a bug.
func CodeOf(err error) Code {
	var be *Error
	for err != nil {
		if e, ok := err.(*Error); ok {
			be = e
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	if be == nil {
		return FAULT
	}
	return be.Code
}

// Is reports whether err is classified as code.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}
