// Package classify maps the embedded store engine's result codes onto the
// four-value outcome the rest of the system reasons about. It is a pure
// function package: no state, no I/O.
package classify

import (
	"errors"

	"modernc.org/sqlite"
)

// Kind is the outcome of one store-engine call.
type Kind int

const (
	Success Kind = iota
	RuntimeError
	UserError
	HardError
)

func (k Kind) String() string {
	switch k {
	case Success:
		return "success"
	case RuntimeError:
		return "runtime_error"
	case UserError:
		return "user_error"
	case HardError:
		return "hard_error"
	default:
		return "unknown"
	}
}

// Primary SQLite result codes. Only the ones this package switches on are
// named; any other primary code classifies as HardError.
const (
	codeOK         = 0
	codeError      = 1
	codeInternal   = 2
	codePerm       = 3
	codeAbort      = 4
	codeBusy       = 5
	codeLocked     = 6
	codeNoMem      = 7
	codeReadOnly   = 8
	codeInterrupt  = 9
	codeIOErr      = 10
	codeCorrupt    = 11
	codeFull       = 13
	codeCantOpen   = 14
	codeSchema     = 17
	codeTooBig     = 18
	codeConstraint = 19
	codeMismatch   = 20
	codeMisuse     = 21
	codeRange      = 25
)

// Code classifies a raw primary (or extended) SQLite result code.
func Code(code int) Kind {
	switch code & 0xff {
	case codeOK:
		return Success
	case codeBusy, codeLocked, codeIOErr, codeNoMem, codeFull, codeSchema:
		return RuntimeError
	case codeConstraint, codeMismatch, codeTooBig, codeRange, codeCantOpen:
		return UserError
	case codeCorrupt, codeInterrupt, codeMisuse, codePerm, codeReadOnly, codeInternal, codeAbort, codeError:
		return HardError
	default:
		return HardError
	}
}

// Err classifies an error returned from the database/sql layer. A nil error
// classifies as Success. Errors that do not unwrap to a *sqlite.Error
// (context cancellation, connection-pool errors, visitor errors surfaced by
// the data-access layer) are treated as HardError: the caller could not
// reason about retryability, so the safest classification is to stop.
func Err(err error) Kind {
	if err == nil {
		return Success
	}
	var serr *sqlite.Error
	if errors.As(err, &serr) {
		return Code(serr.Code())
	}
	return HardError
}

// Step classifies the result of one statement step together with the
// result of resetting that statement. A failing reset always wins: a
// statement that cannot be returned to idle leaves the connection in a
// state the caller can no longer reason about.
func Step(stepErr, resetErr error) Kind {
	if resetErr != nil {
		return HardError
	}
	return Err(stepErr)
}

// CheckList returns the first non-Success classification among errs, left
// to right, or Success if every one is Success. A non-nil resetErr yields
// HardError in either case, per the reset-always-wins rule, matching Step.
func CheckList(errs []error, resetErr error) Kind {
	for _, e := range errs {
		if k := Err(e); k != Success {
			if resetErr != nil {
				return HardError
			}
			return k
		}
	}
	return Step(nil, resetErr)
}
