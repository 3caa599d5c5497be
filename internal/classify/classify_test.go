package classify

import (
	"context"
	"errors"
	"testing"

	"modernc.org/sqlite"
)

func TestCode(t *testing.T) {
	cases := []struct {
		code int
		want Kind
	}{
		{codeOK, Success},
		{codeBusy, RuntimeError},
		{codeLocked, RuntimeError},
		{codeIOErr, RuntimeError},
		{codeConstraint, UserError},
		{codeMismatch, UserError},
		{codeCorrupt, HardError},
		{codeMisuse, HardError},
		{9999, HardError},
	}
	for _, c := range cases {
		if got := Code(c.code); got != c.want {
			t.Errorf("Code(%d) = %s, want %s", c.code, got, c.want)
		}
	}
}

func TestErrNil(t *testing.T) {
	if got := Err(nil); got != Success {
		t.Errorf("Err(nil) = %s, want Success", got)
	}
}

func TestErrNonSQLite(t *testing.T) {
	// An error this package can't attribute to a store-engine code must be
	// treated as HardError: the caller has no basis for retrying.
	if got := Err(context.DeadlineExceeded); got != HardError {
		t.Errorf("Err(context.DeadlineExceeded) = %s, want HardError", got)
	}
}

func TestErrSQLiteWrapped(t *testing.T) {
	serr := sqlite.Error{}
	wrapped := errors.Join(errors.New("query failed"), &serr)
	if got := Err(wrapped); got != Code(serr.Code()) {
		t.Errorf("Err(wrapped sqlite.Error) = %s, want %s", got, Code(serr.Code()))
	}
}

func TestStepResetWins(t *testing.T) {
	if got := Step(nil, errors.New("reset failed")); got != HardError {
		t.Errorf("Step(nil, err) = %s, want HardError", got)
	}
	if got := Step(nil, nil); got != Success {
		t.Errorf("Step(nil, nil) = %s, want Success", got)
	}
}

func TestCheckListFirstNonSuccess(t *testing.T) {
	errs := []error{nil, nil, context.DeadlineExceeded, nil}
	if got := CheckList(errs, nil); got != HardError {
		t.Errorf("CheckList = %s, want HardError", got)
	}
	if got := CheckList([]error{nil, nil}, nil); got != Success {
		t.Errorf("CheckList(all nil) = %s, want Success", got)
	}
}

func TestCheckListResetWinsOverSuccess(t *testing.T) {
	errs := []error{nil, nil}
	if got := CheckList(errs, errors.New("reset failed")); got != HardError {
		t.Errorf("CheckList with failing reset = %s, want HardError", got)
	}
}
