package pipeline

import (
	"errors"
	"fmt"
	"strings"
)

// Stage sentinels. Match with errors.Is on the error returned by Run; the
// underlying cause (gmail.ErrAuth, *mutate.BatchError, ...) is wrapped too.
var (
	ErrEmptyQuery     = errors.New("query must not be empty")
	ErrAuthentication = errors.New("authentication failed")
	ErrEnumeration    = errors.New("enumeration failed")
	ErrConfirmation   = errors.New("confirmation failed")
	ErrCanceled       = errors.New("run canceled before mutation")
	ErrMutation       = errors.New("mutation failed")
	ErrAuditLog       = errors.New("audit log append failed")
)

// RunError is the single terminal error of a run, with the stage it reached
// and the counts so far.
type RunError struct {
	Stage     State
	Query     string
	Matched   int
	Processed int
	Err       error
}

func (e *RunError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s query %q", e.Stage, e.Query)
	if e.Stage >= StateMutating {
		fmt.Fprintf(&b, " (%d of %d processed)", e.Processed, e.Matched)
	}
	fmt.Fprintf(&b, ": %v", e.Err)
	return b.String()
}

func (e *RunError) Unwrap() error { return e.Err }
