// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package failure

import (
	"strconv"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/canonical/sqlbind/driver"
)

// Kind classifies an error.
type Kind int

const (
	// ContractViolation is a caller error detected before, or instead of,
	// contacting the backend.
	ContractViolation Kind = iota + 1
	// BackendFailure is an error reported by the backend.
	BackendFailure
	// ResourceFailure is a failure to acquire or release a server side
	// resource. It is a kind of backend failure.
	ResourceFailure
)

func (k Kind) String() string {
	switch k {
	case ContractViolation:
		return "contract violation"
	case BackendFailure:
		return "backend failure"
	case ResourceFailure:
		return "resource failure"
	}
	return "unknown"
}

// Error is the error type returned by every operation.
type Error struct {
	Kind Kind
	// Op is the operation that failed, e.g. "prepare" or "commit".
	Op string
	// Query is the statement text sent to the backend, if the failure
	// happened while running one.
	Query string
	// Code is the backend native error code, if any.
	Code string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Err.Error()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Code != "" {
		msg += " (code " + e.Code + ")"
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Cause() error {
	return e.Err
}

var (
	ErrNoTransaction  = Contractf("no transaction in progress")
	ErrSavepointOrder = Contractf("transaction is not the innermost savepoint")
	ErrTxDone         = Contractf("transaction has already been committed or rolled back")
	ErrConnClosed     = Contractf("connection is closed")
)

// Contractf returns a contract violation with a formatted message.
func Contractf(format string, args ...any) error {
	return &Error{Kind: ContractViolation, Err: errors.Errorf(format, args...)}
}

// Contract classifies err as a contract violation. op may be empty.
func Contract(op string, err error) error {
	return classify(ContractViolation, op, "", err)
}

// Backend classifies err as a backend failure of op. Errors that are
// already classified keep their kind.
func Backend(op string, err error) error {
	return classify(BackendFailure, op, "", err)
}

// BackendCode classifies err as a backend failure with a native code.
func BackendCode(op string, code string, err error) error {
	return classify(BackendFailure, op, code, err)
}

// Resource classifies err as a resource lifecycle failure of op.
func Resource(op string, err error) error {
	return classify(ResourceFailure, op, "", err)
}

func classify(kind Kind, op string, code string, err error) error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return err
	}
	if code == "" {
		var coder driver.Coder
		if errors.As(err, &coder) {
			code = strconv.Itoa(coder.Code())
		}
	}
	return &Error{Kind: kind, Op: op, Code: code, Err: err}
}

// WithQuery returns err with the statement text recorded on it. Only a
// classified error with no query yet is changed, or the first error of a
// multierror. err itself is not modified.
func WithQuery(err error, query string) error {
	if me, ok := err.(*multierror.Error); ok && len(me.Errors) > 0 {
		errs := append([]error(nil), me.Errors...)
		errs[0] = WithQuery(errs[0], query)
		return &multierror.Error{Errors: errs, ErrorFormat: me.ErrorFormat}
	}
	fe, ok := err.(*Error)
	if !ok || fe.Query != "" {
		return err
	}
	withQuery := *fe
	withQuery.Query = query
	return &withQuery
}

// KindOf returns the kind of err, or zero if err is not classified.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return 0
}

// IsContract reports whether err is a contract violation.
func IsContract(err error) bool {
	return KindOf(err) == ContractViolation
}

// IsBackend reports whether err was caused by the backend, including
// resource lifecycle failures.
func IsBackend(err error) bool {
	k := KindOf(err)
	return k == BackendFailure || k == ResourceFailure
}
