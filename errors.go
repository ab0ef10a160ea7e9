// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package sqlbind

import (
	"github.com/canonical/sqlbind/internal/expr"
	"github.com/canonical/sqlbind/internal/failure"
)

// Error is the type of every error returned by a Conn. Use errors.As to
// inspect its Kind, Op and backend Code.
type Error = failure.Error

// Kind classifies an Error.
type Kind = failure.Kind

const (
	// ContractViolation is a caller error, such as a wrong number of
	// arguments, an unsupported argument type or a commit with no
	// transaction open. It is detected before the backend is contacted.
	ContractViolation = failure.ContractViolation
	// BackendFailure is an error reported by the backend.
	BackendFailure = failure.BackendFailure
	// ResourceFailure is a failure to acquire or release a large object or
	// cursor. It is a kind of BackendFailure.
	ResourceFailure = failure.ResourceFailure
)

// ArityError is the cause of a ContractViolation raised when the number
// of arguments does not match the markers of a query.
type ArityError = expr.ArityError

var (
	ErrNoTransaction  = failure.ErrNoTransaction
	ErrSavepointOrder = failure.ErrSavepointOrder
	ErrTxDone         = failure.ErrTxDone
	ErrConnClosed     = failure.ErrConnClosed
)

// IsContractViolation reports whether err is a caller error.
func IsContractViolation(err error) bool {
	return failure.IsContract(err)
}

// IsBackendFailure reports whether err was reported by the backend,
// including resource failures.
func IsBackendFailure(err error) bool {
	return failure.IsBackend(err)
}
