package models

import (
	"errors"
	"fmt"
)

// Error kinds. Every DomainError unwraps to exactly one of these.
var (
	ErrValidation         = errors.New("validation error")
	ErrAuthorization      = errors.New("authorization error")
	ErrStateConflict      = errors.New("state conflict")
	ErrNotFound           = errors.New("not found")
	ErrNotReady           = errors.New("not ready")
	ErrExternalDependency = errors.New("external dependency error")
	ErrSettlementFailure  = errors.New("settlement failure")
	ErrBusy               = errors.New("resource busy")
)

// DomainError carries the kind of failure plus the name of the rule that was
// violated (for example "stake.minimum" or "payout.one_active_per_policy").
type DomainError struct {
	Kind      error
	Invariant string
	Message   string
	Err       error
}

func (e *DomainError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Message)
	if e.Invariant != "" {
		msg = fmt.Sprintf("%s [%s]", msg, e.Invariant)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *DomainError) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

func NewValidationError(invariant, format string, args ...any) error {
	return &DomainError{Kind: ErrValidation, Invariant: invariant, Message: fmt.Sprintf(format, args...)}
}

func NewAuthorizationError(invariant, format string, args ...any) error {
	return &DomainError{Kind: ErrAuthorization, Invariant: invariant, Message: fmt.Sprintf(format, args...)}
}

func NewStateConflictError(invariant, format string, args ...any) error {
	return &DomainError{Kind: ErrStateConflict, Invariant: invariant, Message: fmt.Sprintf(format, args...)}
}

func NewNotFoundError(entity string, id any) error {
	return &DomainError{Kind: ErrNotFound, Invariant: entity + ".exists", Message: fmt.Sprintf("%s %v not found", entity, id)}
}

func NewNotReadyError(invariant, format string, args ...any) error {
	return &DomainError{Kind: ErrNotReady, Invariant: invariant, Message: fmt.Sprintf(format, args...)}
}

// NewBusyError reports contention on a lock that is expected to clear; the
// caller should retry the same request later.
func NewBusyError(invariant, format string, args ...any) error {
	return &DomainError{Kind: ErrBusy, Invariant: invariant, Message: fmt.Sprintf(format, args...)}
}

func NewExternalDependencyError(dependency string, err error) error {
	return &DomainError{Kind: ErrExternalDependency, Invariant: dependency, Message: dependency + " call failed", Err: err}
}

// InvariantOf returns the violated rule name if err is a DomainError.
func InvariantOf(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Invariant
	}
	return ""
}
