package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrAlreadyExists  = errors.New("already exists")
	ErrLockHeld       = errors.New("lock already held")
	ErrLeaseExpired   = errors.New("lease expired")
	ErrRetryExhausted = errors.New("retry attempts exhausted")
	ErrTerminalOrder  = errors.New("order is in a terminal state")
	ErrExitAlreadySet = errors.New("exit fields already set")
	ErrInvalidConfig  = errors.New("invalid configuration")
	ErrContextDone    = errors.New("context cancelled")
	ErrRateLimited    = errors.New("rate limited")
)

// InvalidTransitionError reports an order status change that is not present in
// the transition table. It always identifies both the current and the
// requested status.
type InvalidTransitionError struct {
	OrderID string
	From    OrderStatus
	To      OrderStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("order %s: invalid transition %s -> %s", e.OrderID, e.From, e.To)
}

// TransientExecutionError marks an execution-client failure that is expected
// to clear on its own (timeouts, rate limits, congested RPC). Orders failing
// with a transient error are retried on the backoff schedule.
type TransientExecutionError struct {
	Err error
}

func (e *TransientExecutionError) Error() string {
	return "transient execution error: " + e.Err.Error()
}

func (e *TransientExecutionError) Unwrap() error { return e.Err }

// PermanentExecutionError marks an execution-client failure that no amount of
// retrying will fix (insufficient funds, token delisted, account frozen).
// Orders failing with a permanent error go straight to terminal FAILED with
// an alert.
type PermanentExecutionError struct {
	Reason string
	Err    error
}

func (e *PermanentExecutionError) Error() string {
	if e.Err == nil {
		return "permanent execution error: " + e.Reason
	}
	return "permanent execution error: " + e.Reason + ": " + e.Err.Error()
}

func (e *PermanentExecutionError) Unwrap() error { return e.Err }

// IsPermanent reports whether err wraps a PermanentExecutionError anywhere in
// its chain.
func IsPermanent(err error) bool {
	var pe *PermanentExecutionError
	return errors.As(err, &pe)
}

// IsTransient reports whether err wraps a TransientExecutionError. Errors that
// are neither transient nor permanent are treated as transient by the
// executor, so attempt-count exhaustion still bounds them.
func IsTransient(err error) bool {
	var te *TransientExecutionError
	return errors.As(err, &te)
}
