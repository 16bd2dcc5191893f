package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrLockHeld          = errors.New("lock already held")
	ErrExecutionDisabled = errors.New("execution disabled")
	ErrBelowMinNotional  = errors.New("order below minimum notional")
	ErrStalePosition     = errors.New("position belongs to a different signal")
	ErrAlreadyClosed     = errors.New("position already closed")
)
