package approval

import "errors"

// Sentinel errors for registry operations.
var (
	ErrEmptyRequestID = errors.New("approval request id is empty")
	ErrNotRegistered  = errors.New("approval request not registered")
	ErrAlreadyAwaited = errors.New("approval request already has a waiter")
)
