package session

import "errors"

// Sentinel errors for session operations.
var (
	ErrHistoryRegression = errors.New("client history shorter than replayed count")
	ErrEmptySubject      = errors.New("session subject is empty")
)
