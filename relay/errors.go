package relay

import "errors"

var (
	// ErrNoRuntime is returned by New when no runtime was supplied.
	ErrNoRuntime = errors.New("no runtime configured")

	// ErrNilSession is returned by HandleTurn for a nil session.
	ErrNilSession = errors.New("session is nil")

	// ErrEmptyMessage is returned by HandleTurn for a blank user message.
	ErrEmptyMessage = errors.New("message is empty")
)
