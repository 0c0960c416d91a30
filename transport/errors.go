package transport

import "errors"

var (
	// ErrMalformedFrame marks an inbound frame that is not valid JSON.
	ErrMalformedFrame = errors.New("malformed frame")

	// ErrInvalidFrame marks a frame missing a required field.
	ErrInvalidFrame = errors.New("invalid frame")

	// ErrUnknownFrameType marks a frame whose type is not recognized.
	ErrUnknownFrameType = errors.New("unknown frame type")
)
