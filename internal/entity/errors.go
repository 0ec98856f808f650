package entity

import "errors"

var (
	// ErrMalformedPayload means the payload could not be decoded and was ignored
	ErrMalformedPayload = errors.New("malformed payload")

	// ErrFailSafe means the payload could not be decoded and the entity
	// fell back to its alarm state
	ErrFailSafe = errors.New("unparsable payload, failing safe")

	// ErrNotWritable is returned for commands to read-only entities
	ErrNotWritable = errors.New("entity is not writable")

	// ErrUnknownOption is returned when a select receives a value outside its options
	ErrUnknownOption = errors.New("unknown option")

	// ErrOutOfRange is returned when a number receives a value outside its bounds
	ErrOutOfRange = errors.New("value out of range")

	// ErrClosed is returned by an entity that has been torn down
	ErrClosed = errors.New("entity is closed")
)
