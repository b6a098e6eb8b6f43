package thing

import "errors"

// Domain errors for the thing package.
var (
	// ErrIllegalState is returned when an operation needs a peripheral or
	// broker connector the thing does not have.
	ErrIllegalState = errors.New("thing: operation not possible in current state")

	// ErrNotWriteCapable is logged when a write targets a characteristic
	// that accepts no writes.
	ErrNotWriteCapable = errors.New("thing: characteristic is not writable")

	// ErrNotSubscribable is logged when a characteristic has no topic.
	ErrNotSubscribable = errors.New("thing: characteristic has no topic")

	// ErrUnknownCharacteristic is returned for a characteristic the thing
	// does not expose.
	ErrUnknownCharacteristic = errors.New("thing: unknown characteristic")
)
