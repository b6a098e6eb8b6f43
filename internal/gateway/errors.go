package gateway

import "errors"

var (
	// ErrNotRegistered is returned when an operation needs a registered thing.
	ErrNotRegistered = errors.New("gateway: thing not registered")

	// ErrUnknownThing is returned for a peripheral the gateway has not seen.
	ErrUnknownThing = errors.New("gateway: unknown thing")
)
