package device

import "errors"

// Domain errors for the device package.
var (
	// ErrNotFound is returned when no thing is stored for a peripheral id.
	ErrNotFound = errors.New("device: not found")

	// ErrInvalidInfo is returned when an Info fails validation.
	ErrInvalidInfo = errors.New("device: invalid info")

	// ErrInvalidFamily is returned when a family value is not recognised.
	ErrInvalidFamily = errors.New("device: invalid family")
)
