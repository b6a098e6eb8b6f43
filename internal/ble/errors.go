package ble

import "errors"

// Domain errors for the ble package.
var (
	// ErrBusy is returned when a task or detection is already in flight.
	// Retrying later is safe.
	ErrBusy = errors.New("ble: busy, retry later")

	// ErrInvalidIdentifier is returned for a malformed peripheral identifier.
	ErrInvalidIdentifier = errors.New("ble: invalid peripheral identifier")

	// ErrCancelled is returned to a caller that cancelled its connect.
	ErrCancelled = errors.New("ble: cancelled")

	// ErrRetryLater is returned when the driver failed without detail.
	ErrRetryLater = errors.New("ble: transient failure, retry later")

	// ErrPoweredOff is returned when the radio is switched off.
	ErrPoweredOff = errors.New("ble: radio powered off")

	// ErrUnsupported is returned when the host has no usable BLE radio.
	ErrUnsupported = errors.New("ble: radio unsupported")

	// ErrUnauthorized is returned when the process may not use the radio.
	ErrUnauthorized = errors.New("ble: radio access unauthorized")

	// ErrScanTimeout is returned when a scan timed out before it could start.
	ErrScanTimeout = errors.New("ble: scan timed out before starting")

	// ErrDisplaced ends a GATT detection whose peripheral handler was
	// replaced while it ran. Retrying is safe.
	ErrDisplaced = errors.New("ble: gatt detection displaced")

	// ErrNotConnected is returned when GATT detection is requested on a
	// peripheral that is not connected.
	ErrNotConnected = errors.New("ble: peripheral not connected")
)

// stateError maps an unrecoverable radio state to its error.
// It returns nil for states that allow or defer a task start.
func stateError(s RadioState) error {
	switch s {
	case RadioPoweredOff:
		return ErrPoweredOff
	case RadioUnsupported:
		return ErrUnsupported
	case RadioUnauthorized:
		return ErrUnauthorized
	default:
		return nil
	}
}
