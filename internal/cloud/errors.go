package cloud

import "errors"

var (
	// ErrNoCredentials is returned when an operation needs a session token
	// and none is stored.
	ErrNoCredentials = errors.New("cloud: no credentials")

	// ErrInvalidCredentials is returned when login or refresh is rejected.
	ErrInvalidCredentials = errors.New("cloud: invalid credentials")

	// ErrInvalidRequest is returned for unexpected responses.
	ErrInvalidRequest = errors.New("cloud: invalid request")

	// ErrInvalidJSON is returned when a response body cannot be decoded.
	ErrInvalidJSON = errors.New("cloud: invalid JSON")

	// ErrInvalidThingType is returned when the thing manager rejects the
	// thing type.
	ErrInvalidThingType = errors.New("cloud: invalid thing type")

	// ErrUnauthorized is returned when the thing manager rejects the token.
	ErrUnauthorized = errors.New("cloud: unauthorized")

	// ErrNotNative is returned when registering a thing without protocol info.
	ErrNotNative = errors.New("cloud: thing is not native")

	// ErrCannotAddCertificate is returned when issued certificates cannot be
	// stored.
	ErrCannotAddCertificate = errors.New("cloud: cannot add certificate")

	// ErrCircuitOpen is returned while the circuit breaker rejects requests.
	ErrCircuitOpen = errors.New("cloud: circuit open")
)
