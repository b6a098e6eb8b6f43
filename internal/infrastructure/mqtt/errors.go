package mqtt

import "errors"

// Errors returned by Client and LoadClientTLS. Operation failures wrap
// the paho error so callers can use errors.Is on either.
var (
	ErrNotConnected      = errors.New("mqtt: session not connected")
	ErrConnectionFailed  = errors.New("mqtt: broker connection failed")
	ErrPublishFailed     = errors.New("mqtt: publish failed")
	ErrSubscribeFailed   = errors.New("mqtt: subscribe failed")
	ErrUnsubscribeFailed = errors.New("mqtt: unsubscribe failed")

	ErrInvalidQoS      = errors.New("mqtt: qos must be 0, 1 or 2")
	ErrInvalidTopic    = errors.New("mqtt: empty topic")
	ErrInvalidClientID = errors.New("mqtt: empty client id")

	// ErrCertificateNotFound means a thing has no certificate files on disk.
	ErrCertificateNotFound = errors.New("mqtt: certificate file not found")
	ErrInvalidCertificate  = errors.New("mqtt: invalid certificate")
)
