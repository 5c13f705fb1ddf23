package enocean

import "errors"

// Domain errors for the EnOcean bridge package.
var (
	// ErrNotConnected is returned when an operation requires the gateway
	// link but it is down.
	ErrNotConnected = errors.New("enocean: not connected to gateway")

	// ErrConnectionFailed is returned when the gateway link cannot be opened.
	ErrConnectionFailed = errors.New("enocean: connection to gateway failed")

	// ErrSendFailed is returned when a frame cannot be written to the gateway.
	ErrSendFailed = errors.New("enocean: frame send failed")

	// ErrInvalidCommand is returned when an MQTT command cannot be turned
	// into a radio telegram.
	ErrInvalidCommand = errors.New("enocean: invalid command")

	// ErrUnknownDevice is returned when a command targets an address that
	// is not configured.
	ErrUnknownDevice = errors.New("enocean: unknown device")
)
