package esp3

import "errors"

// Errors returned by the outbound and parsing helpers. The inbound frame
// assembler never returns errors; corrupt input is silently dropped.
var (
	// ErrNoSink is returned when Send is called on a channel without a writer.
	ErrNoSink = errors.New("esp3: no transmit sink configured")

	// ErrFrameIncomplete is returned when an incomplete frame is described
	// or written where a complete one is required.
	ErrFrameIncomplete = errors.New("esp3: frame incomplete")

	// ErrShortWrite is returned when the sink accepted fewer bytes than
	// the frame occupies.
	ErrShortWrite = errors.New("esp3: short write")

	// ErrPayloadTooLarge is returned when a frame declares more than
	// MaxPayloadSize payload bytes.
	ErrPayloadTooLarge = errors.New("esp3: payload too large")

	// ErrInvalidProfile is returned when an EEP string cannot be parsed.
	ErrInvalidProfile = errors.New("esp3: invalid equipment profile")

	// ErrInvalidAddress is returned when a radio address string cannot be parsed.
	ErrInvalidAddress = errors.New("esp3: invalid radio address")

	// ErrWrongKind is returned when a kind-specific helper is applied to
	// a telegram of a different kind.
	ErrWrongKind = errors.New("esp3: wrong telegram kind")
)
