package esp3

import (
	"encoding/binary"
	"fmt"
)

// Wire layout constants.
const (
	// SyncByte marks the start of every ESP3 frame.
	SyncByte byte = 0x55

	// HeaderSize is the fixed header length including the sync byte and
	// the header checksum:
	//
	//	Byte 0:   sync byte 0x55
	//	Byte 1-2: data length (big-endian)
	//	Byte 3:   optional data length
	//	Byte 4:   frame type
	//	Byte 5:   CRC8 over bytes 1..4
	HeaderSize = 6

	// MaxPayloadSize bounds data + optional data + payload checksum.
	// Headers declaring more than this are discarded without allocation.
	MaxPayloadSize = 300
)

// FrameType is the ESP3 packet type carried in header byte 4.
type FrameType byte

// Known frame types. Other values are carried through untouched.
const (
	FrameTypeRadio    FrameType = 0x01
	FrameTypeResponse FrameType = 0x02
)

// String returns a short name for the frame type.
func (t FrameType) String() string {
	switch t {
	case FrameTypeRadio:
		return "radio"
	case FrameTypeResponse:
		return "response"
	default:
		return fmt.Sprintf("type(0x%02X)", byte(t))
	}
}

// ParseState is the position of the frame assembler in the byte stream.
type ParseState int

// Assembler states.
const (
	StateAwaitingSync ParseState = iota
	StateReadingHeader
	StateReadingPayload
	StateComplete
)

// String returns the state name used in diagnostics.
func (s ParseState) String() string {
	switch s {
	case StateAwaitingSync:
		return "awaiting-sync"
	case StateReadingHeader:
		return "reading-header"
	case StateReadingPayload:
		return "reading-payload"
	case StateComplete:
		return "complete"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Frame is one ESP3 packet, either being assembled from a byte stream or
// being built for transmission.
//
// The payload is data, then optional data, then one CRC8 byte over both.
// A Frame is not safe for concurrent use.
type Frame struct {
	header      [HeaderSize]byte
	headerIndex int

	payload      []byte
	payloadIndex int

	state ParseState
}

// NewFrame returns an empty frame awaiting a sync byte.
func NewFrame() *Frame {
	return &Frame{}
}

// Reset clears header, payload and parse progress. The payload buffer is
// released.
func (f *Frame) Reset() {
	f.header = [HeaderSize]byte{}
	f.headerIndex = 0
	f.payload = nil
	f.payloadIndex = 0
	f.state = StateAwaitingSync
}

// State returns the current assembler state.
func (f *Frame) State() ParseState {
	return f.state
}

// IsComplete reports whether the frame has been fully received or finalized.
func (f *Frame) IsComplete() bool {
	return f.state == StateComplete
}

// DataLength returns the declared data length from the header.
func (f *Frame) DataLength() uint16 {
	return binary.BigEndian.Uint16(f.header[1:3])
}

// SetDataLength sets the declared data length. The payload buffer is not
// resized until it is next accessed.
func (f *Frame) SetDataLength(n uint16) {
	binary.BigEndian.PutUint16(f.header[1:3], n)
}

// OptDataLength returns the declared optional data length.
func (f *Frame) OptDataLength() uint8 {
	return f.header[3]
}

// SetOptDataLength sets the declared optional data length.
func (f *Frame) SetOptDataLength(n uint8) {
	f.header[3] = n
}

// Type returns the frame type from the header.
func (f *Frame) Type() FrameType {
	return FrameType(f.header[4])
}

// SetType sets the frame type.
func (f *Frame) SetType(t FrameType) {
	f.header[4] = byte(t)
}

// HeaderChecksum computes the CRC8 over header bytes 1..4.
func (f *Frame) HeaderChecksum() byte {
	return CRC8(f.header[1:5])
}

// payloadSize is the size the payload buffer must have for the current header.
func (f *Frame) payloadSize() int {
	return int(f.DataLength()) + int(f.OptDataLength()) + 1
}

// Payload returns the payload buffer sized for the current header,
// reallocating (zero-filled) only when the required size changed.
//
// If the required size exceeds MaxPayloadSize the frame is reset and nil
// is returned.
func (f *Frame) Payload() []byte {
	size := f.payloadSize()
	if size > MaxPayloadSize {
		f.Reset()
		return nil
	}
	if len(f.payload) != size {
		f.payload = make([]byte, size)
	}
	return f.payload
}

// Data returns the data section of the payload (aliasing the buffer).
func (f *Frame) Data() []byte {
	p := f.Payload()
	if p == nil {
		return nil
	}
	return p[:f.DataLength()]
}

// OptionalData returns the optional data section of the payload.
func (f *Frame) OptionalData() []byte {
	p := f.Payload()
	if p == nil {
		return nil
	}
	start := int(f.DataLength())
	return p[start : start+int(f.OptDataLength())]
}

// PayloadChecksum computes the CRC8 over every payload byte except the
// trailing checksum byte.
func (f *Frame) PayloadChecksum() byte {
	p := f.Payload()
	if len(p) == 0 {
		return 0
	}
	return CRC8(p[:len(p)-1])
}

// AcceptBytes feeds stream bytes into the frame assembler and returns how
// many of buf were consumed.
//
// Consumption stops as soon as the frame is complete, so the caller must
// hand the remaining bytes to a fresh frame. A complete frame consumes
// nothing. Corrupt input never produces an error:
//   - a header checksum mismatch re-examines header bytes 1..5 for a
//     sync byte before continuing with new input
//   - a payload checksum mismatch discards the whole frame
//
// Parameters:
//   - buf: bytes received from the gateway, possibly a partial frame
//
// Returns:
//   - int: number of bytes taken from buf (0..len(buf))
func (f *Frame) AcceptBytes(buf []byte) int {
	var replay []byte
	consumed := 0
	for {
		if f.state == StateComplete {
			return consumed
		}

		var b byte
		if len(replay) > 0 {
			// Replayed header bytes are not counted as consumed input.
			b, replay = replay[0], replay[1:]
		} else {
			if consumed >= len(buf) {
				return consumed
			}
			b = buf[consumed]
			consumed++
		}

		replay = f.step(b, replay)
	}
}

// step advances the state machine by one byte and returns the updated
// replay queue.
func (f *Frame) step(b byte, replay []byte) []byte {
	switch f.state {
	case StateAwaitingSync:
		if b == SyncByte {
			f.header[0] = b
			f.headerIndex = 1
			f.state = StateReadingHeader
		}

	case StateReadingHeader:
		f.header[f.headerIndex] = b
		f.headerIndex++
		if f.headerIndex < HeaderSize {
			return replay
		}
		if f.header[5] != f.HeaderChecksum() {
			// Bytes 1..5 may hide the real sync byte. They are examined
			// ahead of whatever was already queued.
			queued := make([]byte, 0, HeaderSize-1+len(replay))
			queued = append(queued, f.header[1:]...)
			queued = append(queued, replay...)
			f.header = [HeaderSize]byte{}
			f.headerIndex = 0
			f.state = StateAwaitingSync
			return queued
		}
		if f.Payload() == nil {
			// Oversized; Payload already reset the frame.
			return replay
		}
		f.payloadIndex = 0
		f.state = StateReadingPayload

	case StateReadingPayload:
		f.payload[f.payloadIndex] = b
		f.payloadIndex++
		if f.payloadIndex < len(f.payload) {
			return replay
		}
		if f.payload[len(f.payload)-1] != f.PayloadChecksum() {
			f.Reset()
			return replay
		}
		f.state = StateComplete

	default:
		f.Reset()
	}
	return replay
}

// Finalize prepares the frame for transmission: it sizes the payload,
// writes the sync byte and both checksums, and marks the frame complete.
//
// Returns:
//   - error: ErrPayloadTooLarge if the header declares an oversized payload
func (f *Frame) Finalize() error {
	size := f.payloadSize()
	p := f.Payload()
	if p == nil {
		return fmt.Errorf("%w: %d bytes (max %d)", ErrPayloadTooLarge, size, MaxPayloadSize)
	}
	f.header[0] = SyncByte
	f.header[5] = f.HeaderChecksum()
	p[len(p)-1] = f.PayloadChecksum()
	f.headerIndex = HeaderSize
	f.payloadIndex = len(p)
	f.state = StateComplete
	return nil
}

// HeaderBytes returns a copy of the six header bytes.
func (f *Frame) HeaderBytes() []byte {
	h := make([]byte, HeaderSize)
	copy(h, f.header[:])
	return h
}

// Bytes returns the frame as it appears on the wire, header then payload.
// The result is only meaningful for a complete frame.
func (f *Frame) Bytes() []byte {
	p := f.Payload()
	out := make([]byte, 0, HeaderSize+len(p))
	out = append(out, f.header[:]...)
	return append(out, p...)
}
