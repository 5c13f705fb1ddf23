package esp3

import (
	"fmt"
	"io"
)

// FrameConsumer receives radio frames completed by a Channel.
//
// The frame is handed over as an ephemeral value; consumers that keep it
// beyond the call must not mutate it. err is reserved for transport-level
// failures reported by the owner of the channel and is nil for frames
// produced by the assembler.
type FrameConsumer interface {
	OnFrame(ch *Channel, f *Frame, err error)
}

// FrameConsumerFunc adapts a function to the FrameConsumer interface.
type FrameConsumerFunc func(ch *Channel, f *Frame, err error)

// OnFrame calls fn(ch, f, err).
func (fn FrameConsumerFunc) OnFrame(ch *Channel, f *Frame, err error) {
	fn(ch, f, err)
}

// Channel drives the frame assembler over a gateway byte stream and
// writes outbound frames to a sink.
//
// A Channel holds one partially assembled frame between calls. It is not
// safe for concurrent use: AcceptBytes and Send must be serialised by the
// caller.
type Channel struct {
	sink        io.Writer
	consumer    FrameConsumer
	passThrough func(*Frame)
	current     *Frame
}

// NewChannel creates a channel transmitting to sink. A nil sink is allowed
// for receive-only use; Send then fails with ErrNoSink.
func NewChannel(sink io.Writer) *Channel {
	return &Channel{sink: sink}
}

// SetConsumer registers the receiver of completed radio frames.
// Passing nil discards radio frames.
func (c *Channel) SetConsumer(consumer FrameConsumer) {
	c.consumer = consumer
}

// SetPassThrough registers a receiver for completed non-radio frames
// (responses, events). Passing nil discards them.
func (c *Channel) SetPassThrough(fn func(*Frame)) {
	c.passThrough = fn
}

// SetSink replaces the transmit sink, e.g. after a reconnect.
func (c *Channel) SetSink(sink io.Writer) {
	c.sink = sink
}

// Pending reports whether a partially assembled frame is carried over.
func (c *Channel) Pending() bool {
	return c.current != nil && c.current.State() != StateAwaitingSync
}

// Reset discards any partially assembled frame.
func (c *Channel) Reset() {
	c.current = nil
}

// AcceptBytes feeds received bytes through the assembler, dispatching
// every frame that completes. All of buf is always consumed; bytes that
// do not form a valid frame are dropped during resynchronisation. A frame
// split across calls is carried over to the next call.
//
// Returns:
//   - int: number of bytes consumed, always len(buf)
func (c *Channel) AcceptBytes(buf []byte) int {
	consumed := 0
	for consumed < len(buf) {
		if c.current == nil {
			c.current = NewFrame()
		}
		consumed += c.current.AcceptBytes(buf[consumed:])
		if c.current.IsComplete() {
			f := c.current
			c.current = nil
			c.Dispatch(f)
		}
	}
	return consumed
}

// Dispatch routes a complete frame: radio frames go to the consumer, all
// other types to the pass-through receiver.
func (c *Channel) Dispatch(f *Frame) {
	if f.Type() == FrameTypeRadio {
		if c.consumer != nil {
			c.consumer.OnFrame(c, f, nil)
		}
		return
	}
	if c.passThrough != nil {
		c.passThrough(f)
	}
}

// Send finalizes f and writes its header followed by its payload to the
// sink.
//
// Returns:
//   - error: ErrNoSink, ErrPayloadTooLarge, ErrShortWrite or the sink's error
func (c *Channel) Send(f *Frame) error {
	if c.sink == nil {
		return ErrNoSink
	}
	if err := f.Finalize(); err != nil {
		return err
	}
	if err := writeFull(c.sink, f.HeaderBytes()); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	if err := writeFull(c.sink, f.Payload()); err != nil {
		return fmt.Errorf("writing payload: %w", err)
	}
	return nil
}

func writeFull(w io.Writer, b []byte) error {
	n, err := w.Write(b)
	if err != nil {
		return err
	}
	if n != len(b) {
		return fmt.Errorf("%w: %d of %d bytes", ErrShortWrite, n, len(b))
	}
	return nil
}
