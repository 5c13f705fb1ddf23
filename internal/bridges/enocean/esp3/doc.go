// Package esp3 implements the EnOcean Serial Protocol 3 (ESP3) frame codec
// used between a host and an EnOcean radio gateway (USB300, TCM310 and
// compatibles).
//
// # Wire Format
//
//	┌──────┬──────────┬─────────┬──────┬──────┬──────────┬───────────┬──────┐
//	│ 0x55 │ data len │ opt len │ type │ CRC8 │   data   │ opt data  │ CRC8 │
//	│  1   │    2     │    1    │  1   │  1   │ data len │  opt len  │  1   │
//	└──────┴──────────┴─────────┴──────┴──────┴──────────┴───────────┴──────┘
//
// Both checksums use CRC8 with polynomial 0x07. The header checksum covers
// the four bytes after the sync byte; the payload checksum covers data and
// optional data.
//
// # Assembling Frames
//
// A Frame assembles itself incrementally from arbitrary chunks of the byte
// stream. A Channel keeps the partially assembled frame between reads and
// dispatches every completed frame:
//
//	ch := esp3.NewChannel(port)
//	ch.SetConsumer(esp3.FrameConsumerFunc(func(_ *esp3.Channel, f *esp3.Frame, _ error) {
//	    fmt.Println(f.RadioSender(), f.Profile())
//	}))
//	ch.AcceptBytes(buf[:n])
//
// Corrupt input never surfaces as an error. A bad header checksum makes the
// assembler rescan the header bytes for a sync byte; a bad payload checksum
// drops the frame.
//
// # Radio Telegrams
//
// Radio frames (type 1) carry an EnOcean telegram whose kind (RORG) selects
// the user data layout: RPS, 1BS, 4BS, VLD or smart acknowledge learn
// request. Frame exposes the sender, status, optional data fields, teach-in
// detection and the equipment profile (EEP) derived from teach-in telegrams.
//
// # Thread Safety
//
// Frame and Channel are not safe for concurrent use. Callers that read and
// write from different goroutines must serialise access to a Channel.
package esp3
