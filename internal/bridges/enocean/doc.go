// Package enocean implements the EnOcean radio bridge for Gray Logic.
//
// The bridge talks ESP3 to a USB300/TCM310 class gateway over a serial port
// or a TCP tunnel, and translates between radio telegrams and Gray Logic's
// MQTT topics.
//
// # Architecture
//
//	┌─────────────────┐          ┌─────────────────┐   ESP3    ┌─────────┐
//	│   Gray Logic    │   MQTT   │ EnOcean Bridge  │◄─────────►│ Gateway │ ))) radio
//	│      Core       │◄────────►│   (this pkg)    │  serial   └─────────┘
//	└─────────────────┘          └─────────────────┘  or TCP
//
// Frame assembly, checksums and telegram decoding live in the esp3
// subpackage. This package owns the link, the worker pool that fans
// telegrams out, and everything MQTT-facing.
//
// # Key Responsibilities
//
//   - Keep the gateway link open, reconnecting with backoff
//   - Publish sender state on graylogic/state/enocean/{address}
//   - Detect teach-in telegrams and announce them while learn mode is on
//   - Turn MQTT commands into outbound radio telegrams
//   - Record senders and teach-ins in SQLite, RSSI in InfluxDB
//   - Publish health status with an MQTT last will
//
// # Teach-in
//
// Teach-in detection follows the telegram kind: RPS buttons carry no
// learn bit, 1BS and 4BS clear bit 3 of their last data byte, and
// SM_LRN_REQ telegrams are always teach-in. A minimum RSSI can be
// configured so that only nearby devices are learned.
//
// # Thread Safety
//
// All exported types are safe for concurrent use from multiple goroutines.
//
// # References
//
//   - EnOcean Serial Protocol 3: https://www.enocean.com/esp
//   - EnOcean Equipment Profiles: https://www.enocean-alliance.org/eep/
package enocean
