package esp3

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// Radio data block layout:
//
//	Byte 0:       RORG
//	Byte 1..n:    user data (n bytes)
//	Byte n+1..+4: sender ID (big-endian)
//	Byte n+5:     status
//	Byte n+6:     VLD only: CRC
//
// Radio optional data (7 bytes):
//
//	Byte 0:   subtelegram count (3 when sending)
//	Byte 1-4: destination ID (0xFFFFFFFF = broadcast)
//	Byte 5:   dBm magnitude (value is negative; 0xFF when sending)
//	Byte 6:   security level (0 = unencrypted)
const (
	radioFixedBytes  = 6 // RORG + 4 sender + status
	RadioOptDataSize = 7

	// DefaultSubtelegrams is the subtelegram count used when sending.
	DefaultSubtelegrams = 3

	// DBmSendSentinel is the dBm byte used when sending.
	DBmSendSentinel = 0xFF
)

// Status and learn bits.
const (
	StatusT21 byte = 0x20
	StatusNU  byte = 0x10

	// LearnBit is cleared in teach-in telegrams of kinds with an explicit
	// learn bit (1BS data byte 0, 4BS data byte 3).
	LearnBit byte = 0x08
)

// VLD user data bounds.
const (
	vldMinUserData = 1
	vldMaxUserData = 14
)

// Fixed user data sizes per kind.
const (
	rpsUserData      = 1
	oneBSUserData    = 1
	fourBSUserData   = 4
	smLrnReqUserData = 10
)

// maxRadioUserData is the most user data a radio telegram with the standard
// optional data block can carry within MaxPayloadSize.
const maxRadioUserData = MaxPayloadSize - radioFixedBytes - RadioOptDataSize - 1

// radioData returns the data block of a radio frame. It is nil for other
// frame types, for empty data, and for frames whose declared payload
// exceeds MaxPayloadSize (which also resets the frame).
func (f *Frame) radioData() []byte {
	if f.Type() != FrameTypeRadio || f.DataLength() < 1 {
		return nil
	}
	return f.Data()
}

// userDataLen is the user data length of radio data block d.
func userDataLen(d []byte) int {
	if len(d) < 1 {
		return 0
	}
	n := len(d) - radioFixedBytes
	if RORG(d[0]) == RORGVLD {
		n--
	}
	return max(n, 0)
}

// RadioOrg returns the telegram kind, or RORGInvalid for non-radio frames
// and radio frames without data.
func (f *Frame) RadioOrg() RORG {
	d := f.radioData()
	if len(d) < 1 {
		return RORGInvalid
	}
	return RORG(d[0])
}

// RadioUserDataLength returns the number of kind-specific user data bytes.
// Non-radio frames and frames too short for the fixed fields report 0.
func (f *Frame) RadioUserDataLength() int {
	return userDataLen(f.radioData())
}

// SetRadioUserDataLength resizes the data block to hold n user data bytes
// plus the fixed radio fields. Non-radio frames are left unchanged.
// The payload is reallocated on next access, so content must be written
// after resizing.
func (f *Frame) SetRadioUserDataLength(n int) {
	if f.Type() != FrameTypeRadio {
		return
	}
	rorg := f.RadioOrg()
	size := n + radioFixedBytes
	if rorg == RORGVLD {
		size++
	}
	f.SetDataLength(uint16(size)) //nolint:gosec // bounded by MaxPayloadSize on access
}

// RadioUserData returns the user data bytes (aliasing the payload), or nil
// when there are none.
func (f *Frame) RadioUserData() []byte {
	d := f.radioData()
	n := userDataLen(d)
	if n == 0 {
		return nil
	}
	return d[1 : 1+n]
}

// senderField returns the four sender ID bytes, or nil.
func (f *Frame) senderField() []byte {
	d := f.radioData()
	n := userDataLen(d)
	if n == 0 {
		return nil
	}
	return d[1+n : 1+n+4]
}

// RadioSender returns the sender ID, or 0 if the frame has no user data.
func (f *Frame) RadioSender() Address {
	b := f.senderField()
	if b == nil {
		return 0
	}
	return Address(binary.BigEndian.Uint32(b))
}

// SetRadioSender writes the sender ID. Frames without user data are left
// unchanged.
func (f *Frame) SetRadioSender(a Address) {
	if b := f.senderField(); b != nil {
		binary.BigEndian.PutUint32(b, uint32(a))
	}
}

// statusField returns the status byte as a one-byte slice, or nil.
func (f *Frame) statusField() []byte {
	d := f.radioData()
	if len(d) < 1 {
		return nil
	}
	off := len(d) - 1
	if RORG(d[0]) == RORGVLD {
		off--
	}
	if off < 0 {
		return nil
	}
	return d[off : off+1]
}

// RadioStatus returns the status byte, or 0 if there is none.
func (f *Frame) RadioStatus() byte {
	b := f.statusField()
	if b == nil {
		return 0
	}
	return b[0]
}

// SetRadioStatus writes the status byte.
func (f *Frame) SetRadioStatus(status byte) {
	if b := f.statusField(); b != nil {
		b[0] = status
	}
}

// radioOpt returns the optional data block if it has the radio layout.
func (f *Frame) radioOpt() []byte {
	if f.OptDataLength() < RadioOptDataSize {
		return nil
	}
	return f.OptionalData()
}

// RadioSubtelegrams returns the subtelegram count, or 0.
func (f *Frame) RadioSubtelegrams() int {
	o := f.radioOpt()
	if o == nil {
		return 0
	}
	return int(o[0])
}

// SetRadioSubtelegrams sets the subtelegram count.
func (f *Frame) SetRadioSubtelegrams(n uint8) {
	if o := f.radioOpt(); o != nil {
		o[0] = n
	}
}

// RadioDestination returns the destination ID, or 0.
func (f *Frame) RadioDestination() Address {
	o := f.radioOpt()
	if o == nil {
		return 0
	}
	return Address(binary.BigEndian.Uint32(o[1:5]))
}

// SetRadioDestination sets the destination ID.
func (f *Frame) SetRadioDestination(a Address) {
	if o := f.radioOpt(); o != nil {
		binary.BigEndian.PutUint32(o[1:5], uint32(a))
	}
}

// RadioDBm returns the received signal strength in dBm (negative), or 0.
func (f *Frame) RadioDBm() int {
	o := f.radioOpt()
	if o == nil {
		return 0
	}
	return -int(o[5])
}

// SetRadioDBm stores the signal strength magnitude. Positive values are
// taken as magnitudes as well.
func (f *Frame) SetRadioDBm(dbm int) {
	o := f.radioOpt()
	if o == nil {
		return
	}
	if dbm < 0 {
		dbm = -dbm
	}
	if dbm > 0xFF {
		dbm = 0xFF
	}
	o[5] = byte(dbm)
}

// RadioSecurityLevel returns the security level (0 = unencrypted).
func (f *Frame) RadioSecurityLevel() int {
	o := f.radioOpt()
	if o == nil {
		return 0
	}
	return int(o[6])
}

// SetRadioSecurityLevel sets the security level.
func (f *Frame) SetRadioSecurityLevel(level uint8) {
	if o := f.radioOpt(); o != nil {
		o[6] = level
	}
}

// HasTeachInfo reports whether the telegram announces device identity.
//
// RPS telegrams are always candidates since they carry no learn bit.
// 1BS and 4BS telegrams qualify when their learn bit is clear, and smart
// acknowledge learn requests always qualify. VLD and unknown kinds never do.
//
// A non-zero minRSSI adds a signal gate requiring RadioDBm() > minRSSI.
// The gate applies to kinds with explicit teach-in information, and to RPS
// only when requireRSSIForAll is set.
//
// Parameters:
//   - minRSSI: minimum signal in dBm (e.g. -70), 0 disables the gate
//   - requireRSSIForAll: also gate RPS telegrams
//
// Returns:
//   - bool: true if the telegram should be treated as a teach-in
func (f *Frame) HasTeachInfo(minRSSI int, requireRSSIForAll bool) bool {
	strongEnough := minRSSI == 0 || f.RadioDBm() > minRSSI
	ud := f.RadioUserData()

	switch f.RadioOrg() {
	case RORGRPS:
		if len(ud) < rpsUserData {
			return false
		}
		return !requireRSSIForAll || strongEnough
	case RORG1BS:
		if len(ud) < oneBSUserData {
			return false
		}
		return ud[0]&LearnBit == 0 && strongEnough
	case RORG4BS:
		if len(ud) < fourBSUserData {
			return false
		}
		return ud[3]&LearnBit == 0 && strongEnough
	case RORGSMLrnReq:
		if len(ud) < 5 { //nolint:mnd // manufacturer + EEP fields
			return false
		}
		return strongEnough
	default:
		return false
	}
}

// Profile derives the equipment profile from the telegram.
//
// RPS telegrams yield an approximation from the status and data bits;
// 1BS and 4BS only yield a profile in teach-in telegrams; smart
// acknowledge learn requests carry the full profile. Everything else
// returns ProfileUnknown.
func (f *Frame) Profile() Profile {
	rorg := f.RadioOrg()
	ud := f.RadioUserData()

	switch rorg {
	case RORGRPS:
		if len(ud) < rpsUserData {
			return ProfileUnknown
		}
		status := f.RadioStatus()
		switch {
		case status&StatusT21 == 0:
			// 4-rocker switch, type not derivable
			return NewProfile(rorg, 0x03, TypeUnknown) //nolint:mnd // F6-03
		case ud[0]&0x80 != 0 && status&StatusNU == 0:
			// window handle
			return NewProfile(rorg, 0x10, 0x00) //nolint:mnd // F6-10-00
		case ud[0]&0x80 == 0:
			// 2-rocker switch (key card telegrams look the same)
			return NewProfile(rorg, 0x02, TypeUnknown) //nolint:mnd // F6-02
		}
	case RORG1BS:
		if f.HasTeachInfo(0, false) {
			// single input contact is the only defined 1BS profile
			return NewProfile(rorg, 0x00, 0x01) //nolint:mnd // D5-00-01
		}
	case RORG4BS:
		if f.HasTeachInfo(0, false) {
			fn := ud[0] >> 2
			typ := (ud[0]&0x03)<<5 | ud[1]>>3
			return NewProfile(rorg, fn, typ)
		}
	case RORGSMLrnReq:
		if f.HasTeachInfo(0, false) {
			return NewProfile(RORG(ud[2]), ud[3], ud[4])
		}
	}
	return ProfileUnknown
}

// Manufacturer returns the manufacturer ID carried by 4BS teach-in
// telegrams and smart acknowledge learn requests.
func (f *Frame) Manufacturer() Manufacturer {
	if !f.HasTeachInfo(0, false) {
		return ManufacturerUnknown
	}
	ud := f.RadioUserData()
	switch f.RadioOrg() {
	case RORG4BS:
		return Manufacturer(ud[1]&0x07)<<8 | Manufacturer(ud[2])
	case RORGSMLrnReq:
		return Manufacturer(ud[0]&0x07)<<8 | Manufacturer(ud[1])
	default:
		return ManufacturerUnknown
	}
}

// InitForKind resets the frame and shapes it as an outbound radio telegram
// of the given kind, with zeroed user data and optional data defaults
// (subtelegrams 3, dBm 0xFF, unencrypted, destination 0).
//
// RPS and 1BS get one user data byte, 4BS four, SM_LRN_REQ ten. VLD size is
// clamped to 1..14, other kinds to what fits in MaxPayloadSize. The size
// argument is ignored for fixed-size kinds.
func (f *Frame) InitForKind(kind RORG, size int) {
	f.Reset()
	f.SetType(FrameTypeRadio)
	f.SetOptDataLength(RadioOptDataSize)

	var n int
	switch kind {
	case RORGRPS:
		n = rpsUserData
	case RORG1BS:
		n = oneBSUserData
	case RORG4BS:
		n = fourBSUserData
	case RORGSMLrnReq:
		n = smLrnReqUserData
	case RORGVLD:
		n = min(max(size, vldMinUserData), vldMaxUserData)
	default:
		n = min(max(size, 0), maxRadioUserData)
	}

	// VLD carries an extra CRC byte after the status.
	dataLen := n + radioFixedBytes
	if kind == RORGVLD {
		dataLen++
	}
	f.SetDataLength(uint16(dataLen)) //nolint:gosec // at most maxRadioUserData+1

	f.Data()[0] = byte(kind)
	o := f.OptionalData()
	o[0] = DefaultSubtelegrams
	o[5] = DBmSendSentinel
	o[6] = 0
}

// Get4BSData returns the four user data bytes of a 4BS telegram as a
// big-endian word, or 0 for other kinds.
func (f *Frame) Get4BSData() uint32 {
	if f.RadioOrg() != RORG4BS {
		return 0
	}
	ud := f.RadioUserData()
	if len(ud) < fourBSUserData {
		return 0
	}
	return binary.BigEndian.Uint32(ud)
}

// Set4BSData writes the four user data bytes of a 4BS telegram.
func (f *Frame) Set4BSData(v uint32) error {
	if f.RadioOrg() != RORG4BS {
		return fmt.Errorf("%w: %s is not 4BS", ErrWrongKind, f.RadioOrg())
	}
	ud := f.RadioUserData()
	if len(ud) < fourBSUserData {
		return fmt.Errorf("%w: 4BS telegram has %d user data bytes", ErrWrongKind, len(ud))
	}
	binary.BigEndian.PutUint32(ud, v)
	return nil
}

// Set4BSTeachInEEP writes FUNC and TYPE into a 4BS teach-in telegram:
//
//	D[0]: f f f f f f t t   (6 FUNC bits, upper 2 TYPE bits)
//	D[1]: t t t t t m m m   (lower 5 TYPE bits, manufacturer bits kept)
//
// The telegram and the profile must both be 4BS.
func (f *Frame) Set4BSTeachInEEP(p Profile) error {
	if f.RadioOrg() != RORG4BS || p.RORG() != RORG4BS {
		return fmt.Errorf("%w: teach-in EEP %s on %s telegram", ErrWrongKind, p, f.RadioOrg())
	}
	ud := f.RadioUserData()
	if len(ud) < fourBSUserData {
		return fmt.Errorf("%w: 4BS telegram has %d user data bytes", ErrWrongKind, len(ud))
	}
	ud[0] = p.Func()<<2 | (p.Type()>>5)&0x03
	ud[1] = ud[1]&0x07 | (p.Type()&0x1F)<<3
	return nil
}

// Set4BSTeachInManufacturer writes the 11-bit manufacturer ID into a 4BS
// teach-in telegram, keeping the TYPE bits of D[1].
func (f *Frame) Set4BSTeachInManufacturer(m Manufacturer) error {
	if f.RadioOrg() != RORG4BS {
		return fmt.Errorf("%w: %s is not 4BS", ErrWrongKind, f.RadioOrg())
	}
	ud := f.RadioUserData()
	if len(ud) < fourBSUserData {
		return fmt.Errorf("%w: 4BS telegram has %d user data bytes", ErrWrongKind, len(ud))
	}
	ud[1] = ud[1]&0xF8 | byte(m>>8)&0x07
	ud[2] = byte(m)
	return nil
}

// Response return codes.
const (
	ReturnOK              byte = 0x00
	ReturnError           byte = 0x01
	ReturnNotSupported    byte = 0x02
	ReturnWrongParam      byte = 0x03
	ReturnOperationDenied byte = 0x04
)

// ReturnCode returns the first data byte of a response frame, or -1 for
// other frame types.
func (f *Frame) ReturnCode() int {
	if f.Type() != FrameTypeResponse || f.DataLength() < 1 {
		return -1
	}
	return int(f.Data()[0])
}

// ReturnCodeName returns a symbolic name for a response return code.
func ReturnCodeName(code int) string {
	switch code {
	case int(ReturnOK):
		return "OK"
	case int(ReturnError):
		return "ERROR"
	case int(ReturnNotSupported):
		return "NOT_SUPPORTED"
	case int(ReturnWrongParam):
		return "WRONG_PARAM"
	case int(ReturnOperationDenied):
		return "OPERATION_DENIED"
	default:
		return fmt.Sprintf("RET_%d", code)
	}
}

// String returns a one-line summary suitable for logging.
func (f *Frame) String() string {
	if !f.IsComplete() {
		return fmt.Sprintf("incomplete ESP3 frame in state %s", f.state)
	}
	switch f.Type() {
	case FrameTypeRadio:
		return fmt.Sprintf("ESP3 radio %s sender=%s status=0x%02X dBm=%d",
			f.RadioOrg(), f.RadioSender(), f.RadioStatus(), f.RadioDBm())
	case FrameTypeResponse:
		return fmt.Sprintf("ESP3 response %s", ReturnCodeName(f.ReturnCode()))
	default:
		return fmt.Sprintf("ESP3 %s data=%d opt=%d", f.Type(), f.DataLength(), f.OptDataLength())
	}
}

// Describe returns a multi-line human-readable dump of the frame: a radio
// or response summary, teach-in details when present, and the raw data
// and optional data bytes.
func (f *Frame) Describe() string {
	if !f.IsComplete() {
		return fmt.Sprintf("Incomplete ESP3 frame in state %s\n", f.state)
	}

	var sb strings.Builder
	switch f.Type() {
	case FrameTypeRadio:
		fmt.Fprintf(&sb, "ESP3 RADIO rorg=0x%02X, sender=0x%s, status=0x%02X\n",
			byte(f.RadioOrg()), f.RadioSender(), f.RadioStatus())
		fmt.Fprintf(&sb, "- subtelegrams=%d, destination=0x%s, dBm=%d, secLevel=%d\n",
			f.RadioSubtelegrams(), f.RadioDestination(), f.RadioDBm(), f.RadioSecurityLevel())
		if f.HasTeachInfo(0, false) {
			m := f.Manufacturer()
			fmt.Fprintf(&sb, "- Is Learn-In frame: EEP %s, Manufacturer = %s (%03X)\n",
				f.Profile(), m.Name(), uint16(m))
		}
	case FrameTypeResponse:
		fmt.Fprintf(&sb, "ESP3 response frame, return code = %d (%s)\n",
			f.ReturnCode(), ReturnCodeName(f.ReturnCode()))
	default:
		fmt.Fprintf(&sb, "ESP3 %s frame\n", f.Type())
	}

	writeHexLine(&sb, "data", f.Data())
	if f.Type() == FrameTypeRadio {
		writeHexLine(&sb, "opt ", f.OptionalData())
	}
	return sb.String()
}

func writeHexLine(sb *strings.Builder, label string, b []byte) {
	fmt.Fprintf(sb, "- %3d %s bytes:", len(b), label)
	for _, c := range b {
		fmt.Fprintf(sb, " %02X", c)
	}
	sb.WriteByte('\n')
}
