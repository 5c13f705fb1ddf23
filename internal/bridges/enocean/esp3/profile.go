package esp3

import (
	"fmt"
	"strconv"
	"strings"
)

// RORG is the radio telegram kind carried in the first data byte.
type RORG byte

// Known telegram kinds.
const (
	RORGInvalid  RORG = 0x00
	RORGRPS      RORG = 0xF6 // repeated switch communication
	RORG1BS      RORG = 0xD5 // one byte communication
	RORG4BS      RORG = 0xA5 // four byte communication
	RORGVLD      RORG = 0xD2 // variable length data
	RORGSMLrnReq RORG = 0xC6 // smart acknowledge learn request
)

// String returns the conventional short name of the kind.
func (r RORG) String() string {
	switch r {
	case RORGRPS:
		return "RPS"
	case RORG1BS:
		return "1BS"
	case RORG4BS:
		return "4BS"
	case RORGVLD:
		return "VLD"
	case RORGSMLrnReq:
		return "SM_LRN_REQ"
	case RORGInvalid:
		return "invalid"
	default:
		return fmt.Sprintf("0x%02X", byte(r))
	}
}

// ParseRORG accepts a kind name ("4BS") or a hex value ("A5", "0xA5").
func ParseRORG(s string) (RORG, error) {
	s = strings.TrimSpace(s)
	for _, r := range []RORG{RORGRPS, RORG1BS, RORG4BS, RORGVLD, RORGSMLrnReq} {
		if strings.EqualFold(s, r.String()) {
			return r, nil
		}
	}
	v, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(s), "0x"), 16, 8)
	if err != nil || v == 0 {
		return RORGInvalid, fmt.Errorf("%w: unknown telegram kind %q", ErrInvalidProfile, s)
	}
	return RORG(v), nil
}

// FuncUnknown and TypeUnknown mark profile fields that could not be derived.
const (
	FuncUnknown byte = 0xFF
	TypeUnknown byte = 0xFF
)

// Profile is an EnOcean Equipment Profile packed as RORG<<16 | FUNC<<8 | TYPE.
type Profile uint32

// ProfileUnknown is returned when no profile can be derived from a telegram.
const ProfileUnknown Profile = Profile(RORGInvalid)<<16 | Profile(FuncUnknown)<<8 | Profile(TypeUnknown)

// NewProfile packs a (kind, function, type) triple.
func NewProfile(rorg RORG, fn, typ byte) Profile {
	return Profile(rorg)<<16 | Profile(fn)<<8 | Profile(typ)
}

// RORG returns the kind field.
func (p Profile) RORG() RORG { return RORG(p >> 16) }

// Func returns the function field.
func (p Profile) Func() byte { return byte(p >> 8) }

// Type returns the type field.
func (p Profile) Type() byte { return byte(p) }

// IsUnknown reports whether the profile carries no usable kind.
func (p Profile) IsUnknown() bool { return p.RORG() == RORGInvalid }

// String formats the profile as "A5-02-05".
func (p Profile) String() string {
	return fmt.Sprintf("%02X-%02X-%02X", byte(p.RORG()), p.Func(), p.Type())
}

// ParseProfile parses an EEP in "A5-02-05" form. Separators may be '-',
// ':' or ' '.
//
// Returns:
//   - Profile: packed profile
//   - error: ErrInvalidProfile if s is not three hex bytes
func ParseProfile(s string) (Profile, error) {
	fields := strings.FieldsFunc(strings.TrimSpace(s), func(r rune) bool {
		return r == '-' || r == ':' || r == ' '
	})
	if len(fields) != 3 { //nolint:mnd // RORG, FUNC, TYPE
		return ProfileUnknown, fmt.Errorf("%w: %q", ErrInvalidProfile, s)
	}
	var parts [3]byte
	for i, field := range fields {
		v, err := strconv.ParseUint(field, 16, 8)
		if err != nil {
			return ProfileUnknown, fmt.Errorf("%w: %q: %v", ErrInvalidProfile, s, err)
		}
		parts[i] = byte(v)
	}
	return NewProfile(RORG(parts[0]), parts[1], parts[2]), nil
}

// MarshalText implements encoding.TextMarshaler.
func (p Profile) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Profile) UnmarshalText(text []byte) error {
	v, err := ParseProfile(string(text))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// Address is a 32-bit EnOcean radio ID.
type Address uint32

// AddressBroadcast is the destination used for unaddressed telegrams.
const AddressBroadcast Address = 0xFFFFFFFF

// String formats the address as eight upper-case hex digits.
func (a Address) String() string {
	return fmt.Sprintf("%08X", uint32(a))
}

// ParseAddress parses an 8-digit hex radio ID, with or without "0x" and
// with optional ':' or '-' separators ("0181A2B3", "01:81:A2:B3").
func ParseAddress(s string) (Address, error) {
	clean := strings.NewReplacer(":", "", "-", "").Replace(strings.TrimSpace(s))
	clean = strings.TrimPrefix(strings.TrimPrefix(clean, "0x"), "0X")
	if clean == "" || len(clean) > 8 { //nolint:mnd // 32-bit ID
		return 0, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	v, err := strconv.ParseUint(clean, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %v", ErrInvalidAddress, s, err)
	}
	return Address(v), nil
}

// MarshalText implements encoding.TextMarshaler.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Address) UnmarshalText(text []byte) error {
	v, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// Manufacturer is the 11-bit EnOcean Alliance manufacturer ID.
type Manufacturer uint16

// ManufacturerUnknown is returned when a telegram carries no manufacturer.
const ManufacturerUnknown Manufacturer = 0xFFFF

var manufacturerNames = map[Manufacturer]string{
	0x000: "Manufacturer Reserved",
	0x001: "Peha",
	0x002: "Thermokon",
	0x003: "Servodan",
	0x004: "EchoFlex Solutions",
	0x005: "Omnio AG",
	0x006: "Hardmeier electronics",
	0x007: "Regulvar Inc",
	0x008: "Ad Hoc Electronics",
	0x009: "Distech Controls",
	0x00A: "Kieback + Peter",
	0x00B: "EnOcean GmbH",
	0x00C: "Probare",
	0x00D: "Eltako",
	0x00E: "Leviton",
	0x00F: "Honeywell",
	0x010: "Spartan Peripheral Devices",
	0x011: "Siemens",
	0x012: "T-Mac",
	0x013: "Reliable Controls Corporation",
	0x014: "Elsner Elektronik GmbH",
	0x015: "Diehl Controls",
	0x016: "BSC Computer",
	0x017: "S+S Regeltechnik GmbH",
	0x018: "Masco Corporation",
	0x019: "Intesis Software SL",
	0x01A: "Viessmann",
	0x01B: "Lutuo Technology",
	0x01C: "CAN2GO",
	0x01D: "Sauter",
	0x01E: "Boot-Up",
	0x01F: "Osram Sylvania",
	0x020: "Unotech",
	0x022: "Unitronic AG",
	0x023: "NanoSense",
	0x024: "The S4 Group",
	0x025: "MSR Solutions",
	0x027: "Maico",
	0x02A: "KM Controls",
	0x02B: "Ecologix Controls",
	0x02D: "Afriso Euro Index",
	0x030: "NEC AccessTechnica Ltd",
	0x031: "ITEC Corporation",
	0x7FF: "Multi user Manufacturer ID",
}

// Name returns the registered manufacturer name, or "<unknown>".
func (m Manufacturer) Name() string {
	if name, ok := manufacturerNames[m]; ok {
		return name
	}
	return "<unknown>"
}

// String formats the ID with its name, e.g. "Eltako (00D)".
func (m Manufacturer) String() string {
	if m == ManufacturerUnknown {
		return "<unknown>"
	}
	return fmt.Sprintf("%s (%03X)", m.Name(), uint16(m))
}
