package enocean

import (
	"encoding/hex"
	"math"
	"strings"

	"github.com/nerrad567/gray-logic-enocean/internal/bridges/enocean/esp3"
)

// EEP decoding constants.
const (
	// rockerButtonShift extracts the rocker action code from the RPS data byte.
	rockerButtonShift = 5

	// rockerEnergyBow is set while a rocker is held down.
	rockerEnergyBow = 0x10

	// tempSpan is the width of every A5-02 temperature range (°C).
	tempSpan = 40.0

	// byteFullScale is the raw full-scale value of an 8-bit reading.
	byteFullScale = 255.0

	// humidityFullScale is the raw value of 100 % RH in A5-04-01.
	humidityFullScale = 250.0

	// occupancyThreshold is the DB1 value from which A5-07-01 reports motion.
	occupancyThreshold = 128
)

// rockerButtons names the rocker action codes of F6-02-xx.
var rockerButtons = [4]string{"A1", "A0", "B1", "B0"}

// a502Ranges holds the lower bound (°C) of each A5-02-xx type.
// Every range spans 40 K and is transmitted inverted in DB1.
var a502Ranges = map[byte]float64{
	0x01: -40, 0x02: -30, 0x03: -20, 0x04: -10,
	0x05: 0, 0x06: 10, 0x07: 20, 0x08: 30,
	0x09: 40, 0x0A: 50, 0x0B: 60,
}

// decodeState turns a radio telegram into a state map. Raw fields are
// always present; decoded fields are added when the profile is one the
// bridge understands and matches the telegram kind.
//
// Parameters:
//   - profile: Configured EEP of the sender (ProfileUnknown for none)
//   - f: Complete radio frame
//
// Returns:
//   - map[string]any: State for the MQTT state message
func decodeState(profile esp3.Profile, f *esp3.Frame) map[string]any {
	ud := f.RadioUserData()
	state := map[string]any{
		"rorg":   f.RadioOrg().String(),
		"data":   strings.ToUpper(hex.EncodeToString(ud)),
		"status": int(f.RadioStatus()),
	}

	if profile.IsUnknown() || profile.RORG() != f.RadioOrg() || len(ud) == 0 {
		return state
	}

	switch profile.RORG() {
	case esp3.RORGRPS:
		if profile.Func() == 0x02 { //nolint:mnd // F6-02 rocker switch
			decodeRocker(state, ud[0], f.RadioStatus())
		}
	case esp3.RORG1BS:
		if profile.Func() == 0x00 && profile.Type() == 0x01 && ud[0]&esp3.LearnBit != 0 {
			decodeContact(state, ud[0])
		}
	case esp3.RORG4BS:
		if len(ud) < 4 || ud[3]&esp3.LearnBit == 0 { //nolint:mnd // DB3..DB0
			return state // teach-in, no measurement
		}
		decode4BS(state, profile, ud)
	}

	return state
}

// decodeRocker decodes F6-02-xx. With NU set the data byte names the
// button; with NU clear it reports how many buttons are held.
func decodeRocker(state map[string]any, data, status byte) {
	pressed := data&rockerEnergyBow != 0
	state["pressed"] = pressed

	if status&esp3.StatusNU != 0 {
		state["button"] = rockerButtons[(data>>rockerButtonShift)&0x03]
		return
	}
	if pressed {
		state["buttons"] = int(data >> rockerButtonShift)
	}
}

// decodeContact decodes D5-00-01 (single input contact).
func decodeContact(state map[string]any, data byte) {
	if data&0x01 != 0 {
		state["contact"] = "closed"
	} else {
		state["contact"] = "open"
	}
}

// decode4BS decodes the supported 4BS sensor profiles.
// ud is DB3..DB0.
func decode4BS(state map[string]any, profile esp3.Profile, ud []byte) {
	switch profile.Func() {
	case 0x02: //nolint:mnd // A5-02 temperature sensors
		lower, ok := a502Ranges[profile.Type()]
		if !ok {
			return
		}
		state["temperature"] = round1(lower + (byteFullScale-float64(ud[2]))*tempSpan/byteFullScale)
	case 0x04: //nolint:mnd // A5-04 temperature and humidity
		if profile.Type() != 0x01 {
			return
		}
		state["humidity"] = round1(float64(ud[1]) * 100 / humidityFullScale)
		if ud[3]&0x02 != 0 {
			state["temperature"] = round1(float64(ud[2]) * tempSpan / humidityFullScale)
		}
	case 0x07: //nolint:mnd // A5-07 occupancy
		if profile.Type() != 0x01 {
			return
		}
		state["occupied"] = ud[2] >= occupancyThreshold
	}
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10 //nolint:mnd // one decimal place
}
