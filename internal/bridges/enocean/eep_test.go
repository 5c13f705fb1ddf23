package enocean

import (
	"testing"

	"github.com/nerrad567/gray-logic-enocean/internal/bridges/enocean/esp3"
)

// fourBSFrame builds a 4BS telegram carrying data (DB3..DB0).
func fourBSFrame(t *testing.T, data uint32) *esp3.Frame {
	t.Helper()
	f := esp3.NewFrame()
	f.InitForKind(esp3.RORG4BS, 0)
	if err := f.Set4BSData(data); err != nil {
		t.Fatalf("Set4BSData() error = %v", err)
	}
	f.SetRadioSender(0x0181A2B3)
	return f
}

// singleByteFrame builds an RPS or 1BS telegram.
func singleByteFrame(t *testing.T, rorg esp3.RORG, data, status byte) *esp3.Frame {
	t.Helper()
	f := esp3.NewFrame()
	f.InitForKind(rorg, 0)
	f.RadioUserData()[0] = data
	f.SetRadioStatus(status)
	f.SetRadioSender(0x0086B81A)
	return f
}

func mustProfile(t *testing.T, s string) esp3.Profile {
	t.Helper()
	p, err := esp3.ParseProfile(s)
	if err != nil {
		t.Fatalf("ParseProfile(%q) error = %v", s, err)
	}
	return p
}

func TestDecodeStateRawFields(t *testing.T) {
	state := decodeState(esp3.ProfileUnknown, mustFrame(t, rpsFrame))

	if state["rorg"] != "RPS" {
		t.Errorf("rorg = %v, want RPS", state["rorg"])
	}
	if state["data"] != "30" {
		t.Errorf("data = %v, want 30", state["data"])
	}
	if state["status"] != 0x30 {
		t.Errorf("status = %v, want 48", state["status"])
	}
	if len(state) != 3 {
		t.Errorf("state = %v, want raw fields only", state)
	}
}

func TestDecodeState(t *testing.T) {
	tests := []struct {
		name    string
		profile string
		frame   func(t *testing.T) *esp3.Frame
		want    map[string]any
		absent  []string
	}{
		{
			name:    "rocker A0 pressed",
			profile: "F6-02-01",
			frame:   func(t *testing.T) *esp3.Frame { return mustFrame(t, rpsFrame) },
			want:    map[string]any{"button": "A0", "pressed": true},
		},
		{
			name:    "rocker B0 pressed",
			profile: "F6-02-02",
			frame: func(t *testing.T) *esp3.Frame {
				return singleByteFrame(t, esp3.RORGRPS, 0x70, esp3.StatusT21|esp3.StatusNU)
			},
			want: map[string]any{"button": "B0", "pressed": true},
		},
		{
			name:    "rocker multiple buttons",
			profile: "F6-02-01",
			frame: func(t *testing.T) *esp3.Frame {
				return singleByteFrame(t, esp3.RORGRPS, 0x70, esp3.StatusT21)
			},
			want:   map[string]any{"buttons": 3, "pressed": true},
			absent: []string{"button"},
		},
		{
			name:    "rocker released",
			profile: "F6-02-01",
			frame: func(t *testing.T) *esp3.Frame {
				return singleByteFrame(t, esp3.RORGRPS, 0x00, esp3.StatusT21)
			},
			want:   map[string]any{"pressed": false},
			absent: []string{"button", "buttons"},
		},
		{
			name:    "contact closed",
			profile: "D5-00-01",
			frame:   func(t *testing.T) *esp3.Frame { return mustFrame(t, oneBSDataFrame) },
			want:    map[string]any{"contact": "closed"},
		},
		{
			name:    "contact open",
			profile: "D5-00-01",
			frame: func(t *testing.T) *esp3.Frame {
				return singleByteFrame(t, esp3.RORG1BS, esp3.LearnBit, 0)
			},
			want: map[string]any{"contact": "open"},
		},
		{
			name:    "contact teach-in",
			profile: "D5-00-01",
			frame: func(t *testing.T) *esp3.Frame {
				return singleByteFrame(t, esp3.RORG1BS, 0x00, 0)
			},
			absent: []string{"contact"},
		},
		{
			name:    "temperature 0..40",
			profile: "A5-02-05",
			frame:   func(t *testing.T) *esp3.Frame { return fourBSFrame(t, 0x00008008) },
			want:    map[string]any{"temperature": 19.9},
		},
		{
			name:    "temperature -40..0 coldest",
			profile: "A5-02-01",
			frame:   func(t *testing.T) *esp3.Frame { return fourBSFrame(t, 0x0000FF08) },
			want:    map[string]any{"temperature": -40.0},
		},
		{
			name:    "temperature unsupported type",
			profile: "A5-02-30",
			frame:   func(t *testing.T) *esp3.Frame { return fourBSFrame(t, 0x00008008) },
			absent:  []string{"temperature"},
		},
		{
			name:    "temperature teach-in",
			profile: "A5-02-05",
			frame:   func(t *testing.T) *esp3.Frame { return mustFrame(t, fourBSTeachInFrame) },
			absent:  []string{"temperature"},
		},
		{
			name:    "humidity and temperature",
			profile: "A5-04-01",
			frame:   func(t *testing.T) *esp3.Frame { return fourBSFrame(t, 0x007DC80A) },
			want:    map[string]any{"humidity": 50.0, "temperature": 32.0},
		},
		{
			name:    "humidity without temperature sensor",
			profile: "A5-04-01",
			frame:   func(t *testing.T) *esp3.Frame { return fourBSFrame(t, 0x007DC808) },
			want:    map[string]any{"humidity": 50.0},
			absent:  []string{"temperature"},
		},
		{
			name:    "occupied",
			profile: "A5-07-01",
			frame:   func(t *testing.T) *esp3.Frame { return fourBSFrame(t, 0x0000C808) },
			want:    map[string]any{"occupied": true},
		},
		{
			name:    "unoccupied",
			profile: "A5-07-01",
			frame:   func(t *testing.T) *esp3.Frame { return fourBSFrame(t, 0x00006408) },
			want:    map[string]any{"occupied": false},
		},
		{
			name:    "profile kind mismatch",
			profile: "A5-02-05",
			frame:   func(t *testing.T) *esp3.Frame { return mustFrame(t, rpsFrame) },
			absent:  []string{"temperature", "button", "pressed"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := decodeState(mustProfile(t, tt.profile), tt.frame(t))

			for key, want := range tt.want {
				if got := state[key]; got != want {
					t.Errorf("%s = %v (%T), want %v (%T)", key, got, got, want, want)
				}
			}
			for _, key := range tt.absent {
				if _, ok := state[key]; ok {
					t.Errorf("%s present = %v, want absent", key, state[key])
				}
			}
			if _, ok := state["rorg"]; !ok {
				t.Error("rorg missing from state")
			}
		})
	}
}
