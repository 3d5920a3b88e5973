package medicine

import "testing"

func TestParseClockTime(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw    string
		hour   int
		minute int
		ok     bool
	}{
		{raw: "08:00", hour: 8, minute: 0, ok: true},
		{raw: "23:59", hour: 23, minute: 59, ok: true},
		{raw: "0:05", hour: 0, minute: 5, ok: true},
		{raw: " 12:30 ", hour: 12, minute: 30, ok: true},
		{raw: "24:00", ok: false},
		{raw: "12:60", ok: false},
		{raw: "noon", ok: false},
		{raw: "12", ok: false},
		{raw: "-1:00", ok: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseClockTime(tt.raw)
			if tt.ok != (err == nil) {
				t.Fatalf("ParseClockTime(%q) error = %v, want ok=%v", tt.raw, err, tt.ok)
			}
			if !tt.ok {
				return
			}
			if got.Hour != tt.hour || got.Minute != tt.minute {
				t.Fatalf("ParseClockTime(%q) = %d:%d, want %d:%d", tt.raw, got.Hour, got.Minute, tt.hour, tt.minute)
			}
		})
	}
}

func TestClockTimeString(t *testing.T) {
	t.Parallel()
	if got := (ClockTime{Hour: 8, Minute: 5}).String(); got != "08:05" {
		t.Fatalf("String() = %q, want 08:05", got)
	}
}

func TestClockTimeOrdering(t *testing.T) {
	t.Parallel()
	a := MustClockTime("08:00")
	b := MustClockTime("20:30")
	if !a.Before(b) || b.Before(a) {
		t.Fatalf("expected %v < %v", a, b)
	}
	if !a.Equal(MustClockTime("8:0")) {
		t.Fatal("equality must compare normalized hour/minute")
	}
}
