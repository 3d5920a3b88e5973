package medicine

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ClockTime is a wall-clock hour/minute pair independent of any date.
// The canonical serialized form is zero-padded 24-hour "HH:mm".
type ClockTime struct {
	Hour   int
	Minute int
}

// ParseClockTime parses "HH:mm" (zero padding optional on input).
func ParseClockTime(s string) (ClockTime, error) {
	raw := strings.TrimSpace(s)
	parts := strings.Split(raw, ":")
	if len(parts) != 2 {
		return ClockTime{}, fmt.Errorf("invalid time %q, expected HH:mm", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return ClockTime{}, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return ClockTime{}, fmt.Errorf("invalid minute in %q", s)
	}
	return ClockTime{Hour: h, Minute: m}, nil
}

// MustClockTime is a test/helper constructor that panics on bad input.
func MustClockTime(s string) ClockTime {
	t, err := ParseClockTime(s)
	if err != nil {
		panic(err)
	}
	return t
}

func (t ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// MinuteOfDay returns the offset from midnight, used for ordering.
func (t ClockTime) MinuteOfDay() int { return t.Hour*60 + t.Minute }

func (t ClockTime) Before(o ClockTime) bool { return t.MinuteOfDay() < o.MinuteOfDay() }

func (t ClockTime) Equal(o ClockTime) bool { return t.Hour == o.Hour && t.Minute == o.Minute }

func (t ClockTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *ClockTime) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	ct, err := ParseClockTime(s)
	if err != nil {
		return err
	}
	*t = ct
	return nil
}
