package medicine

import (
	"fmt"
	"strings"
)

// Frequency is the declared dosing frequency of a medicine.
// The string value is the stable storage key.
type Frequency string

const (
	OnceDaily       Frequency = "once_daily"
	TwiceDaily      Frequency = "twice_daily"
	ThreeTimesDaily Frequency = "three_times_daily"
	FourTimesDaily  Frequency = "four_times_daily"
	Every6Hours     Frequency = "every_6_hours"
	Every8Hours     Frequency = "every_8_hours"
	Every12Hours    Frequency = "every_12_hours"
	AsNeeded        Frequency = "as_needed"
)

// AsNeededCap is the practical slot ceiling for "as needed" medicines.
// It exists so alarm id derivation has a hard upper bound per medicine.
const AsNeededCap = 100

// Frequencies lists all valid kinds in display order.
var Frequencies = []Frequency{
	OnceDaily, TwiceDaily, ThreeTimesDaily, FourTimesDaily,
	Every6Hours, Every8Hours, Every12Hours, AsNeeded,
}

var frequencySlots = map[Frequency]int{
	OnceDaily:       1,
	TwiceDaily:      2,
	ThreeTimesDaily: 3,
	FourTimesDaily:  4,
	Every6Hours:     4,
	Every8Hours:     3,
	Every12Hours:    2,
	AsNeeded:        AsNeededCap,
}

var frequencyLabels = map[Frequency]string{
	OnceDaily:       "Once daily",
	TwiceDaily:      "Twice daily",
	ThreeTimesDaily: "Three times daily",
	FourTimesDaily:  "Four times daily",
	Every6Hours:     "Every 6 hours",
	Every8Hours:     "Every 8 hours",
	Every12Hours:    "Every 12 hours",
	AsNeeded:        "As needed",
}

// ParseFrequency validates a storage key.
func ParseFrequency(s string) (Frequency, error) {
	f := Frequency(strings.TrimSpace(strings.ToLower(s)))
	if !f.Valid() {
		return "", fmt.Errorf("unknown frequency %q", s)
	}
	return f, nil
}

func (f Frequency) Valid() bool {
	_, ok := frequencySlots[f]
	return ok
}

// MaxSlots returns the reminder slot cap for the frequency.
// Unknown kinds fall back to 1 so callers never divide by or loop to zero.
func (f Frequency) MaxSlots() int {
	if n, ok := frequencySlots[f]; ok {
		return n
	}
	return 1
}

// Unbounded reports whether the cap is the AsNeeded sentinel rather than a
// real clinical limit.
func (f Frequency) Unbounded() bool { return f == AsNeeded }

// Label returns the human-readable name for the frequency.
func (f Frequency) Label() string {
	if l, ok := frequencyLabels[f]; ok {
		return l
	}
	return string(f)
}
