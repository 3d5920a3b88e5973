package medicine

import "encoding/json"

// SlotSet is an ordered, deduplicated collection of reminder clock times
// belonging to one medicine.
//
// Insertion order is load-bearing: the index of a time within the set is the
// slot index used to derive its alarm id. Removing an element shifts the
// indices of everything after it, so callers must cancel and re-derive all
// alarms for the medicine after any removal.
type SlotSet struct {
	times []ClockTime
}

// NewSlotSet builds a set from already-normalized times, silently dropping
// duplicates. Intended for loading from storage; interactive mutation should
// go through Add so rejections surface.
func NewSlotSet(times ...ClockTime) SlotSet {
	var s SlotSet
	for _, t := range times {
		if !s.Contains(t) {
			s.times = append(s.times, t)
		}
	}
	return s
}

// ParseSlotSet parses a stored list of "HH:mm" strings.
func ParseSlotSet(raw []string) (SlotSet, error) {
	times := make([]ClockTime, 0, len(raw))
	for _, r := range raw {
		t, err := ParseClockTime(r)
		if err != nil {
			return SlotSet{}, err
		}
		times = append(times, t)
	}
	return NewSlotSet(times...), nil
}

// Add appends t and returns its slot index.
// It fails with ErrDuplicateTime or ErrCapacityExceeded; on failure the set
// is unchanged.
func (s *SlotSet) Add(t ClockTime, f Frequency) (int, error) {
	if s.Contains(t) {
		return 0, ErrDuplicateTime
	}
	if len(s.times) >= f.MaxSlots() {
		return 0, ErrCapacityExceeded
	}
	s.times = append(s.times, t)
	return len(s.times) - 1, nil
}

// Remove deletes the slot at index i, shifting later slots left.
func (s *SlotSet) Remove(i int) error {
	if i < 0 || i >= len(s.times) {
		return ErrIndexOutOfRange
	}
	s.times = append(s.times[:i], s.times[i+1:]...)
	return nil
}

// TruncateToCap drops trailing times beyond f's slot cap and returns the
// dropped times so the caller can report the (user-visible) loss.
func (s *SlotSet) TruncateToCap(f Frequency) []ClockTime {
	limit := f.MaxSlots()
	if len(s.times) <= limit {
		return nil
	}
	dropped := append([]ClockTime(nil), s.times[limit:]...)
	s.times = s.times[:limit]
	return dropped
}

func (s *SlotSet) Len() int { return len(s.times) }

func (s *SlotSet) Contains(t ClockTime) bool { return s.IndexOf(t) >= 0 }

// IndexOf returns the current slot index of t, or -1 when absent. The index
// is positional: edits to earlier slots shift it.
func (s *SlotSet) IndexOf(t ClockTime) int {
	for i, x := range s.times {
		if x.Equal(t) {
			return i
		}
	}
	return -1
}

// Times returns the clock times in insertion order (copy).
func (s *SlotSet) Times() []ClockTime {
	return append([]ClockTime(nil), s.times...)
}

// Strings returns the canonical "HH:mm" forms in insertion order.
func (s *SlotSet) Strings() []string {
	out := make([]string, len(s.times))
	for i, t := range s.times {
		out[i] = t.String()
	}
	return out
}

func (s SlotSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Strings())
}

func (s *SlotSet) UnmarshalJSON(b []byte) error {
	var raw []string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	set, err := ParseSlotSet(raw)
	if err != nil {
		return err
	}
	*s = set
	return nil
}
