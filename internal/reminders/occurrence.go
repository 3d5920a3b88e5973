package reminders

import (
	"time"

	"medicared/internal/medicine"
)

// NextInstant resolves a wall-clock slot to its next concrete occurrence:
// today at that time if it is still strictly in the future, otherwise the
// same time tomorrow.
//
// The day rollover uses calendar arithmetic (day+1) rather than adding 24h,
// so the reminder stays pinned to the wall-clock time across DST changes.
func NextInstant(now time.Time, slot medicine.ClockTime, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	local := now.In(loc)
	y, m, d := local.Date()
	at := time.Date(y, m, d, slot.Hour, slot.Minute, 0, 0, loc)
	if at.After(local) {
		return at
	}
	return time.Date(y, m, d+1, slot.Hour, slot.Minute, 0, 0, loc)
}

// NextInstants maps every slot of a set to its next occurrence, preserving
// the set's insertion order so slot indices line up.
func NextInstants(now time.Time, slots medicine.SlotSet, loc *time.Location) []time.Time {
	times := slots.Times()
	out := make([]time.Time, len(times))
	for i, t := range times {
		out[i] = NextInstant(now, t, loc)
	}
	return out
}
