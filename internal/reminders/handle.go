package reminders

// slotSpan is the number of alarm ids reserved per medicine. Slot indices are
// always far below it (the largest frequency allows 100 times), so the
// mapping below is injective for any realistic medicine id.
const slotSpan = 1000

// AlarmID derives the stable alarm identifier for one (medicine, slot) pair.
// The same pair always maps to the same id, which is what makes registering
// idempotent and cancelling exact.
func AlarmID(medicineID int64, slot int) int64 {
	return medicineID*slotSpan + int64(slot)
}

// SplitAlarmID recovers the (medicine, slot) pair from an alarm id.
func SplitAlarmID(id int64) (medicineID int64, slot int) {
	return id / slotSpan, int(id % slotSpan)
}
