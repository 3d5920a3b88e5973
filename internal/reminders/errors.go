package reminders

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNothingToSchedule indicates a medicine with no reminder times configured.
var ErrNothingToSchedule = errors.New("no reminder times to schedule")

// SlotError wraps a failure to register one individual alarm slot.
type SlotError struct {
	MedicineID int64
	Slot       int
	Err        error
}

func (e *SlotError) Error() string {
	return fmt.Sprintf("medicine %d slot %d: %v", e.MedicineID, e.Slot, e.Err)
}

func (e *SlotError) Unwrap() error { return e.Err }

// SchedulingError aggregates the per-slot failures of a best-effort batch.
// Slots that did register stay registered; the caller learns exactly which
// ones did not.
type SchedulingError struct {
	Slots []*SlotError
}

func (e *SchedulingError) Error() string {
	if len(e.Slots) == 1 {
		return "scheduling failed: " + e.Slots[0].Error()
	}
	parts := make([]string, 0, len(e.Slots))
	for _, s := range e.Slots {
		parts = append(parts, s.Error())
	}
	return fmt.Sprintf("scheduling failed for %d slots: %s", len(e.Slots), strings.Join(parts, "; "))
}

func (e *SchedulingError) Unwrap() []error {
	errs := make([]error, len(e.Slots))
	for i, s := range e.Slots {
		errs[i] = s
	}
	return errs
}
