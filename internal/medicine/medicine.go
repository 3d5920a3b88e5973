// Package medicine holds the domain model for medicines and their reminder
// time slots: dosing frequencies with slot caps, normalized clock times, and
// the ordered slot set whose indices anchor alarm identity.
package medicine

import "time"

// Type is the dosage form, stored as a lowercase key.
type Type string

const (
	Tablet    Type = "tablet"
	Capsule   Type = "capsule"
	Liquid    Type = "liquid"
	Injection Type = "injection"
	Topical   Type = "topical"
	Inhaler   Type = "inhaler"
	Drops     Type = "drops"
	Other     Type = "other"
)

var typeLabels = map[Type]string{
	Tablet:    "Tablet",
	Capsule:   "Capsule",
	Liquid:    "Liquid",
	Injection: "Injection",
	Topical:   "Topical",
	Inhaler:   "Inhaler",
	Drops:     "Drops",
	Other:     "Other",
}

// Label returns the display name; unknown keys render as-is.
func (t Type) Label() string {
	if l, ok := typeLabels[t]; ok {
		return l
	}
	return string(t)
}

// Medicine is one tracked medication for one user.
//
// The reminder engine reads ID, UserID, Name, Dosage, Frequency, Times and
// Active; it never mutates a record.
type Medicine struct {
	ID        int64      `json:"id"`
	UserID    int64      `json:"user_id"`
	Name      string     `json:"name"`
	Dosage    string     `json:"dosage"`
	Frequency Frequency  `json:"frequency"`
	Times     SlotSet    `json:"times"`
	Type      Type       `json:"medicine_type"`
	Notes     string     `json:"notes,omitempty"`
	StartDate *time.Time `json:"start_date,omitempty"`
	EndDate   *time.Time `json:"end_date,omitempty"`
	Active    bool       `json:"is_active"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// AddTime appends a reminder time, enforcing the current frequency's cap.
func (m *Medicine) AddTime(t ClockTime) (int, error) {
	return m.Times.Add(t, m.Frequency)
}

// RemoveTime deletes the slot at index i. All remaining alarm handles are
// invalidated by the shift; callers reschedule the whole medicine.
func (m *Medicine) RemoveTime(i int) error {
	return m.Times.Remove(i)
}

// SetFrequency switches the dosing frequency and truncates excess trailing
// times. The dropped times are returned for user-visible reporting; the
// truncation is deliberate, never silent.
func (m *Medicine) SetFrequency(f Frequency) []ClockTime {
	m.Frequency = f
	return m.Times.TruncateToCap(f)
}

// ExpiringSoon reports whether the validity window ends within 7 days.
func (m *Medicine) ExpiringSoon(now time.Time) bool {
	if m.EndDate == nil {
		return false
	}
	left := m.EndDate.Sub(now)
	return left >= 0 && left <= 7*24*time.Hour
}
