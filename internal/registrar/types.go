package registrar

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("registrar disabled")

// Config controls the alarm registrar service.
type Config struct {
	Enabled        bool
	Workers        int
	QueueSize      int
	HistorySize    int
	HandlerTimeout time.Duration
}

// Payload is the data handed back when an alarm fires. It carries everything
// the delivery side needs so firing never requires a storage read on the hot
// path (the fire handler may still consult storage to re-arm).
type Payload struct {
	MedicineID int64  `json:"medicine_id"`
	UserID     int64  `json:"user_id"`
	Slot       int    `json:"slot"`
	Name       string `json:"name"`
	Dosage     string `json:"dosage"`
	Time       string `json:"time"` // slot label, "HH:mm"
}

// Registration is one pending one-shot alarm.
type Registration struct {
	ID      int64
	At      time.Time
	Payload Payload
}

type HistoryItem struct {
	ID       int64
	At       time.Time // requested instant
	Fired    time.Time
	Duration time.Duration
	Error    string
}

// AlarmEvent is published on the event bus for alarm lifecycle events.
type AlarmEvent struct {
	ID         int64     `json:"id"`
	MedicineID int64     `json:"medicine_id"`
	Slot       int       `json:"slot"`
	At         time.Time `json:"at"`
	Error      string    `json:"error,omitempty"`
}

type Snapshot struct {
	Enabled bool
	Workers int
	Pending []Registration
	History []HistoryItem
}
