package notify

import (
	"time"

	"medicared/internal/transport"
)

// Config controls the async reminder delivery pipeline.
type Config struct {
	Enabled         bool
	Workers         int
	QueueSize       int
	RatePerSec      int
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
}

// Reminder is one due medication reminder ready for delivery. A zero Chat
// means the user has no linked chat; the reminder is then written to the log
// instead of being sent.
type Reminder struct {
	UserID     int64
	MedicineID int64
	Slot       int
	Name       string
	Dosage     string
	Time       string // slot label, "HH:mm"
	Chat       transport.ChatTarget
}

type HistoryItem struct {
	At   time.Time
	Text string
}

// DeliveryEvent is emitted on the event bus for delivery lifecycle events.
type DeliveryEvent struct {
	MedicineID int64     `json:"medicine_id"`
	Slot       int       `json:"slot"`
	ChatID     int64     `json:"chat_id,omitempty"`
	Key        string    `json:"key"`
	At         time.Time `json:"at"`
	Error      string    `json:"error,omitempty"`
}
