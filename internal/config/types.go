package config

// Config is the daemon's on-disk configuration (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	// Timezone for resolving reminder wall-clock times (IANA name, e.g.
	// "Europe/Warsaw"). Empty means the host's local zone.
	Timezone string `json:"timezone,omitempty"`

	Logging  LoggingConfig   `json:"logging"`
	Telegram *TelegramConfig `json:"telegram,omitempty"`
	Storage  StorageConfig   `json:"storage"`

	Alarms   *AlarmsConfig   `json:"alarms,omitempty"`
	Delivery *DeliveryConfig `json:"delivery,omitempty"`
	Resync   *ResyncConfig   `json:"resync,omitempty"`
	API      *APIConfig      `json:"api,omitempty"`
	Medinfo  *MedinfoConfig  `json:"medinfo,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./medicared.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// AlarmsConfig controls the alarm registrar. If the whole section is
// omitted, alarms default to enabled.
type AlarmsConfig struct {
	Enabled        *bool  `json:"enabled,omitempty"`
	Workers        int    `json:"workers,omitempty"`
	QueueSize      int    `json:"queue_size,omitempty"`
	HistorySize    int    `json:"history_size,omitempty"`
	HandlerTimeout string `json:"handler_timeout,omitempty"`
}

// DeliveryConfig controls the reminder delivery pipeline. If the whole
// section is omitted, delivery defaults to enabled.
type DeliveryConfig struct {
	Enabled         *bool  `json:"enabled,omitempty"`
	Workers         int    `json:"workers,omitempty"`
	QueueSize       int    `json:"queue_size,omitempty"`
	RatePerSec      int    `json:"rate_per_sec,omitempty"`
	RetryMax        int    `json:"retry_max,omitempty"`
	RetryBase       string `json:"retry_base,omitempty"`
	RetryMaxDelay   string `json:"retry_max_delay,omitempty"`
	DedupWindow     string `json:"dedup_window,omitempty"`
	DedupMaxEntries int    `json:"dedup_max_entries,omitempty"`
}

// ResyncConfig controls the nightly full reschedule.
type ResyncConfig struct {
	Enabled *bool `json:"enabled,omitempty"`
	// Spec is a cron expression; default "5 0 * * *".
	Spec string `json:"spec,omitempty"`
}

type APIConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address,omitempty"` // default "127.0.0.1:8080"
	SessionTTL string `json:"session_ttl,omitempty"`
	LinkTTL    string `json:"link_ttl,omitempty"`
}

type MedinfoConfig struct {
	Enabled bool   `json:"enabled"`
	BaseURL string `json:"base_url,omitempty"`
	Timeout string `json:"timeout,omitempty"`
}

// EnabledOrDefault resolves an optional enabled flag; omitted means def.
func EnabledOrDefault(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}
