package app

import (
	"fmt"
	"strings"
	"time"

	"medicared/internal/api"
	"medicared/internal/config"
	"medicared/internal/medinfo"
	"medicared/internal/notify"
	"medicared/internal/registrar"
	"medicared/internal/reminders"
	"medicared/internal/storage"
	"medicared/internal/transport/telegram"
	logx "medicared/pkg/logx"
)

// The map* helpers translate raw config sections (durations as strings,
// optional sections as pointers) into runtime configs. They double as the
// validation layer for hot reloads: a section that fails to map is rejected
// before anything is applied.

func mapLogging(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorage(cfg *config.Config) (storage.Config, error) {
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	if strings.TrimSpace(cfg.Storage.Path) == "" {
		return storage.Config{}, fmt.Errorf("storage.path is required")
	}
	return storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, nil
}

func mapAlarms(cfg *config.Config) (registrar.Config, error) {
	a := cfg.Alarms
	if a == nil {
		a = &config.AlarmsConfig{}
	}
	timeout, err := config.ParseDurationOrDefault("alarms.handler_timeout", a.HandlerTimeout, 30*time.Second)
	if err != nil {
		return registrar.Config{}, err
	}
	if a.Workers < 0 || a.QueueSize < 0 || a.HistorySize < 0 {
		return registrar.Config{}, fmt.Errorf("alarms: workers, queue_size and history_size must be >= 0")
	}
	return registrar.Config{
		Enabled:        config.EnabledOrDefault(a.Enabled, true),
		Workers:        a.Workers,
		QueueSize:      a.QueueSize,
		HistorySize:    a.HistorySize,
		HandlerTimeout: timeout,
	}, nil
}

func mapDelivery(cfg *config.Config) (notify.Config, error) {
	d := cfg.Delivery
	if d == nil {
		d = &config.DeliveryConfig{}
	}
	retryBase, err := config.ParseDurationField("delivery.retry_base", d.RetryBase)
	if err != nil {
		return notify.Config{}, err
	}
	retryMaxDelay, err := config.ParseDurationField("delivery.retry_max_delay", d.RetryMaxDelay)
	if err != nil {
		return notify.Config{}, err
	}
	dedupWindow, err := config.ParseDurationOrDefault("delivery.dedup_window", d.DedupWindow, 20*time.Hour)
	if err != nil {
		return notify.Config{}, err
	}
	if d.RetryMax < 0 {
		return notify.Config{}, fmt.Errorf("delivery.retry_max must be >= 0")
	}
	return notify.Config{
		Enabled:         config.EnabledOrDefault(d.Enabled, true),
		Workers:         d.Workers,
		QueueSize:       d.QueueSize,
		RatePerSec:      d.RatePerSec,
		RetryMax:        d.RetryMax,
		RetryBase:       retryBase,
		RetryMaxDelay:   retryMaxDelay,
		DedupWindow:     dedupWindow,
		DedupMaxEntries: d.DedupMaxEntries,
	}, nil
}

func mapAPI(cfg *config.Config) (api.Config, error) {
	a := cfg.API
	if a == nil {
		return api.Config{}, nil
	}
	sessionTTL, err := config.ParseDurationField("api.session_ttl", a.SessionTTL)
	if err != nil {
		return api.Config{}, err
	}
	linkTTL, err := config.ParseDurationField("api.link_ttl", a.LinkTTL)
	if err != nil {
		return api.Config{}, err
	}
	return api.Config{
		Enabled:    a.Enabled,
		Address:    a.Address,
		SessionTTL: sessionTTL,
		LinkTTL:    linkTTL,
	}, nil
}

func mapMedinfo(cfg *config.Config) (medinfo.Config, bool, error) {
	m := cfg.Medinfo
	if m == nil || !m.Enabled {
		return medinfo.Config{}, false, nil
	}
	timeout, err := config.ParseDurationField("medinfo.timeout", m.Timeout)
	if err != nil {
		return medinfo.Config{}, false, err
	}
	return medinfo.Config{BaseURL: m.BaseURL, Timeout: timeout}, true, nil
}

func mapTelegram(cfg *config.Config) (telegram.Config, bool, error) {
	t := cfg.Telegram
	if t == nil || strings.TrimSpace(t.Token) == "" {
		return telegram.Config{}, false, nil
	}
	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", t.PollTimeout, 10*time.Second)
	if err != nil {
		return telegram.Config{}, false, err
	}
	return telegram.Config{Token: t.Token, PollTimeout: pollTimeout}, true, nil
}

func mapResyncSpec(cfg *config.Config) (spec string, enabled bool) {
	r := cfg.Resync
	if r == nil {
		return reminders.DefaultResyncSpec, true
	}
	spec = strings.TrimSpace(r.Spec)
	if spec == "" {
		spec = reminders.DefaultResyncSpec
	}
	return spec, config.EnabledOrDefault(r.Enabled, true)
}

func loadLocation(tz string) (*time.Location, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("timezone: invalid %q: %w", tz, err)
	}
	return loc, nil
}
