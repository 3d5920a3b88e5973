package config

import (
	"reflect"
	"sort"
	"strings"

	logx "medicared/pkg/logx"
)

// SummarizeConfigChange returns a compact list of changed sections and safe
// structured attrs for logging (never includes secrets like the bot token).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	if strings.TrimSpace(oldCfg.Timezone) != strings.TrimSpace(newCfg.Timezone) {
		changed = append(changed, "timezone")
		attrs = append(attrs, logx.String("timezone", strings.TrimSpace(newCfg.Timezone)))
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	// Telegram (never log token)
	oTg, nTg := derefTelegram(oldCfg.Telegram), derefTelegram(newCfg.Telegram)
	if (oldCfg.Telegram != nil) != (newCfg.Telegram != nil) ||
		strings.TrimSpace(oTg.PollTimeout) != strings.TrimSpace(nTg.PollTimeout) ||
		(strings.TrimSpace(oTg.Token) != "") != (strings.TrimSpace(nTg.Token) != "") {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_set", strings.TrimSpace(nTg.Token) != ""),
			logx.String("telegram.poll_timeout", strings.TrimSpace(nTg.PollTimeout)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newCfg.Storage.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(newCfg.Storage.Path) != ""),
		)
	}

	if !ptrEqual(oldCfg.Alarms, newCfg.Alarms) {
		changed = append(changed, "alarms")
		a := derefAlarms(newCfg.Alarms)
		attrs = append(attrs,
			logx.Bool("alarms.enabled", EnabledOrDefault(a.Enabled, true)),
			logx.Int("alarms.workers", a.Workers),
			logx.Int("alarms.queue_size", a.QueueSize),
		)
	}

	if !ptrEqual(oldCfg.Delivery, newCfg.Delivery) {
		changed = append(changed, "delivery")
		d := derefDelivery(newCfg.Delivery)
		attrs = append(attrs,
			logx.Bool("delivery.enabled", EnabledOrDefault(d.Enabled, true)),
			logx.Int("delivery.workers", d.Workers),
			logx.Int("delivery.rate_per_sec", d.RatePerSec),
			logx.Int("delivery.retry_max", d.RetryMax),
		)
	}

	if !ptrEqual(oldCfg.Resync, newCfg.Resync) {
		changed = append(changed, "resync")
		r := derefResync(newCfg.Resync)
		attrs = append(attrs,
			logx.Bool("resync.enabled", EnabledOrDefault(r.Enabled, true)),
			logx.String("resync.spec", strings.TrimSpace(r.Spec)),
		)
	}

	if !ptrEqual(oldCfg.API, newCfg.API) {
		changed = append(changed, "api")
		a := derefAPI(newCfg.API)
		attrs = append(attrs,
			logx.Bool("api.enabled", a.Enabled),
			logx.String("api.address", strings.TrimSpace(a.Address)),
		)
	}

	if !ptrEqual(oldCfg.Medinfo, newCfg.Medinfo) {
		changed = append(changed, "medinfo")
		m := derefMedinfo(newCfg.Medinfo)
		attrs = append(attrs,
			logx.Bool("medinfo.enabled", m.Enabled),
			logx.Bool("medinfo.base_url_set", strings.TrimSpace(m.BaseURL) != ""),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

func ptrEqual[T any](a, b *T) bool {
	if (a == nil) != (b == nil) {
		return false
	}
	if a == nil {
		return true
	}
	return reflect.DeepEqual(*a, *b)
}

func derefTelegram(c *TelegramConfig) TelegramConfig {
	if c == nil {
		return TelegramConfig{}
	}
	return *c
}

func derefAlarms(c *AlarmsConfig) AlarmsConfig {
	if c == nil {
		return AlarmsConfig{}
	}
	return *c
}

func derefDelivery(c *DeliveryConfig) DeliveryConfig {
	if c == nil {
		return DeliveryConfig{}
	}
	return *c
}

func derefResync(c *ResyncConfig) ResyncConfig {
	if c == nil {
		return ResyncConfig{}
	}
	return *c
}

func derefAPI(c *APIConfig) APIConfig {
	if c == nil {
		return APIConfig{}
	}
	return *c
}

func derefMedinfo(c *MedinfoConfig) MedinfoConfig {
	if c == nil {
		return MedinfoConfig{}
	}
	return *c
}
