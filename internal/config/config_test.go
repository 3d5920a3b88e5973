package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestParseJSON(t *testing.T) {
	t.Parallel()
	path := writeTemp(t, "config.json", `{
		"timezone": "Europe/Warsaw",
		"logging": {"level": "debug", "console": true, "file": {"enabled": false, "path": ""}},
		"storage": {"driver": "sqlite", "path": "./medicared.db"},
		"api": {"enabled": true, "address": "127.0.0.1:9090"}
	}`)
	cfg, err := NewConfigManager(path).Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Timezone != "Europe/Warsaw" || cfg.Storage.Driver != "sqlite" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.API == nil || cfg.API.Address != "127.0.0.1:9090" {
		t.Fatalf("api = %+v", cfg.API)
	}
	if cfg.Telegram != nil {
		t.Fatal("omitted telegram section should stay nil")
	}
}

func TestParseYAML(t *testing.T) {
	t.Parallel()
	path := writeTemp(t, "config.yaml", `
timezone: America/New_York
logging:
  level: info
  console: true
  file:
    enabled: true
    path: ./medicared.log
storage:
  driver: file
  path: ./store.json
delivery:
  enabled: true
  workers: 3
  retry_base: 250ms
`)
	cfg, err := NewConfigManager(path).Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Timezone != "America/New_York" || !cfg.Logging.File.Enabled {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Delivery == nil || cfg.Delivery.Workers != 3 || cfg.Delivery.RetryBase != "250ms" {
		t.Fatalf("delivery = %+v", cfg.Delivery)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	path := writeTemp(t, "config.json", `{"logging": {}, "storage": {"driver": "sqlite", "path": "x"}, "no_such_key": 1}`)
	if _, err := NewConfigManager(path).Parse(); err == nil {
		t.Fatal("expected error for unknown top-level key")
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	t.Parallel()
	path := writeTemp(t, "config.json", `{"logging": {}, "storage": {"driver": "sqlite", "path": "x"}} {"extra": true}`)
	if _, err := NewConfigManager(path).Parse(); err == nil {
		t.Fatal("expected error for trailing JSON")
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationField("x", "750ms"); err != nil || d.Milliseconds() != 750 {
		t.Fatalf("ParseDurationField = %v, %v", d, err)
	}
	if d, err := ParseDurationField("x", ""); err != nil || d != 0 {
		t.Fatalf("empty = %v, %v", d, err)
	}
	if _, err := ParseDurationField("x", "-5s"); err == nil {
		t.Fatal("negative duration should error")
	}
	if _, err := ParseDurationField("x", "banana"); err == nil {
		t.Fatal("junk duration should error")
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{
		Timezone: "UTC",
		Storage:  StorageConfig{Driver: "sqlite", Path: "a.db"},
	}
	newCfg := &Config{
		Timezone: "Europe/Warsaw",
		Storage:  StorageConfig{Driver: "sqlite", Path: "a.db"},
		API:      &APIConfig{Enabled: true, Address: ":8080"},
	}
	changed, _ := SummarizeConfigChange(oldCfg, newCfg)
	want := map[string]bool{"timezone": true, "api": true}
	if len(changed) != len(want) {
		t.Fatalf("changed = %v", changed)
	}
	for _, c := range changed {
		if !want[c] {
			t.Fatalf("unexpected changed section %q in %v", c, changed)
		}
	}

	changed, _ = SummarizeConfigChange(newCfg, newCfg)
	if len(changed) != 0 {
		t.Fatalf("identical configs produced changes: %v", changed)
	}
}

func TestEnabledOrDefault(t *testing.T) {
	t.Parallel()
	if !EnabledOrDefault(nil, true) {
		t.Fatal("nil should default true")
	}
	f := false
	if EnabledOrDefault(&f, true) {
		t.Fatal("explicit false must win over default")
	}
}
