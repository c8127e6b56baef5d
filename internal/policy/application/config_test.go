package application

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	content := `
defaults:
  report_interval_s: 120
  sleep_report_interval_s: 1800
  delta_thresholds:
    temp_c: 0.5
  cost_caps:
    daily_energy_wh: 500
devices:
  dev-override:
    report_interval_s: 30
alert_rules:
  - metric: battery_pct
    alert_type: BATTERY_LOW
    trigger: 20
    recover: 25
    severity: warning
    message: battery below threshold
quiet_hours: "22:00-06:00"
notification_cooldown_s: 600
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("POLICY_CONFIG", path)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Defaults.ReportIntervalS != 120 {
		t.Fatalf("expected report interval 120, got %d", cfg.Defaults.ReportIntervalS)
	}
	if len(cfg.AlertRules) != 1 || cfg.AlertRules[0].AlertType != "BATTERY_LOW" {
		t.Fatalf("unexpected alert rules %+v", cfg.AlertRules)
	}
	if cfg.NotificationCooldownS != 600 {
		t.Fatalf("expected cooldown 600, got %d", cfg.NotificationCooldownS)
	}

	override := cfg.SettingsFor("dev-override")
	if override.ReportIntervalS != 30 {
		t.Fatalf("expected override interval 30, got %d", override.ReportIntervalS)
	}
	if override.SleepReportIntervalS != 1800 {
		t.Fatal("override must inherit unset defaults")
	}
	if cfg.SettingsFor("other").ReportIntervalS != 120 {
		t.Fatal("unknown device must get defaults")
	}
}

func TestLoadConfigRejectsBadRules(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	content := `
alert_rules:
  - metric: battery_pct
    alert_type: BATTERY_LOW
    trigger: 25
    recover: 20
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("POLICY_CONFIG", path)

	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error for recover below trigger")
	}
}

func TestParseQuietHours(t *testing.T) {
	start, end, err := ParseQuietHours("22:00-06:30")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if start != 22*60 || end != 6*60+30 {
		t.Fatalf("unexpected window %d-%d", start, end)
	}
	if _, _, err := ParseQuietHours("22-06"); err == nil {
		t.Fatal("expected error for missing minutes")
	}
	if _, _, err := ParseQuietHours("25:00-06:00"); err == nil {
		t.Fatal("expected error for invalid hour")
	}
	if s, e, err := ParseQuietHours(""); err != nil || s != 0 || e != 0 {
		t.Fatal("empty quiet hours must parse to an empty window")
	}
}
