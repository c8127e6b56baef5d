package application

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	alerts "fleetpulse-cloud/internal/alerts/domain"
)

// Settings are the device-facing knobs a policy resolves to.
type Settings struct {
	ReportIntervalS      int                `yaml:"report_interval_s" json:"report_interval_s"`
	SleepReportIntervalS int                `yaml:"sleep_report_interval_s" json:"sleep_report_interval_s"`
	DeltaThresholds      map[string]float64 `yaml:"delta_thresholds" json:"delta_thresholds"`
	CostCaps             CostCaps           `yaml:"cost_caps" json:"cost_caps"`
}

// CostCaps limit what a device may spend or consume per period.
type CostCaps struct {
	DailyEnergyWh float64 `yaml:"daily_energy_wh" json:"daily_energy_wh"`
	MonthlyCost   float64 `yaml:"monthly_cost" json:"monthly_cost"`
}

// Config is the policy configuration: fleet defaults, per-device overrides
// and the alert threshold rules the engine evaluates.
type Config struct {
	Defaults   Settings              `yaml:"defaults"`
	Devices    map[string]Settings   `yaml:"devices"`
	AlertRules []alerts.ThresholdRule `yaml:"alert_rules"`

	QuietHours            string `yaml:"quiet_hours"`
	NotificationCooldownS int    `yaml:"notification_cooldown_s"`
}

// LoadConfig loads config from yaml or env.
func LoadConfig() (Config, error) {
	cfg := Config{
		Defaults: Settings{
			ReportIntervalS:      getenvIntDefault("POLICY_REPORT_INTERVAL_S", 300),
			SleepReportIntervalS: getenvIntDefault("POLICY_SLEEP_REPORT_INTERVAL_S", 3600),
		},
		QuietHours:            os.Getenv("POLICY_QUIET_HOURS"),
		NotificationCooldownS: getenvIntDefault("NOTIFY_COOLDOWN_S", 300),
	}

	if path := os.Getenv("POLICY_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}

	if cfg.Defaults.ReportIntervalS <= 0 {
		return cfg, errors.New("policy config: report interval must be positive")
	}
	if cfg.Defaults.SleepReportIntervalS <= 0 {
		return cfg, errors.New("policy config: sleep report interval must be positive")
	}
	for _, rule := range cfg.AlertRules {
		if err := rule.Validate(); err != nil {
			return cfg, err
		}
	}
	if _, _, err := ParseQuietHours(cfg.QuietHours); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// SettingsFor resolves the effective settings for a device.
func (c Config) SettingsFor(deviceID string) Settings {
	if c.Devices != nil {
		if override, ok := c.Devices[deviceID]; ok {
			return mergeSettings(c.Defaults, override)
		}
	}
	return c.Defaults
}

// ParseQuietHours parses an "HH:MM-HH:MM" window into minutes since
// midnight. Empty input means no quiet hours.
func ParseQuietHours(raw string) (start, end int, _ error) {
	if raw == "" {
		return 0, 0, nil
	}
	parts := strings.SplitN(raw, "-", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("policy config: invalid quiet hours %q", raw)
	}
	start, err := parseClock(parts[0])
	if err != nil {
		return 0, 0, err
	}
	end, err = parseClock(parts[1])
	if err != nil {
		return 0, 0, err
	}
	return start, end, nil
}

func parseClock(raw string) (int, error) {
	parts := strings.SplitN(strings.TrimSpace(raw), ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("policy config: invalid clock %q", raw)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("policy config: invalid hour %q", raw)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("policy config: invalid minute %q", raw)
	}
	return hour*60 + minute, nil
}

func mergeSettings(base, override Settings) Settings {
	if override.ReportIntervalS != 0 {
		base.ReportIntervalS = override.ReportIntervalS
	}
	if override.SleepReportIntervalS != 0 {
		base.SleepReportIntervalS = override.SleepReportIntervalS
	}
	if len(override.DeltaThresholds) != 0 {
		merged := make(map[string]float64, len(base.DeltaThresholds)+len(override.DeltaThresholds))
		for k, v := range base.DeltaThresholds {
			merged[k] = v
		}
		for k, v := range override.DeltaThresholds {
			merged[k] = v
		}
		base.DeltaThresholds = merged
	}
	if override.CostCaps.DailyEnergyWh != 0 {
		base.CostCaps.DailyEnergyWh = override.CostCaps.DailyEnergyWh
	}
	if override.CostCaps.MonthlyCost != 0 {
		base.CostCaps.MonthlyCost = override.CostCaps.MonthlyCost
	}
	return base
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
