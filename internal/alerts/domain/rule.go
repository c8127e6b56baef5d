package alerts

import (
	"errors"
	"fmt"
)

// ThresholdRule defines a metric alert with a hysteresis band: the alert
// opens when the value crosses below Trigger and resolves only at or above
// Recover. Values oscillating inside the band leave the state unchanged.
type ThresholdRule struct {
	Metric    string  `yaml:"metric" json:"metric"`
	AlertType string  `yaml:"alert_type" json:"alert_type"`
	Trigger   float64 `yaml:"trigger" json:"trigger"`
	Recover   float64 `yaml:"recover" json:"recover"`
	Severity  string  `yaml:"severity" json:"severity"`
	Message   string  `yaml:"message" json:"message"`
}

// Validate checks rule invariants.
func (r ThresholdRule) Validate() error {
	if r.Metric == "" {
		return errors.New("alert rule: empty metric")
	}
	if r.AlertType == "" {
		return errors.New("alert rule: empty alert type")
	}
	if r.AlertType == TypeOffline {
		return fmt.Errorf("alert rule: %s is reserved", TypeOffline)
	}
	if r.Recover < r.Trigger {
		return fmt.Errorf("alert rule %s: recover %.3f below trigger %.3f", r.AlertType, r.Recover, r.Trigger)
	}
	return nil
}

// ShouldTrigger reports whether value newly violates the rule.
func (r ThresholdRule) ShouldTrigger(value float64) bool {
	return value < r.Trigger
}

// ShouldRecover reports whether value clears the hysteresis band.
func (r ThresholdRule) ShouldRecover(value float64) bool {
	return value >= r.Recover
}
