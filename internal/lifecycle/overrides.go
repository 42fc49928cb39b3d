package lifecycle

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// intervalOverrides mirrors Intervals but with string durations, the way an
// operator would hand-edit it on disk.
type intervalOverrides struct {
	Wyrm            string `yaml:"wyrm"`
	Wyvern          string `yaml:"wyvern"`
	Supervisor      string `yaml:"supervisor"`
	DrakeMonitor    string `yaml:"drake_monitor"`
	FailureRecovery string `yaml:"failure_recovery"`
}

// LoadIntervalOverrides reads a YAML sidecar file of ticker-interval
// overrides and applies any fields it sets on top of base, leaving base's
// values (already defaulted or operator-set in TOML) untouched where the
// file is silent. Intended to be re-read by the caller on SIGHUP, so an
// operator can retune ticker cadence without a full config reload.
func LoadIntervalOverrides(path string, base Intervals) (Intervals, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("lifecycle: read interval overrides: %w", err)
	}

	var ov intervalOverrides
	if err := yaml.Unmarshal(b, &ov); err != nil {
		return base, fmt.Errorf("lifecycle: parse interval overrides: %w", err)
	}

	out := base
	for _, f := range []struct {
		raw string
		dst *time.Duration
	}{
		{ov.Wyrm, &out.Wyrm},
		{ov.Wyvern, &out.Wyvern},
		{ov.Supervisor, &out.Supervisor},
		{ov.DrakeMonitor, &out.DrakeMonitor},
		{ov.FailureRecovery, &out.FailureRecovery},
	} {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return base, fmt.Errorf("lifecycle: invalid interval override %q: %w", f.raw, err)
		}
		*f.dst = d
	}
	return out, nil
}
