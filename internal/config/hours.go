package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// BusinessHours configures the after-hours cancellation window at
// minute granularity. A window that wraps past midnight is not
// supported: Start must precede End within the same day.
type BusinessHours struct {
	Enabled     bool `yaml:"enabled"`
	StartHour   int  `yaml:"start_hour"`
	StartMinute int  `yaml:"start_minute"`
	EndHour     int  `yaml:"end_hour"`
	EndMinute   int  `yaml:"end_minute"`
}

// DefaultHours returns the department's standard 08:00–17:00 window.
func DefaultHours() BusinessHours {
	return BusinessHours{
		Enabled:     true,
		StartHour:   8,
		StartMinute: 0,
		EndHour:     17,
		EndMinute:   0,
	}
}

// LoadHours reads business hours from a YAML file. A missing file is
// not an error: defaults apply so the service can start on a fresh
// deployment without a config tree.
func LoadHours(path string) (BusinessHours, error) {
	h := DefaultHours()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return h, nil
		}
		return h, err
	}
	if err := yaml.Unmarshal(data, &h); err != nil {
		return DefaultHours(), err
	}
	return h, nil
}
