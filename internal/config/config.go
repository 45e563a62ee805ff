// Package config handles loading and validating the vend.yaml
// configuration. A minimal config needs only ven_name and vtn_url;
// everything else has defaults.
package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default periods for the event maintenance jobs, in seconds.
const (
	DefaultEventStatusLogPeriod = 10
	DefaultEventsCleanUpPeriod  = 300
)

// Config represents the top-level vend.yaml configuration.
type Config struct {
	VenName string `yaml:"ven_name"`
	VtnURL  string `yaml:"vtn_url"`
	VenID   string `yaml:"ven_id"`
	Debug   bool   `yaml:"debug"`

	// Security material for the VTN connection.
	Cert             string `yaml:"cert"`
	Key              string `yaml:"key"`
	Passphrase       string `yaml:"passphrase"`
	VtnFingerprint   string `yaml:"vtn_fingerprint"`
	ShowFingerprint  *bool  `yaml:"show_fingerprint"`
	CAFile           string `yaml:"ca_file"`
	DisableSignature bool   `yaml:"disable_signature"`
	CheckHostname    *bool  `yaml:"check_hostname"`

	AllowJitter *bool `yaml:"allow_jitter"`

	// Periods for the event maintenance jobs, in seconds.
	EventStatusLogPeriod int `yaml:"event_status_log_period"`
	EventsCleanUpPeriod  int `yaml:"events_clean_up_period"`

	// Reports declared in config and served by built-in samplers.
	Reports []ReportConfig `yaml:"reports"`
}

// ReportConfig declares one datapoint served by a built-in sampler.
type ReportConfig struct {
	ResourceID        string  `yaml:"resource_id"`
	Measurement       string  `yaml:"measurement"`
	ReportSpecifierID string  `yaml:"report_specifier_id"`
	RID               string  `yaml:"r_id"`
	Source            string  `yaml:"source"` // "constant" or "jitter"
	Value             float64 `yaml:"value"`
	Spread            float64 `yaml:"spread"` // jitter amplitude around value
	SamplingRateMin   string  `yaml:"sampling_rate_min"`
	SamplingRateMax   string  `yaml:"sampling_rate_max"`
}

// Load parses a vend.yaml file and validates it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ResolvePath finds the config file path.
// Priority: VEND_CONFIG env var > ./vend.yaml > "" (no config).
func ResolvePath() string {
	if p := os.Getenv("VEND_CONFIG"); p != "" {
		return p
	}
	if _, err := os.Stat("vend.yaml"); err == nil {
		return "vend.yaml"
	}
	return ""
}

// StatusLogPeriod returns the event status refresh period.
func (c *Config) StatusLogPeriod() time.Duration {
	return time.Duration(c.EventStatusLogPeriod) * time.Second
}

// CleanUpPeriod returns the event cleanup period.
func (c *Config) CleanUpPeriod() time.Duration {
	return time.Duration(c.EventsCleanUpPeriod) * time.Second
}

// HostnameCheck reports whether VTN hostname verification is enabled
// (the default when check_hostname is omitted).
func (c *Config) HostnameCheck() bool {
	return c.CheckHostname == nil || *c.CheckHostname
}

// FingerprintShown reports whether to print the VEN certificate
// fingerprint at startup (the default when show_fingerprint is omitted).
func (c *Config) FingerprintShown() bool {
	return c.ShowFingerprint == nil || *c.ShowFingerprint
}

func (c *Config) applyDefaults() {
	if c.EventStatusLogPeriod <= 0 {
		c.EventStatusLogPeriod = DefaultEventStatusLogPeriod
	}
	if c.EventsCleanUpPeriod <= 0 {
		c.EventsCleanUpPeriod = DefaultEventsCleanUpPeriod
	}
}

// validate checks the required fields and cross-field constraints.
func (c *Config) validate() error {
	if c.VenName == "" {
		return fmt.Errorf("ven_name is required")
	}
	if c.VtnURL == "" {
		return fmt.Errorf("vtn_url is required")
	}
	u, err := url.Parse(c.VtnURL)
	if err != nil || !u.IsAbs() {
		return fmt.Errorf("vtn_url %q must be an absolute URL", c.VtnURL)
	}
	if (c.Cert == "") != (c.Key == "") {
		return fmt.Errorf("cert and key must be set together")
	}
	for i, r := range c.Reports {
		if r.ResourceID == "" {
			return fmt.Errorf("reports[%d]: resource_id is required", i)
		}
		switch r.Source {
		case "", "constant", "jitter":
		default:
			return fmt.Errorf("reports[%d]: source %q must be constant or jitter", i, r.Source)
		}
	}
	return nil
}
