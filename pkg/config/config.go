// Package config holds certwatch settings and loads them from YAML files and
// the environment.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/praetorian-inc/certwatch/pkg/matcher"
	"github.com/praetorian-inc/certwatch/pkg/notify"
	"gopkg.in/yaml.v3"
)

// Environment variables read by ApplyEnv.
const (
	EnvRegexFile   = "CERTWATCH_REGEX_FILE"
	EnvURL         = "CERTWATCH_URL"
	EnvWebhookURL  = "CERTWATCH_WEBHOOK_URL"
	EnvDebug       = "CERTWATCH_DEBUG"
	EnvConcurrency = "CERTWATCH_CONCURRENCY"
	EnvMetricsAddr = "CERTWATCH_METRICS_ADDR"
)

// Config holds all configuration for certwatch.
type Config struct {
	// Input
	RegexFile    string   `yaml:"regex_file"`
	IncludeRules []string `yaml:"include_rules"`
	ExcludeRules []string `yaml:"exclude_rules"`
	Engine       string   `yaml:"engine"`

	// Feed connection
	URL          string        `yaml:"url"`
	MaxAttempts  int           `yaml:"max_attempts"`
	PingInterval time.Duration `yaml:"ping_interval"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	Concurrency  int           `yaml:"concurrency"`

	// Output
	Output         string        `yaml:"output"`
	Color          string        `yaml:"color"`
	WebhookURL     string        `yaml:"webhook_url"`
	WebhookFormat  string        `yaml:"webhook_format"`
	WebhookRetries int           `yaml:"webhook_retries"`
	WebhookTimeout time.Duration `yaml:"webhook_timeout"`

	// Operations
	Debug       bool   `yaml:"debug"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		RegexFile:      "regexes.txt",
		Engine:         matcher.EngineRegexp,
		URL:            "ws://127.0.0.1:4000/",
		PingInterval:   30 * time.Second,
		ReadTimeout:    90 * time.Second,
		Output:         notify.OutputLines,
		Color:          notify.ColorAuto,
		WebhookFormat:  notify.FormatSlack,
		WebhookTimeout: 10 * time.Second,
	}
}

// LoadFile overlays the YAML document at path onto c. Keys absent from the
// file keep their current values; unknown keys are an error.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := c.parse(data); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) parse(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ApplyEnv overrides c with the CERTWATCH_* variables returned by lookup
// (normally os.LookupEnv). Empty values are ignored.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		return v, ok && v != ""
	}

	if v, ok := get(EnvRegexFile); ok {
		c.RegexFile = v
	}
	if v, ok := get(EnvURL); ok {
		c.URL = v
	}
	if v, ok := get(EnvWebhookURL); ok {
		c.WebhookURL = v
	}
	if v, ok := get(EnvMetricsAddr); ok {
		c.MetricsAddr = v
	}
	if v, ok := get(EnvDebug); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s value %q: %w", EnvDebug, v, err)
		}
		c.Debug = b
	}
	if v, ok := get(EnvConcurrency); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s value %q: %w", EnvConcurrency, v, err)
		}
		c.Concurrency = n
	}
	return nil
}

// Validate checks field values. All problems are reported together.
func (c *Config) Validate() error {
	var errs []error

	if c.RegexFile == "" {
		errs = append(errs, errors.New("regex_file is required"))
	}
	if err := validateURL(c.URL, "ws", "wss"); err != nil {
		errs = append(errs, fmt.Errorf("url: %w", err))
	}
	if c.WebhookURL != "" {
		if err := validateURL(c.WebhookURL, "http", "https"); err != nil {
			errs = append(errs, fmt.Errorf("webhook_url: %w", err))
		}
	}

	errs = append(errs,
		oneOf("engine", c.Engine, matcher.EngineRegexp, matcher.EngineHyperscan),
		oneOf("output", c.Output, notify.OutputLines, notify.OutputJoined, notify.OutputJSON),
		oneOf("color", c.Color, notify.ColorAuto, notify.ColorAlways, notify.ColorNever),
		oneOf("webhook_format", c.WebhookFormat, notify.FormatSlack, notify.FormatJSON),
	)

	if c.MaxAttempts < 0 {
		errs = append(errs, errors.New("max_attempts must be non-negative"))
	}
	if c.WebhookRetries < 0 {
		errs = append(errs, errors.New("webhook_retries must be non-negative"))
	}
	if c.PingInterval < 0 {
		errs = append(errs, errors.New("ping_interval must be non-negative"))
	}
	if c.ReadTimeout < 0 {
		errs = append(errs, errors.New("read_timeout must be non-negative"))
	}
	if c.WebhookTimeout <= 0 {
		errs = append(errs, errors.New("webhook_timeout must be positive"))
	}
	if c.PingInterval > 0 && c.ReadTimeout > 0 && c.ReadTimeout <= c.PingInterval {
		errs = append(errs, fmt.Errorf("read_timeout (%s) must exceed ping_interval (%s)", c.ReadTimeout, c.PingInterval))
	}

	return errors.Join(errs...)
}

func validateURL(raw string, schemes ...string) error {
	if raw == "" {
		return errors.New("is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	for _, s := range schemes {
		if u.Scheme == s {
			if u.Host == "" {
				return fmt.Errorf("%q has no host", raw)
			}
			return nil
		}
	}
	return fmt.Errorf("%q: scheme must be one of %v", raw, schemes)
}

func oneOf(field, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("%s: %q is not one of %v", field, value, allowed)
}
