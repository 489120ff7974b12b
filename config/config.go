// Package config loads the station configuration from a YAML or TOML file
// with environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/sunterra/fieldrecord/capture"
	"github.com/sunterra/fieldrecord/kvstore"
)

// Duration is a time.Duration read from "30s"-style strings in both file
// formats.
type Duration time.Duration

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// D returns d as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

// Config is the top-level station configuration.
type Config struct {
	Listen    string `yaml:"listen" toml:"listen"`
	DataDir   string `yaml:"data_dir" toml:"data_dir"`
	LogLevel  string `yaml:"log_level" toml:"log_level"`
	LogFormat string `yaml:"log_format" toml:"log_format"` // json | text
	// Timezone is the IANA zone dates are interpreted in. Default: local.
	Timezone string `yaml:"timezone" toml:"timezone"`

	Storage      StorageConfig      `yaml:"storage" toml:"storage"`
	Autosave     AutosaveConfig     `yaml:"autosave" toml:"autosave"`
	Connectivity ConnectivityConfig `yaml:"connectivity" toml:"connectivity"`
	Capture      CaptureConfig      `yaml:"capture" toml:"capture"`
	Platforms    []PlatformConfig   `yaml:"platforms" toml:"platforms"`
	Browser      BrowserConfig      `yaml:"browser" toml:"browser"`
	Discovery    DiscoveryConfig    `yaml:"discovery" toml:"discovery"`
	MCP          MCPConfig          `yaml:"mcp" toml:"mcp"`
}

// StorageConfig selects the draft backend.
type StorageConfig struct {
	Driver string `yaml:"driver" toml:"driver"` // sqlite | bolt | memory
	Path   string `yaml:"path" toml:"path"`
}

// AutosaveConfig controls the debounce window.
type AutosaveConfig struct {
	Window Duration `yaml:"window" toml:"window"`
}

// ConnectivityConfig controls the liveness probe.
type ConnectivityConfig struct {
	ProbeURL      string   `yaml:"probe_url" toml:"probe_url"`
	Interval      Duration `yaml:"interval" toml:"interval"`
	Timeout       Duration `yaml:"timeout" toml:"timeout"`
	FailThreshold int      `yaml:"fail_threshold" toml:"fail_threshold"`
	RestoredFor   Duration `yaml:"restored_for" toml:"restored_for"`
}

// CaptureConfig controls rasterisation and where exports are written.
type CaptureConfig struct {
	PageWidth   int      `yaml:"page_width" toml:"page_width"`
	SettleDelay Duration `yaml:"settle_delay" toml:"settle_delay"`
	MaxScale    float64  `yaml:"max_scale" toml:"max_scale"`
	MinScale    float64  `yaml:"min_scale" toml:"min_scale"`
	ScaleStep   float64  `yaml:"scale_step" toml:"scale_step"`
	ExportDir   string   `yaml:"export_dir" toml:"export_dir"`
}

// PlatformConfig is one User-Agent rule.
type PlatformConfig struct {
	Name         string `yaml:"name" toml:"name"`
	Pattern      string `yaml:"pattern" toml:"pattern"`
	PixelCeiling int64  `yaml:"pixel_ceiling" toml:"pixel_ceiling"`
	InlineImage  bool   `yaml:"inline_image" toml:"inline_image"`
}

// BrowserConfig controls the headless Chrome used for captures.
type BrowserConfig struct {
	RemoteURL     string `yaml:"remote_url" toml:"remote_url"`
	Bin           string `yaml:"bin" toml:"bin"`
	Headful       bool   `yaml:"headful" toml:"headful"`
	LaunchRetries uint64 `yaml:"launch_retries" toml:"launch_retries"`
}

// DiscoveryConfig controls mDNS advertisement on the LAN.
type DiscoveryConfig struct {
	MDNS     bool   `yaml:"mdns" toml:"mdns"`
	Instance string `yaml:"instance" toml:"instance"`
}

// MCPConfig toggles the MCP endpoint.
type MCPConfig struct {
	HTTP bool `yaml:"http" toml:"http"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads path (YAML, or TOML when the extension is .toml), applies
// environment overrides and fills defaults. An empty or missing path
// yields the defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("config: read: %w", err)
		default:
			if err := unmarshal(path, data, cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", filepath.Base(path), err)
			}
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func unmarshal(path string, data []byte, cfg *Config) error {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return toml.Unmarshal(data, cfg)
	}
	return yaml.Unmarshal(data, cfg)
}

func (c *Config) applyEnv() error {
	if v, ok := os.LookupEnv("ITR_LISTEN"); ok {
		c.Listen = v
	}
	if v, ok := os.LookupEnv("ITR_DATA_DIR"); ok {
		c.DataDir = v
	}
	if v, ok := os.LookupEnv("LOG_LEVEL"); ok {
		c.LogLevel = v
	}
	if v, ok := os.LookupEnv("ITR_MDNS"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: ITR_MDNS: %w", err)
		}
		c.Discovery.MDNS = b
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8480"
	}
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "json"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = kvstore.DriverSQLite
	}
	if c.Autosave.Window <= 0 {
		c.Autosave.Window = Duration(500 * time.Millisecond)
	}
	if c.Connectivity.ProbeURL == "" {
		c.Connectivity.ProbeURL = "http://connectivitycheck.gstatic.com/generate_204"
	}
	if c.Connectivity.Interval <= 0 {
		c.Connectivity.Interval = Duration(30 * time.Second)
	}
	if c.Connectivity.Timeout <= 0 {
		c.Connectivity.Timeout = Duration(5 * time.Second)
	}
	if c.Connectivity.FailThreshold <= 0 {
		c.Connectivity.FailThreshold = 2
	}
	if c.Connectivity.RestoredFor <= 0 {
		c.Connectivity.RestoredFor = Duration(2 * time.Second)
	}
	if c.Capture.PageWidth <= 0 {
		c.Capture.PageWidth = 794
	}
	if c.Capture.SettleDelay <= 0 {
		c.Capture.SettleDelay = Duration(200 * time.Millisecond)
	}
	if c.Capture.MaxScale <= 0 {
		c.Capture.MaxScale = capture.DefaultScalePolicy.Max
	}
	if c.Capture.MinScale <= 0 {
		c.Capture.MinScale = capture.DefaultScalePolicy.Min
	}
	if c.Capture.ScaleStep <= 0 {
		c.Capture.ScaleStep = capture.DefaultScalePolicy.Step
	}
	if c.Capture.ExportDir == "" {
		c.Capture.ExportDir = filepath.Join(c.DataDir, "exports")
	}
	if c.Platforms == nil {
		for _, r := range capture.DefaultPlatformRules {
			c.Platforms = append(c.Platforms, PlatformConfig{
				Name:         r.Platform.Name,
				Pattern:      r.Pattern,
				PixelCeiling: r.Platform.PixelCeiling,
				InlineImage:  r.Platform.InlineImage,
			})
		}
	}
	if c.Browser.LaunchRetries == 0 {
		c.Browser.LaunchRetries = 3
	}
	if c.Discovery.Instance == "" {
		c.Discovery.Instance = "ITR field station"
	}
}

// Validate checks values defaults cannot repair.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case kvstore.DriverSQLite, kvstore.DriverBolt, kvstore.DriverMemory:
	default:
		return fmt.Errorf("config: unknown storage driver %q", c.Storage.Driver)
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("config: unknown log format %q", c.LogFormat)
	}
	if c.Capture.MaxScale > capture.DefaultScalePolicy.Max {
		return fmt.Errorf("config: capture max_scale %v above %v", c.Capture.MaxScale, capture.DefaultScalePolicy.Max)
	}
	if c.Capture.MinScale < capture.DefaultScalePolicy.Min {
		return fmt.Errorf("config: capture min_scale %v below %v", c.Capture.MinScale, capture.DefaultScalePolicy.Min)
	}
	if c.Capture.ScaleStep < capture.DefaultScalePolicy.Step {
		return fmt.Errorf("config: capture scale_step %v below %v", c.Capture.ScaleStep, capture.DefaultScalePolicy.Step)
	}
	if c.Capture.MinScale > c.Capture.MaxScale {
		return fmt.Errorf("config: capture min_scale %v above max_scale %v", c.Capture.MinScale, c.Capture.MaxScale)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if _, err := capture.CompilePlatforms(c.PlatformRules()); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Location resolves Timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("config: timezone: %w", err)
	}
	return loc, nil
}

// PlatformRules converts the platform table for the capture pipeline.
func (c *Config) PlatformRules() []capture.PlatformRule {
	rules := make([]capture.PlatformRule, 0, len(c.Platforms))
	for _, p := range c.Platforms {
		rules = append(rules, capture.PlatformRule{
			Pattern: p.Pattern,
			Platform: capture.Platform{
				Name:         p.Name,
				PixelCeiling: p.PixelCeiling,
				InlineImage:  p.InlineImage,
			},
		})
	}
	return rules
}

// ScalePolicy returns the capture scale ladder.
func (c *Config) ScalePolicy() capture.ScalePolicy {
	return capture.ScalePolicy{Max: c.Capture.MaxScale, Min: c.Capture.MinScale, Step: c.Capture.ScaleStep}
}
