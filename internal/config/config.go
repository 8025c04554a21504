// Package config loads smartboot configuration from a YAML file, then
// applies SMARTBOOT_* environment overrides and defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/smartboot/bootstrap"
)

// Config is the top-level smartboot configuration.
type Config struct {
	Loader  LoaderConfig  `yaml:"loader"`
	Browser BrowserConfig `yaml:"browser"`
	Pages   []PageConfig  `yaml:"pages"`
	Sinks   []SinkConfig  `yaml:"sinks"`
	Store   StoreConfig   `yaml:"store"`
	HTTP    HTTPConfig    `yaml:"http"`
}

// LoaderConfig tunes the bootstrap. Zero values keep the loader defaults.
type LoaderConfig struct {
	Host              string        `yaml:"host"               env:"SMARTBOOT_HOST"`
	SettingsTolerance time.Duration `yaml:"settings_tolerance" env:"SMARTBOOT_SETTINGS_TOLERANCE"`
	LibraryTolerance  time.Duration `yaml:"library_tolerance"  env:"SMARTBOOT_LIBRARY_TOLERANCE"`
	HideElement       string        `yaml:"hide_element"       env:"SMARTBOOT_HIDE_ELEMENT"`
	HideElementStyle  string        `yaml:"hide_element_style" env:"SMARTBOOT_HIDE_ELEMENT_STYLE"`
	// Grace is how long a probe waits past the settings tolerance.
	Grace time.Duration `yaml:"grace" env:"SMARTBOOT_GRACE"`
}

// BrowserConfig controls Chrome for the browser driver.
type BrowserConfig struct {
	Remote           string        `yaml:"remote"            env:"SMARTBOOT_CHROME_URL"`
	Stealth          string        `yaml:"stealth"           env:"SMARTBOOT_STEALTH"` // plain | headless | headful
	ResourceBlocking []string      `yaml:"resource_blocking" env:"SMARTBOOT_BLOCK" envSeparator:","`
	NavigateTimeout  time.Duration `yaml:"navigate_timeout"`
	RecycleInterval  time.Duration `yaml:"recycle_interval"`
	XvfbDisplay      string        `yaml:"xvfb_display"`
}

// PageConfig is a page to probe at startup.
type PageConfig struct {
	URL    string `yaml:"url"`
	Driver string `yaml:"driver"` // html | browser
	Cookie string `yaml:"cookie"`
}

// SinkConfig defines an outcome backend.
type SinkConfig struct {
	Type string `yaml:"type"` // stdout | webhook
	URL  string `yaml:"url"`  // for webhook
}

// StoreConfig locates the run database. An empty path disables it.
type StoreConfig struct {
	Path string `yaml:"path" env:"SMARTBOOT_DB"`
}

// HTTPConfig controls the API listener.
type HTTPConfig struct {
	Addr string `yaml:"addr" env:"SMARTBOOT_ADDR"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// LoadFile reads a YAML configuration file and applies the environment.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := ApplyEnv(&cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// ApplyEnv overrides cfg with the SMARTBOOT_* variables that are set.
func ApplyEnv(cfg *Config) error {
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("config: parse env: %w", err)
	}
	return nil
}

// Overrides converts the loader section for bootstrap.Resolve.
func (c *Config) Overrides() bootstrap.Overrides {
	return bootstrap.Overrides{
		Host:              c.Loader.Host,
		SettingsTolerance: c.Loader.SettingsTolerance,
		LibraryTolerance:  c.Loader.LibraryTolerance,
		HideElement:       c.Loader.HideElement,
		HideElementStyle:  c.Loader.HideElementStyle,
	}
}

func (c *Config) applyDefaults() {
	if c.Loader.Grace <= 0 {
		c.Loader.Grace = time.Second
	}
	if c.Browser.Stealth == "" {
		c.Browser.Stealth = "headless"
	}
	if c.Browser.NavigateTimeout <= 0 {
		c.Browser.NavigateTimeout = 30 * time.Second
	}
	if c.Browser.RecycleInterval <= 0 {
		c.Browser.RecycleInterval = 4 * time.Hour
	}
	if c.Browser.XvfbDisplay == "" {
		c.Browser.XvfbDisplay = ":99"
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = "127.0.0.1:8095"
	}
	for i := range c.Pages {
		if c.Pages[i].Driver == "" {
			c.Pages[i].Driver = "html"
		}
	}
}
