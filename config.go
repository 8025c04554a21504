package smartboot

import (
	"github.com/hazyhaar/smartboot/internal/config"
)

// Config is the top-level smartboot configuration. Re-exported from internal.
type Config = config.Config

// LoaderConfig tunes the bootstrap.
type LoaderConfig = config.LoaderConfig

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig = config.BrowserConfig

// PageConfig defines a page to probe.
type PageConfig = config.PageConfig

// SinkConfig defines an output backend.
type SinkConfig = config.SinkConfig

// LoadConfigFile reads a YAML configuration file.
func LoadConfigFile(path string) (*Config, error) {
	return config.LoadFile(path)
}

// DefaultConfig returns a configuration with defaults and SMARTBOOT_*
// environment overrides applied.
func DefaultConfig() (*Config, error) {
	cfg := config.Default()
	if err := config.ApplyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
