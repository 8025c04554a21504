package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sample = `
loader:
  host: http://127.0.0.1:9999
  settings_tolerance: 500ms
browser:
  stealth: plain
  resource_blocking: [images, fonts]
pages:
  - url: https://qa.example.com/?id=55555
  - url: https://qa.example.com/?sync
    driver: browser
    cookie: _vis_opt_exp_1_combi=2
sinks:
  - type: stdout
  - type: webhook
    url: http://127.0.0.1:9000/hook
store:
  path: /tmp/smartboot/runs.db
`

func writeFile(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "smartboot.yaml")
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFile(t *testing.T) {
	cfg, err := LoadFile(writeFile(t, sample))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Loader.SettingsTolerance != 500*time.Millisecond {
		t.Errorf("SettingsTolerance: got %v", cfg.Loader.SettingsTolerance)
	}
	if cfg.Loader.Grace != time.Second {
		t.Errorf("Grace default: got %v", cfg.Loader.Grace)
	}
	if len(cfg.Pages) != 2 || cfg.Pages[0].Driver != "html" || cfg.Pages[1].Driver != "browser" {
		t.Errorf("Pages: %+v", cfg.Pages)
	}
	if len(cfg.Sinks) != 2 || cfg.Sinks[1].URL != "http://127.0.0.1:9000/hook" {
		t.Errorf("Sinks: %+v", cfg.Sinks)
	}
	if len(cfg.Browser.ResourceBlocking) != 2 {
		t.Errorf("ResourceBlocking: %v", cfg.Browser.ResourceBlocking)
	}
	if cfg.HTTP.Addr != "127.0.0.1:8095" {
		t.Errorf("HTTP.Addr default: got %q", cfg.HTTP.Addr)
	}

	ov := cfg.Overrides()
	if ov.Host != "http://127.0.0.1:9999" || ov.SettingsTolerance != 500*time.Millisecond {
		t.Errorf("Overrides: %+v", ov)
	}
}

func TestLoadFile_EnvOverrides(t *testing.T) {
	t.Setenv("SMARTBOOT_SETTINGS_TOLERANCE", "3s")
	t.Setenv("SMARTBOOT_DB", "/var/lib/smartboot/runs.db")
	t.Setenv("SMARTBOOT_BLOCK", "media,stylesheets,images")

	cfg, err := LoadFile(writeFile(t, sample))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Loader.SettingsTolerance != 3*time.Second {
		t.Errorf("SettingsTolerance: got %v, want 3s", cfg.Loader.SettingsTolerance)
	}
	if cfg.Store.Path != "/var/lib/smartboot/runs.db" {
		t.Errorf("Store.Path: got %q", cfg.Store.Path)
	}
	if len(cfg.Browser.ResourceBlocking) != 3 {
		t.Errorf("ResourceBlocking: got %v", cfg.Browser.ResourceBlocking)
	}
	if cfg.Loader.Host != "http://127.0.0.1:9999" {
		t.Errorf("unset variable changed Host: %q", cfg.Loader.Host)
	}
}

func TestLoadFile_Errors(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := LoadFile(writeFile(t, "loader: [")); err == nil {
		t.Error("expected error for bad yaml")
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Browser.Stealth != "headless" || cfg.Browser.NavigateTimeout != 30*time.Second {
		t.Errorf("browser defaults: %+v", cfg.Browser)
	}
	if ov := cfg.Overrides(); ov.Host != "" || ov.SettingsTolerance != 0 {
		t.Errorf("empty overrides expected: %+v", ov)
	}
}
