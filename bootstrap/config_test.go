package bootstrap

import (
	"strings"
	"testing"
	"time"
)

func TestResolve_DefaultAccount(t *testing.T) {
	cfg := Resolve("https://qa.example.com/page.html")
	if cfg.AccountID != DefaultAccountID {
		t.Errorf("AccountID: got %q, want %q", cfg.AccountID, DefaultAccountID)
	}
	if cfg.Mode != ModeAsync {
		t.Errorf("Mode: got %s, want async", cfg.Mode)
	}
	if cfg.SettingsTolerance != 2000*time.Millisecond {
		t.Errorf("SettingsTolerance: got %v", cfg.SettingsTolerance)
	}
	if cfg.LibraryTolerance != 2500*time.Millisecond {
		t.Errorf("LibraryTolerance: got %v", cfg.LibraryTolerance)
	}
}

func TestResolve_ExplicitAccount(t *testing.T) {
	cfg := Resolve("https://qa.example.com/page.html?id=55555")
	if cfg.AccountID != "55555" {
		t.Errorf("AccountID: got %q, want %q", cfg.AccountID, "55555")
	}
}

func TestResolve_EmptyIDFallsBack(t *testing.T) {
	cfg := Resolve("https://qa.example.com/?id=")
	if cfg.AccountID != DefaultAccountID {
		t.Errorf("AccountID: got %q, want default", cfg.AccountID)
	}
}

func TestResolve_MalformedAddress(t *testing.T) {
	for _, raw := range []string{"%zz://broken", "http://[::1", "::"} {
		cfg := Resolve(raw)
		if cfg.AccountID != DefaultAccountID {
			t.Errorf("Resolve(%q).AccountID = %q, want default", raw, cfg.AccountID)
		}
	}
}

func TestResolve_AccountFromRawQuery(t *testing.T) {
	tests := []struct {
		url, want string
	}{
		{"http://x.example/a%zz?id=5", "5"},
		{"https://qa.example.com/?id=7#frag?id=8", "7"},
		{"https://qa.example.com/#?id=9", DefaultAccountID},
		{"https://qa.example.com/?x=1&id=10&id=11", "10"},
	}
	for _, tt := range tests {
		if got := Resolve(tt.url).AccountID; got != tt.want {
			t.Errorf("Resolve(%q).AccountID = %q, want %q", tt.url, got, tt.want)
		}
	}
}

func TestResolve_MalformedQueryKeepsGoodPairs(t *testing.T) {
	cfg := Resolve("https://qa.example.com/?bad=%zz&id=777")
	if cfg.AccountID != "777" {
		t.Errorf("AccountID: got %q, want %q", cfg.AccountID, "777")
	}
}

func TestResolve_SyncSubstring(t *testing.T) {
	tests := []struct {
		url  string
		want Mode
	}{
		{"https://qa.example.com/?sync", ModeSync},
		{"https://qa.example.com/?syncmode=1", ModeSync},
		{"https://qa.example.com/?id=9&sync", ModeSync},
		{"https://qa.example.com/async/page", ModeSync},
		{"https://qa.example.com/#sync", ModeSync},
		{"https://qa.example.com/?id=9", ModeAsync},
		{"https://qa.example.com/SYNC", ModeAsync},
	}
	for _, tt := range tests {
		if got := Resolve(tt.url).Mode; got != tt.want {
			t.Errorf("Resolve(%q).Mode = %s, want %s", tt.url, got, tt.want)
		}
	}
}

func TestResolve_Disabled(t *testing.T) {
	if !Resolve("https://qa.example.com/?__vwo_disable__").Disabled {
		t.Error("expected Disabled for __vwo_disable__")
	}
	if Resolve("https://qa.example.com/").Disabled {
		t.Error("unexpected Disabled")
	}
}

func TestResolve_Overrides(t *testing.T) {
	cfg := Resolve("https://qa.example.com/", Overrides{
		Host:              "http://127.0.0.1:9999/",
		SettingsTolerance: 50 * time.Millisecond,
		HideElement:       "#main",
	})
	if cfg.Host != "http://127.0.0.1:9999" {
		t.Errorf("Host: got %q", cfg.Host)
	}
	if cfg.SettingsTolerance != 50*time.Millisecond {
		t.Errorf("SettingsTolerance: got %v", cfg.SettingsTolerance)
	}
	if cfg.LibraryTolerance != DefaultLibraryTolerance {
		t.Errorf("LibraryTolerance: got %v, want default", cfg.LibraryTolerance)
	}
	if got := cfg.HideCSS(); !strings.HasPrefix(got, "#main{opacity:0") {
		t.Errorf("HideCSS: got %q", got)
	}
}

func TestRequestTarget_Order(t *testing.T) {
	cfg := Resolve("https://qa.example.com/")
	got := cfg.RequestTarget("https://qa.example.com/a b?x=1&y='(2)'", "")
	want := "https://dev.visualwebsiteoptimizer.com/j.php?a=1185298" +
		"&u=https%3A%2F%2Fqa.example.com%2Fa%20b%3Fx%3D1%26y%3D'(2)'" +
		"&f=1&vn=1.5"
	if got != want {
		t.Errorf("RequestTarget:\n got %s\nwant %s", got, want)
	}
}

func TestRequestTarget_WithToken(t *testing.T) {
	cfg := Resolve("https://qa.example.com/?id=42")
	got := cfg.RequestTarget("https://qa.example.com/?id=42", "12-1,2|13-3")
	if !strings.HasSuffix(got, "&f=1&vn=1.5&c=12-1,2|13-3") {
		t.Errorf("RequestTarget: got %s", got)
	}
	if !strings.Contains(got, "?a=42&u=") {
		t.Errorf("RequestTarget: account missing: %s", got)
	}
}

func TestSyncLibraryURL(t *testing.T) {
	cfg := Resolve("https://qa.example.com/?id=55555&sync")
	want := "https://dev.visualwebsiteoptimizer.com/lib/55555.js"
	if got := cfg.SyncLibraryURL(); got != want {
		t.Errorf("SyncLibraryURL: got %s, want %s", got, want)
	}
}
