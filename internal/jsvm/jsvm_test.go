package jsvm

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type stubCap struct {
	finishes atomic.Int32
	stops    atomic.Int32
}

func (s *stubCap) Finish() bool { return s.finishes.Add(1) == 1 }
func (s *stubCap) Finished() bool { return s.finishes.Load() > 0 }
func (s *stubCap) Version() string { return "1.5" }
func (s *stubCap) LibraryTolerance() time.Duration { return 2500 * time.Millisecond }
func (s *stubCap) HideElementStyle() string { return "{opacity:0}" }
func (s *stubCap) UseExistingJQuery() bool { return false }
func (s *stubCap) StopSettingsTimer() bool { s.stops.Add(1); return true }

func TestRun_FinishThroughHandle(t *testing.T) {
	vm := New()
	c := &stubCap{}
	if err := vm.Expose("_vwo_code", c); err != nil {
		t.Fatalf("Expose: %v", err)
	}
	src := `
		if (_vwo_code.getVersion() !== 1.5) throw new Error("version");
		if (!(_vwo_code.getVersion() >= 1.4)) throw new Error("version order");
		if (_vwo_code.library_tolerance() !== 2500) throw new Error("tolerance");
		if (_vwo_code.hide_element_style() !== "{opacity:0}") throw new Error("style");
		window._vwo_code.finish();
		if (!_vwo_code.finished()) throw new Error("finished");
	`
	if err := vm.Run(context.Background(), "j.php", src); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := c.finishes.Load(); got != 1 {
		t.Errorf("finishes: got %d, want 1", got)
	}
}

func TestRun_ClearSettingsTimer(t *testing.T) {
	vm := New()
	c := &stubCap{}
	if err := vm.Expose("_vwo_code", c); err != nil {
		t.Fatalf("Expose: %v", err)
	}
	src := `clearTimeout({}); clearTimeout(window._vwo_settings_timer);`
	if err := vm.Run(context.Background(), "j.php", src); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := c.stops.Load(); got != 1 {
		t.Errorf("stops: got %d, want 1", got)
	}
}

func TestSetFlag(t *testing.T) {
	vm := New()
	if !vm.SetFlag("__vwoLoaderInitialized") {
		t.Fatal("first SetFlag: got false")
	}
	if vm.SetFlag("__vwoLoaderInitialized") {
		t.Error("second SetFlag: got true")
	}
	if err := vm.Run(context.Background(), "check", `if (window.__vwoLoaderInitialized !== true) throw new Error("flag")`); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestSetDocument(t *testing.T) {
	vm := New()
	vm.SetDocument("https://qa.example.com/", "a=1")
	src := `if (document.URL !== "https://qa.example.com/" || document.cookie !== "a=1") throw new Error("doc")`
	if err := vm.Run(context.Background(), "doc", src); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestRun_Timeout(t *testing.T) {
	vm := New(WithTimeout(20 * time.Millisecond))
	err := vm.Run(context.Background(), "loop", `for(;;){}`)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Run: got %v, want ErrTimeout", err)
	}
	if err := vm.Run(context.Background(), "after", `1+1`); err != nil {
		t.Errorf("Run after interrupt: %v", err)
	}
}

func TestRun_ContextCancel(t *testing.T) {
	vm := New(WithTimeout(time.Minute))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := vm.Run(ctx, "loop", `for(;;){}`)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run: got %v, want DeadlineExceeded", err)
	}
}

func TestRun_ScriptError(t *testing.T) {
	vm := New()
	if err := vm.Run(context.Background(), "bad", `throw new Error("boom")`); err == nil {
		t.Fatal("expected error")
	}
	if err := vm.Run(context.Background(), "log", `console.log("hello", 1)`); err != nil {
		t.Errorf("console.log: %v", err)
	}
}

func TestVersionValue(t *testing.T) {
	if got, ok := versionValue("1.5").(float64); !ok || got != 1.5 {
		t.Errorf("versionValue(1.5) = %#v, want float64 1.5", versionValue("1.5"))
	}
	if got, ok := versionValue("1.5-rc").(string); !ok || got != "1.5-rc" {
		t.Errorf("versionValue(1.5-rc) = %#v, want the string", versionValue("1.5-rc"))
	}
}
