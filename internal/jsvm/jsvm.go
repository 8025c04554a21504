// Package jsvm runs fetched control scripts in an embedded goja runtime
// with the loader's page globals bound: the initialized flag, the _vwo_code
// capability, _vwo_settings_timer and a console bridged to slog.
package jsvm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
)

// ErrTimeout is the interrupt reason when a script runs past its budget.
var ErrTimeout = errors.New("jsvm: script timeout")

// Capability is what a page script may call on the loader.
type Capability interface {
	Finish() bool
	Finished() bool
	Version() string
	LibraryTolerance() time.Duration
	HideElementStyle() string
	UseExistingJQuery() bool
	StopSettingsTimer() bool
}

// Option configures a VM.
type Option func(*VM)

// WithLogger sets the logger console output goes to.
func WithLogger(l *slog.Logger) Option {
	return func(v *VM) { v.logger = l }
}

// WithTimeout bounds a single Run. Default: 2500ms.
func WithTimeout(d time.Duration) Option {
	return func(v *VM) { v.timeout = d }
}

// VM is a single page's script realm. Runs are serialized.
type VM struct {
	mu      sync.Mutex
	rt      *goja.Runtime
	logger  *slog.Logger
	timeout time.Duration
	timer   goja.Value
}

// New creates a VM with window, document and console defined.
func New(opts ...Option) *VM {
	v := &VM{
		rt:      goja.New(),
		logger:  slog.Default(),
		timeout: 2500 * time.Millisecond,
	}
	for _, o := range opts {
		o(v)
	}

	g := v.rt.GlobalObject()
	_ = g.Set("window", g)
	_ = g.Set("self", g)

	console := v.rt.NewObject()
	_ = console.Set("log", v.consoleFunc(slog.LevelInfo))
	_ = console.Set("info", v.consoleFunc(slog.LevelInfo))
	_ = console.Set("warn", v.consoleFunc(slog.LevelWarn))
	_ = console.Set("error", v.consoleFunc(slog.LevelError))
	_ = console.Set("debug", v.consoleFunc(slog.LevelDebug))
	_ = g.Set("console", console)

	_ = g.Set("clearTimeout", func(goja.FunctionCall) goja.Value { return goja.Undefined() })
	return v
}

func (v *VM) consoleFunc(level slog.Level) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, 0, len(call.Arguments))
		for _, a := range call.Arguments {
			parts = append(parts, a.String())
		}
		v.logger.Log(context.Background(), level, "jsvm: console", "msg", strings.Join(parts, " "))
		return goja.Undefined()
	}
}

// SetDocument defines document.URL and document.cookie for scripts.
func (v *VM) SetDocument(pageURL, cookie string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	doc := v.rt.NewObject()
	_ = doc.Set("URL", pageURL)
	_ = doc.Set("cookie", cookie)
	_ = v.rt.Set("document", doc)
}

// SetFlag sets a boolean global and reports whether it was previously unset.
func (v *VM) SetFlag(name string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	cur := v.rt.Get(name)
	if cur != nil && cur.ToBoolean() {
		return false
	}
	_ = v.rt.Set(name, true)
	return true
}

// Flag reports a global's truthiness.
func (v *VM) Flag(name string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	cur := v.rt.Get(name)
	return cur != nil && cur.ToBoolean()
}

// Expose binds c as the global name together with _vwo_settings_timer.
// clearTimeout(_vwo_settings_timer) stops the loader's safety deadline.
func (v *VM) Expose(name string, c Capability) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	obj := v.rt.NewObject()
	set := func(k string, fn any) error {
		if err := obj.Set(k, fn); err != nil {
			return fmt.Errorf("jsvm: expose %s.%s: %w", name, k, err)
		}
		return nil
	}
	if err := errors.Join(
		set("finish", func() bool { return c.Finish() }),
		set("finished", func() bool { return c.Finished() }),
		set("getVersion", func() any { return versionValue(c.Version()) }),
		set("library_tolerance", func() int64 { return c.LibraryTolerance().Milliseconds() }),
		set("hide_element_style", func() string { return c.HideElementStyle() }),
		set("use_existing_jquery", func() bool { return c.UseExistingJQuery() }),
	); err != nil {
		return err
	}
	if err := v.rt.Set(name, obj); err != nil {
		return fmt.Errorf("jsvm: expose %s: %w", name, err)
	}

	timer := v.rt.NewObject()
	v.timer = timer
	if err := v.rt.Set("_vwo_settings_timer", timer); err != nil {
		return fmt.Errorf("jsvm: expose settings timer: %w", err)
	}
	return v.rt.Set("clearTimeout", func(call goja.FunctionCall) goja.Value {
		if call.Argument(0).SameAs(v.timer) {
			c.StopSettingsTimer()
		}
		return goja.Undefined()
	})
}

// Run evaluates src. It is interrupted when ctx is cancelled or after the
// VM timeout, whichever comes first.
func (v *VM) Run(ctx context.Context, name, src string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	stop := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		t := time.NewTimer(v.timeout)
		defer t.Stop()
		select {
		case <-ctx.Done():
			v.rt.Interrupt(ctx.Err())
		case <-t.C:
			v.rt.Interrupt(ErrTimeout)
		case <-stop:
		}
	}()

	_, err := v.rt.RunScript(name, src)
	close(stop)
	<-exited
	v.rt.ClearInterrupt()

	if err != nil {
		var ie *goja.InterruptedError
		if errors.As(err, &ie) {
			if reason, ok := ie.Value().(error); ok {
				return fmt.Errorf("jsvm: run %s: %w", name, reason)
			}
		}
		return fmt.Errorf("jsvm: run %s: %w", name, err)
	}
	return nil
}

// versionValue hands a numeric version ("1.5") to scripts as a number,
// which is what they compare against. Anything else stays a string.
func versionValue(v string) any {
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	return v
}
