// Package browser runs the loader inside headless Chrome through Rod.
// Manager owns the Chrome process; Tab is a bootstrap.Document for one
// page, prepared before navigation so the loader runs ahead of any page
// script.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
)

// StealthLevel selects how much Chrome hides that it is automated.
type StealthLevel int

const (
	LevelPlain    StealthLevel = iota // headless, unpatched
	LevelHeadless                     // headless with stealth patches
	LevelHeadful                      // visible Chrome on a virtual display
)

var stealthNames = map[string]StealthLevel{
	"plain":    LevelPlain,
	"headless": LevelHeadless,
	"headful":  LevelHeadful,
}

// ParseStealth maps a config string to a level. Unknown values are headless.
func ParseStealth(s string) StealthLevel {
	if l, ok := stealthNames[s]; ok {
		return l
	}
	return LevelHeadless
}

// ErrClosed is returned by Browser after Close.
var ErrClosed = errors.New("browser: manager closed")

// Config configures a Manager. Zero values take the defaults noted.
type Config struct {
	// RemoteURL is the DevTools WebSocket of an existing Chrome. Empty
	// launches a local one.
	RemoteURL string
	// RecycleInterval caps the age of a Chrome process. Default: 4h.
	RecycleInterval time.Duration
	// ResourceBlocking names request kinds to fail: images, fonts, media,
	// stylesheets.
	ResourceBlocking []string
	Stealth          StealthLevel
	// NavigateTimeout bounds Tab.Navigate. Default: 30s.
	NavigateTimeout time.Duration
	// XvfbDisplay is used at LevelHeadful. Default: ":99".
	XvfbDisplay string
	Logger      *slog.Logger
}

func (c *Config) defaults() {
	if c.RecycleInterval <= 0 {
		c.RecycleInterval = 4 * time.Hour
	}
	if c.NavigateTimeout <= 0 {
		c.NavigateTimeout = 30 * time.Second
	}
	if c.XvfbDisplay == "" {
		c.XvfbDisplay = ":99"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// chrome is one running browser with whatever it needed to start.
type chrome struct {
	browser *rod.Browser
	local   *launcher.Launcher
	display *display
	born    time.Time
}

func (c *chrome) shutdown() error {
	var err error
	if c.browser != nil {
		err = c.browser.Close()
	}
	if c.local != nil {
		c.local.Cleanup()
	}
	if c.display != nil {
		c.display.stop()
	}
	return err
}

// Manager hands out a shared Chrome. It is started by the first Browser
// call and replaced once older than RecycleInterval.
type Manager struct {
	cfg Config

	mu     sync.Mutex
	cur    *chrome
	closed bool
}

func NewManager(cfg Config) *Manager {
	cfg.defaults()
	return &Manager{cfg: cfg}
}

// Browser returns the live browser, starting or recycling Chrome first
// when needed. Tabs opened on a recycled browser are closed with it.
func (m *Manager) Browser(ctx context.Context) (*rod.Browser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}
	if m.cur != nil {
		age := time.Since(m.cur.born)
		if age <= m.cfg.RecycleInterval {
			return m.cur.browser, nil
		}
		m.cfg.Logger.Info("browser: recycling chrome", "age", age)
		if err := m.cur.shutdown(); err != nil {
			m.cfg.Logger.Warn("browser: shutdown old chrome", "error", err)
		}
		m.cur = nil
	}

	c, err := m.start(ctx)
	if err != nil {
		return nil, err
	}
	m.cur = c
	return c.browser, nil
}

// Close stops Chrome and the virtual display. Later Browser calls fail.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	if m.cur == nil {
		return nil
	}
	err := m.cur.shutdown()
	m.cur = nil
	return err
}

func (m *Manager) start(ctx context.Context) (*chrome, error) {
	c := &chrome{born: time.Now()}
	headful := m.cfg.Stealth == LevelHeadful

	if headful {
		d, err := startDisplay(ctx, m.cfg.XvfbDisplay, m.cfg.Logger)
		if err != nil {
			return nil, fmt.Errorf("browser: xvfb: %w", err)
		}
		c.display = d
	}

	controlURL := m.cfg.RemoteURL
	if controlURL == "" {
		l := launcher.New().Context(ctx).
			Headless(!headful).
			Set("disable-blink-features", "AutomationControlled")
		if headful {
			l = l.Env("DISPLAY=" + m.cfg.XvfbDisplay)
		}
		u, err := l.Launch()
		if err != nil {
			c.shutdown()
			return nil, fmt.Errorf("browser: launch: %w", err)
		}
		c.local = l
		controlURL = u
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		c.shutdown()
		return nil, fmt.Errorf("browser: connect %s: %w", controlURL, err)
	}
	c.browser = b
	if err := b.IgnoreCertErrors(true); err != nil {
		m.cfg.Logger.Warn("browser: ignore cert errors", "error", err)
	}

	m.cfg.Logger.Info("browser: chrome ready",
		"remote", m.cfg.RemoteURL != "", "stealth", m.cfg.Stealth, "control_url", controlURL)
	return c, nil
}
