// Package bootstrap implements the experiment-bootstrap loader that runs
// before a page renders: it resolves the account and mode from the page
// address, hides the page surface, arms a safety deadline, forwards the
// visitor's stored variant assignments and loads the remote control script.
// Whatever happens next, the page is revealed exactly once.
//
// The page itself is abstracted as a Document. Drivers for a live Chrome tab
// and for an offline HTML tree live in internal/browser and internal/htmldoc.
package bootstrap

import (
	"net/url"
	"strings"
	"time"
)

// Mode selects how the remote library is loaded.
type Mode string

const (
	ModeAsync Mode = "async"
	ModeSync  Mode = "sync"
)

const (
	// DefaultAccountID is used when the address carries no id parameter.
	DefaultAccountID = "1185298"

	// DefaultHost serves both the async bootstrap endpoint and the sync library.
	DefaultHost = "https://dev.visualwebsiteoptimizer.com"

	// Version is reported to the remote endpoint as vn and by Handle.Version.
	Version = "1.5"

	DefaultSettingsTolerance = 2000 * time.Millisecond
	DefaultLibraryTolerance  = 2500 * time.Millisecond

	DefaultHideElement      = "body"
	DefaultHideElementStyle = "opacity:0 !important;filter:alpha(opacity=0) !important;background:none !important"

	// HideStyleID tags the single injected hide rule.
	HideStyleID = "_vis_opt_path_hides"

	// SyncScriptID is the id of the synchronous library tag. The hide rule
	// copies its nonce when present.
	SyncScriptID = "vwoCode"

	// InitializedFlag is the page-wide guard against double evaluation.
	InitializedFlag = "__vwoLoaderInitialized"

	// HandleName is the page global under which the handle is exposed.
	HandleName = "_vwo_code"

	disableMarker = "__vwo_disable__"
)

// Config is computed once per page load and never mutated.
type Config struct {
	AccountID         string        `json:"account_id"`
	Mode              Mode          `json:"mode"`
	SettingsTolerance time.Duration `json:"settings_tolerance"`
	LibraryTolerance  time.Duration `json:"library_tolerance"`
	HideElement       string        `json:"hide_element"`
	HideElementStyle  string        `json:"hide_element_style"`
	Host              string        `json:"host"`
	Version           string        `json:"version"`
	IsSPA             bool          `json:"is_spa"`
	UseExistingJQuery bool          `json:"use_existing_jquery"`
	Disabled          bool          `json:"disabled"`
}

// Overrides replaces the tunable parts of a resolved Config. Zero values
// keep the defaults. Account and mode always come from the address.
type Overrides struct {
	Host              string
	SettingsTolerance time.Duration
	LibraryTolerance  time.Duration
	HideElement       string
	HideElementStyle  string
}

// Resolve derives the Config from the page address. It never fails: an
// unparseable address resolves to the default account.
//
// Sync mode is selected whenever "sync" appears anywhere in the address,
// not only as a parameter name, so "?syncmode=1" or "/async/" qualify too.
func Resolve(currentURL string, ov ...Overrides) Config {
	cfg := Config{
		AccountID:         accountFromURL(currentURL),
		Mode:              ModeAsync,
		SettingsTolerance: DefaultSettingsTolerance,
		LibraryTolerance:  DefaultLibraryTolerance,
		HideElement:       DefaultHideElement,
		HideElementStyle:  DefaultHideElementStyle,
		Host:              DefaultHost,
		Version:           Version,
		IsSPA:             true,
		Disabled:          strings.Contains(currentURL, disableMarker),
	}
	if strings.Contains(currentURL, "sync") {
		cfg.Mode = ModeSync
	}

	for _, o := range ov {
		if o.Host != "" {
			cfg.Host = strings.TrimRight(o.Host, "/")
		}
		if o.SettingsTolerance > 0 {
			cfg.SettingsTolerance = o.SettingsTolerance
		}
		if o.LibraryTolerance > 0 {
			cfg.LibraryTolerance = o.LibraryTolerance
		}
		if o.HideElement != "" {
			cfg.HideElement = o.HideElement
		}
		if o.HideElementStyle != "" {
			cfg.HideElementStyle = o.HideElementStyle
		}
	}
	return cfg
}

// accountFromURL reads id from the query the way a page's location.search
// would: whatever sits between the first "?" and the fragment, even when
// the rest of the address does not parse.
func accountFromURL(currentURL string) string {
	rest, _, _ := strings.Cut(currentURL, "#")
	_, rawQuery, ok := strings.Cut(rest, "?")
	if !ok {
		return DefaultAccountID
	}
	// ParseQuery keeps every well-formed pair even when it reports an error.
	q, _ := url.ParseQuery(rawQuery)
	if id := q.Get("id"); id != "" {
		return id
	}
	return DefaultAccountID
}

// HideCSS is the full rule injected by the guard, or "" when no element
// is configured for hiding.
func (c Config) HideCSS() string {
	if c.HideElement == "" {
		return ""
	}
	return c.HideElement + "{" + c.HideElementStyle + "}"
}

// RequestTarget composes the async bootstrap URL. Parameter order is fixed:
// a, u, f, vn and, only when token is non-empty, c.
func (c Config) RequestTarget(pageURL, token string) string {
	spa := "0"
	if c.IsSPA {
		spa = "1"
	}
	var b strings.Builder
	b.WriteString(c.host())
	b.WriteString("/j.php?a=")
	b.WriteString(c.AccountID)
	b.WriteString("&u=")
	b.WriteString(encodeURIComponent(pageURL))
	b.WriteString("&f=")
	b.WriteString(spa)
	b.WriteString("&vn=")
	b.WriteString(c.Version)
	if token != "" {
		b.WriteString("&c=")
		b.WriteString(token)
	}
	return b.String()
}

// SyncLibraryURL is the static library loaded in sync mode.
func (c Config) SyncLibraryURL() string {
	return c.host() + "/lib/" + c.AccountID + ".js"
}

func (c Config) host() string {
	if c.Host == "" {
		return DefaultHost
	}
	return c.Host
}

// encodeURIComponent matches the browser function of the same name:
// spaces become %20 and !'()* are left alone.
func encodeURIComponent(s string) string {
	r := strings.NewReplacer(
		"+", "%20",
		"%21", "!",
		"%27", "'",
		"%28", "(",
		"%29", ")",
		"%2A", "*",
	)
	return r.Replace(url.QueryEscape(s))
}
