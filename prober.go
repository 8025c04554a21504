// Package smartboot probes pages with the experiment bootstrap loader.
//
// A Prober runs the loader against one page at a time, either offline
// over a parsed HTML tree (DriverHTML) or inside headless Chrome
// (DriverBrowser), waits for the page to be revealed and emits an Outcome
// to its sinks. The loader itself lives in package bootstrap and can be
// embedded without the probe.
package smartboot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/smartboot/bootstrap"
	"github.com/hazyhaar/smartboot/internal/browser"
	"github.com/hazyhaar/smartboot/internal/config"
	"github.com/hazyhaar/smartboot/internal/fetcher"
	"github.com/hazyhaar/smartboot/internal/htmldoc"
	"github.com/hazyhaar/smartboot/internal/idgen"
	"github.com/hazyhaar/smartboot/internal/sink"
)

// Driver selects how a page is loaded.
type Driver string

const (
	DriverHTML    Driver = "html"
	DriverBrowser Driver = "browser"
)

// ErrUnknownDriver is returned for a driver name other than html or browser.
var ErrUnknownDriver = errors.New("smartboot: unknown driver")

// ProbeRequest describes one probe.
type ProbeRequest struct {
	URL    string `json:"url"`
	Driver Driver `json:"driver,omitempty"`
	// Cookie is sent with the page request, in document.cookie form.
	Cookie string `json:"cookie,omitempty"`
}

// Resolution is what the loader would do for a page, without running it.
type Resolution struct {
	Config         bootstrap.Config `json:"config"`
	Token          string           `json:"token,omitempty"`
	RequestTarget  string           `json:"request_target,omitempty"`
	SyncLibraryURL string           `json:"sync_library_url,omitempty"`
	HideCSS        string           `json:"hide_css,omitempty"`
}

// Prober runs bootstraps against pages and reports their outcomes.
// Create one per process; it is safe for concurrent use.
type Prober struct {
	cfg    *config.Config
	fetch  *fetcher.Fetcher
	sinkR  *sink.Router
	newID  idgen.Generator
	logger *slog.Logger

	level browser.StealthLevel
	mu    sync.Mutex
	mgr   *browser.Manager
}

// ProberOption configures a Prober.
type ProberOption func(*Prober)

// WithFetcher replaces the HTTP fetcher used by the html driver.
func WithFetcher(f *fetcher.Fetcher) ProberOption {
	return func(p *Prober) { p.fetch = f }
}

// WithIDGenerator sets the run ID generator. Default: UUIDv7.
func WithIDGenerator(gen idgen.Generator) ProberOption {
	return func(p *Prober) { p.newID = gen }
}

// WithSinks adds outcome sinks.
func WithSinks(sinks ...Sink) ProberOption {
	return func(p *Prober) {
		for _, s := range sinks {
			p.sinkR.Add(s)
		}
	}
}

// New creates a Prober. A nil cfg uses the defaults. Chrome is only
// started by the first browser probe.
func New(cfg *Config, logger *slog.Logger, opts ...ProberOption) *Prober {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg == nil {
		cfg = config.Default()
	}
	p := &Prober{
		cfg:    cfg,
		sinkR:  sink.NewRouter(logger),
		newID:  idgen.Default,
		logger: logger,
		level:  browser.ParseStealth(cfg.Browser.Stealth),
	}
	for _, o := range opts {
		o(p)
	}
	if p.fetch == nil {
		p.fetch = fetcher.New(fetcher.WithLogger(logger))
	}
	return p
}

// Resolve reports the configuration and request target the loader would
// use for pageURL with the given cookie string.
func (p *Prober) Resolve(pageURL, cookie string) Resolution {
	return Resolve(pageURL, cookie, p.cfg.Overrides())
}

// Resolve reports what the loader would do for pageURL under ov.
// Disabled pages resolve to the configuration alone.
func Resolve(pageURL, cookie string, ov bootstrap.Overrides) Resolution {
	cfg := bootstrap.Resolve(pageURL, ov)
	r := Resolution{Config: cfg}
	switch {
	case cfg.Disabled:
	case cfg.Mode == bootstrap.ModeSync:
		r.SyncLibraryURL = cfg.SyncLibraryURL()
	default:
		r.Token = bootstrap.EncodeCombination(cookie)
		r.RequestTarget = cfg.RequestTarget(pageURL, r.Token)
		r.HideCSS = cfg.HideCSS()
	}
	return r
}

// Probe runs one bootstrap against req.URL and waits until the page is
// revealed or the settings tolerance plus grace has passed. The outcome
// is sent to every sink; sink failures are logged, not returned.
//
// A page that cannot be loaded still yields an Outcome with Error set,
// together with the error.
func (p *Prober) Probe(ctx context.Context, req ProbeRequest) (*Outcome, error) {
	if req.URL == "" {
		return nil, fmt.Errorf("smartboot: probe: url is required")
	}
	if req.Driver == "" {
		req.Driver = DriverHTML
	}

	runID := p.newID()
	log := p.logger.With("run_id", runID, "url", req.URL, "driver", req.Driver)
	log.Info("smartboot: probe start")

	var (
		report bootstrap.Report
		err    error
	)
	switch req.Driver {
	case DriverHTML:
		report, err = p.probeHTML(ctx, req, log)
	case DriverBrowser:
		report, err = p.probeBrowser(ctx, req, log)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, req.Driver)
	}

	o := sink.FromReport(runID, string(req.Driver), report)
	if o.PageURL == "" {
		o.PageURL = req.URL
	}
	if err != nil {
		o.Error = err.Error()
		log.Warn("smartboot: probe failed", "error", err)
	} else {
		log.Info("smartboot: probe done",
			"state", o.State, "trigger", o.Trigger, "hidden_for_ms", o.HiddenForMS)
	}

	if serr := p.sinkR.SendOutcome(ctx, o); serr != nil {
		log.Error("smartboot: send outcome failed", "error", serr)
	}
	return &o, err
}

// ProbeConfigured probes every page listed in the configuration in turn.
// Failures are logged and do not stop the remaining pages.
func (p *Prober) ProbeConfigured(ctx context.Context) []*Outcome {
	var out []*Outcome
	for _, pc := range p.cfg.Pages {
		if ctx.Err() != nil {
			break
		}
		o, err := p.Probe(ctx, ProbeRequest{URL: pc.URL, Driver: Driver(pc.Driver), Cookie: pc.Cookie})
		if err != nil && o == nil {
			p.logger.Error("smartboot: probe page", "url", pc.URL, "error", err)
			continue
		}
		out = append(out, o)
	}
	return out
}

// Close flushes the sinks and shuts Chrome down if it was started.
func (p *Prober) Close() error {
	err := p.sinkR.Close()
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.mgr != nil {
		if cerr := p.mgr.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

func (p *Prober) probeHTML(ctx context.Context, req ProbeRequest, log *slog.Logger) (bootstrap.Report, error) {
	res, err := p.fetch.Page(ctx, req.URL, req.Cookie)
	if err != nil {
		return bootstrap.Report{}, fmt.Errorf("smartboot: fetch page: %w", err)
	}

	cookie := mergeCookies(req.Cookie, res.Cookies)
	doc, err := htmldoc.Parse(bytes.NewReader(res.Body), req.URL,
		htmldoc.WithCookie(cookie),
		htmldoc.WithFetcher(p.fetch),
		htmldoc.WithLogger(log),
	)
	if err != nil {
		return bootstrap.Report{}, err
	}
	defer doc.Close()

	return p.run(ctx, doc, log)
}

func (p *Prober) probeBrowser(ctx context.Context, req ProbeRequest, log *slog.Logger) (bootstrap.Report, error) {
	tab, err := browser.OpenTab(ctx, p.manager(), req.URL, p.level)
	if err != nil {
		return bootstrap.Report{}, fmt.Errorf("smartboot: open tab: %w", err)
	}
	defer tab.Close()

	if req.Cookie != "" {
		cookies, err := http.ParseCookie(req.Cookie)
		if err != nil {
			return bootstrap.Report{}, fmt.Errorf("smartboot: parse cookie: %w", err)
		}
		params := make([]*proto.NetworkCookieParam, 0, len(cookies))
		for _, c := range cookies {
			params = append(params, &proto.NetworkCookieParam{Name: c.Name, Value: c.Value})
		}
		if err := tab.SetCookies(params); err != nil {
			return bootstrap.Report{}, err
		}
	}

	return p.run(ctx, tab, log, tab.Navigate)
}

// run initialises the loader on doc, performs the optional navigation
// and waits for the reveal. The loader is torn down on return.
func (p *Prober) run(ctx context.Context, doc bootstrap.Document, log *slog.Logger, navigate ...func(context.Context) error) (bootstrap.Report, error) {
	cfg := bootstrap.Resolve(doc.URL(), p.cfg.Overrides())

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	h, err := bootstrap.New(doc, cfg, bootstrap.WithLogger(log)).Init(runCtx)
	if err != nil {
		return bootstrap.Report{Config: cfg, PageURL: doc.URL()}, err
	}
	for _, nav := range navigate {
		if err := nav(runCtx); err != nil {
			return h.Report(), err
		}
	}

	wait := time.NewTimer(cfg.SettingsTolerance + p.cfg.Loader.Grace)
	defer wait.Stop()
	select {
	case <-h.Done():
	case <-wait.C:
		log.Warn("smartboot: page still hidden after tolerance", "state", h.State())
	case <-ctx.Done():
		return h.Report(), ctx.Err()
	}
	return h.Report(), nil
}

func (p *Prober) manager() *browser.Manager {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.mgr == nil {
		bc := p.cfg.Browser
		p.mgr = browser.NewManager(browser.Config{
			RemoteURL:        bc.Remote,
			RecycleInterval:  bc.RecycleInterval,
			ResourceBlocking: bc.ResourceBlocking,
			Stealth:          p.level,
			NavigateTimeout:  bc.NavigateTimeout,
			XvfbDisplay:      bc.XvfbDisplay,
			Logger:           p.logger,
		})
	}
	return p.mgr
}

// mergeCookies appends cookies set by the page response to the request
// cookie string, replacing earlier values of the same name.
func mergeCookies(cookie string, set []*http.Cookie) string {
	if len(set) == 0 {
		return cookie
	}
	parsed, _ := http.ParseCookie(cookie)
	byName := make(map[string]int, len(parsed))
	for i, c := range parsed {
		byName[c.Name] = i
	}
	for _, c := range set {
		if c.MaxAge < 0 {
			continue
		}
		if i, ok := byName[c.Name]; ok {
			parsed[i] = &http.Cookie{Name: c.Name, Value: c.Value}
			continue
		}
		byName[c.Name] = len(parsed)
		parsed = append(parsed, &http.Cookie{Name: c.Name, Value: c.Value})
	}
	return bootstrap.CookieString(parsed)
}
