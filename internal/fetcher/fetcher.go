// Package fetcher performs the plain HTTP GETs behind the offline driver:
// the page HTML and the remote control script.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// ErrStatus is returned for non-2xx responses. The Result is still filled.
var ErrStatus = errors.New("fetcher: unexpected status")

const (
	maxBody   = 10 << 20
	defaultUA = "Mozilla/5.0 (compatible; smartboot/1.0)"

	acceptHTML   = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
	acceptScript = "*/*"
)

// Result is one completed GET.
type Result struct {
	URL         string
	StatusCode  int
	ContentType string
	Body        []byte
	Cookies     []*http.Cookie
}

func (r *Result) ok() bool { return r.StatusCode >= 200 && r.StatusCode < 300 }

type Fetcher struct {
	client *http.Client
	ua     string
	logger *slog.Logger
}

type Option func(*Fetcher)

func WithClient(c *http.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

func WithUserAgent(ua string) Option {
	return func(f *Fetcher) { f.ua = ua }
}

func WithLogger(l *slog.Logger) Option {
	return func(f *Fetcher) { f.logger = l }
}

// New returns a Fetcher with a 30s client timeout.
func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		client: &http.Client{Timeout: 30 * time.Second},
		ua:     defaultUA,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Page GETs an HTML page. A non-empty cookie is sent as the Cookie header.
func (f *Fetcher) Page(ctx context.Context, pageURL, cookie string) (*Result, error) {
	h := http.Header{"Accept": {acceptHTML}}
	if cookie != "" {
		h.Set("Cookie", cookie)
	}
	return f.get(ctx, pageURL, h)
}

// Script GETs a script body. A non-empty referrer is sent as the Referer.
func (f *Fetcher) Script(ctx context.Context, src, referrer string) (*Result, error) {
	h := http.Header{"Accept": {acceptScript}}
	if referrer != "" {
		h.Set("Referer", referrer)
	}
	return f.get(ctx, src, h)
}

func (f *Fetcher) get(ctx context.Context, target string, h http.Header) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("fetcher: %s: %w", target, err)
	}
	req.Header = h
	req.Header.Set("User-Agent", f.ua)
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetcher: get %s: %w", target, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("fetcher: read %s: %w", target, err)
	}
	res := &Result{
		URL:         target,
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
		Cookies:     resp.Cookies(),
	}
	f.logger.Debug("fetcher: get", "url", target, "status", res.StatusCode,
		"bytes", len(body), "took", time.Since(start))

	if !res.ok() {
		return res, fmt.Errorf("%w %d for %s", ErrStatus, res.StatusCode, target)
	}
	return res, nil
}
