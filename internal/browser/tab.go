package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/hazyhaar/smartboot/bootstrap"
)

const (
	// bindingName carries page-to-Go signals: "finish", "stop_timer" and
	// "error:<key>" for a failed script load.
	bindingName = "__smartboot_binding"
	// doneFlag is the page-side copy of the finished latch.
	doneFlag = "__smartboot_done"
	// removedSet maps element ids the loader removed, so a queued append
	// never brings them back.
	removedSet = "__smartboot_removed"
)

// Tab is a bootstrap.Document for one Chrome page. Until Navigate every
// mutation is registered as a new-document script, so it runs before any
// page script; afterwards mutations are evaluated in the live page.
//
// The loader is initialised before navigation, so its deadline and the
// reported hidden time include fetching the page itself.
type Tab struct {
	page   *rod.Page
	url    string
	logger *slog.Logger
	navTO  time.Duration
	router *rod.HijackRouter

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	navigating bool // Navigate was called; a document may be live
	navigated  bool // Navigate returned; mutations go to the live page
	flags     map[string]bool
	handle    *bootstrap.Handle
	elements  map[string]func() error // element id → new-document removal
	onError   map[string]func()
	seq       int
}

// OpenTab creates a tab for pageURL without navigating.
func OpenTab(ctx context.Context, mgr *Manager, pageURL string, level StealthLevel) (*Tab, error) {
	b, err := mgr.Browser(ctx)
	if err != nil {
		return nil, err
	}

	var page *rod.Page
	if level >= LevelHeadless {
		page, err = stealth.Page(b)
	} else {
		page, err = b.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}

	tctx, cancel := context.WithCancel(ctx)
	t := &Tab{
		page:     page,
		url:      pageURL,
		logger:   mgr.cfg.Logger,
		navTO:    mgr.cfg.NavigateTimeout,
		ctx:      tctx,
		cancel:   cancel,
		flags:    make(map[string]bool),
		elements: make(map[string]func() error),
		onError:  make(map[string]func()),
	}

	if len(mgr.cfg.ResourceBlocking) > 0 {
		t.router = blockResources(page, mgr.cfg.ResourceBlocking)
	}

	if err := (proto.RuntimeAddBinding{Name: bindingName}).Call(page); err != nil {
		t.Close()
		return nil, fmt.Errorf("browser: add binding: %w", err)
	}
	go page.Context(tctx).EachEvent(func(e *proto.RuntimeBindingCalled) {
		if e.Name == bindingName {
			t.dispatch(e.Payload)
		}
	})()

	return t, nil
}

func (t *Tab) dispatch(payload string) {
	t.mu.Lock()
	h := t.handle
	t.mu.Unlock()

	switch {
	case payload == "finish":
		if h != nil {
			h.Finish()
		}
	case payload == "stop_timer":
		if h != nil {
			h.StopSettingsTimer()
		}
	case strings.HasPrefix(payload, "error:"):
		key := strings.TrimPrefix(payload, "error:")
		t.mu.Lock()
		fn := t.onError[key]
		delete(t.onError, key)
		t.mu.Unlock()
		if fn != nil {
			fn()
		}
	default:
		t.logger.Debug("browser: unknown binding payload", "payload", payload)
	}
}

// SetCookies stores cookies for the tab's URL before navigation.
func (t *Tab) SetCookies(cookies []*proto.NetworkCookieParam) error {
	for _, c := range cookies {
		if c.URL == "" && c.Domain == "" {
			c.URL = t.url
		}
	}
	if err := t.page.SetCookies(cookies); err != nil {
		return fmt.Errorf("browser: set cookies: %w", err)
	}
	return nil
}

// Navigate loads the page. Everything registered so far runs first.
func (t *Tab) Navigate(ctx context.Context) error {
	navCtx, cancel := context.WithTimeout(ctx, t.navTO)
	defer cancel()

	t.mu.Lock()
	t.navigating = true
	t.mu.Unlock()
	if err := t.page.Context(navCtx).Navigate(t.url); err != nil {
		return fmt.Errorf("browser: navigate %s: %w", t.url, err)
	}
	t.mu.Lock()
	t.navigated = true
	t.mu.Unlock()

	if err := t.page.Context(navCtx).WaitLoad(); err != nil {
		t.logger.Warn("browser: wait load timeout", "url", t.url, "error", err)
	}
	return nil
}

// Close closes the tab and stops its event listener.
func (t *Tab) Close() error {
	t.cancel()
	if t.router != nil {
		_ = t.router.Stop()
	}
	if t.page != nil {
		return t.page.Close()
	}
	return nil
}

func (t *Tab) URL() string { return t.url }

// Cookie renders the cookies Chrome would send to the tab's URL.
func (t *Tab) Cookie() string {
	cookies, err := t.page.Cookies([]string{t.url})
	if err != nil {
		t.logger.Warn("browser: read cookies failed", "error", err)
		return ""
	}
	parts := make([]string, 0, len(cookies))
	for _, c := range cookies {
		parts = append(parts, c.Name+"="+c.Value)
	}
	return strings.Join(parts, "; ")
}

func (t *Tab) SetFlag(name string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.flags[name] {
		return false, nil
	}
	if t.navigated {
		res, err := t.page.Eval(`(n) => { if (window[n]) return false; window[n] = true; return true }`, name)
		if err != nil {
			return false, fmt.Errorf("browser: set flag: %w", err)
		}
		t.flags[name] = true
		return res.Value.Bool(), nil
	}
	if _, err := t.page.EvalOnNewDocument(fmt.Sprintf(`window[%s] = true;`, jsString(name))); err != nil {
		return false, fmt.Errorf("browser: set flag: %w", err)
	}
	t.flags[name] = true
	return true, nil
}

// Expose installs a page-side shim for h. Its finish() and
// clearTimeout(_vwo_settings_timer) are forwarded over the binding, and
// its finished() reads a page flag that is also set when the loader
// finishes from Go (deadline or load error).
func (t *Tab) Expose(name string, h *bootstrap.Handle) error {
	t.mu.Lock()
	t.handle = h
	t.mu.Unlock()

	js := fmt.Sprintf(`(function(){
	var send = window[%[1]s], flag = %[7]s;
	var timer = {};
	window._vwo_settings_timer = timer;
	var clear = window.clearTimeout;
	window.clearTimeout = function(id){ if (id === timer) { send("stop_timer"); return } return clear.apply(this, arguments) };
	window[%[2]s] = {
		finish: function(){ if (window[flag] === true) return false; window[flag] = true; send("finish"); return true },
		finished: function(){ return window[flag] === true },
		getVersion: function(){ return %[3]s },
		library_tolerance: function(){ return %[4]d },
		hide_element_style: function(){ return %[5]s },
		use_existing_jquery: function(){ return %[6]t }
	};
})();`, jsString(bindingName), jsString(name), versionLiteral(h.Version()),
		h.LibraryTolerance().Milliseconds(), jsString(h.HideElementStyle()), h.UseExistingJQuery(),
		jsString(doneFlag))

	if err := t.register("", js); err != nil {
		return err
	}
	go func() {
		select {
		case <-h.Done():
			if h.Finished() {
				t.markDone()
			}
		case <-t.ctx.Done():
		}
	}()
	return nil
}

// markDone sets the page-side finished flag in the live document and in
// any document that commits later.
func (t *Tab) markDone() {
	t.mu.Lock()
	live := t.navigating
	t.mu.Unlock()

	if _, err := t.page.EvalOnNewDocument(fmt.Sprintf(`window[%s] = true;`, jsString(doneFlag))); err != nil {
		t.logger.Debug("browser: queue done flag", "error", err)
	}
	if !live {
		return
	}
	if _, err := t.page.Eval(`(f) => { window[f] = true }`, doneFlag); err != nil {
		t.logger.Debug("browser: set done flag", "error", err)
	}
}

// Attr reads an attribute from the live page. Before navigation there is
// no page to read; InjectStyle looks the nonce up itself at append time.
func (t *Tab) Attr(id, name string) (string, error) {
	if !t.isNavigating() {
		return "", nil
	}
	res, err := t.page.Eval(`(id, n) => { const el = document.getElementById(id); return el ? (el.getAttribute(n) || "") : "" }`, id, name)
	if err != nil {
		return "", fmt.Errorf("browser: attr: %w", err)
	}
	return res.Value.Str(), nil
}

func (t *Tab) HasElement(id string) (bool, error) {
	t.mu.Lock()
	_, registered := t.elements[id]
	navigated := t.navigated
	t.mu.Unlock()
	if !navigated {
		return registered, nil
	}
	res, err := t.page.Eval(`(id) => document.getElementById(id) !== null`, id)
	if err != nil {
		return false, fmt.Errorf("browser: has element: %w", err)
	}
	return res.Value.Bool(), nil
}

// InjectStyle appends the rule as soon as the document has a root. Without
// a known nonce it copies the one on the page's vwoCode script, if any.
func (t *Tab) InjectStyle(el bootstrap.StyleElement) error {
	copyNonce := fmt.Sprintf(`if (!s.getAttribute("nonce")) { var v = document.getElementById(%s); var n = v && (v.nonce || v.getAttribute("nonce")); if (n) s.setAttribute("nonce", n) }`,
		jsString(bootstrap.SyncScriptID))
	js := fmt.Sprintf(`(function(){
	var s = document.createElement("style");
	s.id = %[1]s; s.type = "text/css";
	if (%[2]s) s.setAttribute("nonce", %[2]s);
	s.textContent = %[3]s;
	%[4]s
})();`, jsString(el.ID), jsString(el.Nonce), jsString(el.CSS), appendWhenReady(el.ID, copyNonce))
	return t.register(el.ID, js)
}

func (t *Tab) InjectScript(s bootstrap.ScriptElement) error {
	t.mu.Lock()
	t.seq++
	key := strconv.Itoa(t.seq)
	if s.OnError != nil {
		t.onError[key] = s.OnError
	}
	t.mu.Unlock()

	js := fmt.Sprintf(`(function(){
	var s = document.createElement("script");
	if (%[1]s) s.id = %[1]s;
	s.src = %[2]s;
	if (%[3]s) s.type = %[3]s;
	if (%[4]s) s.fetchPriority = %[4]s;
	if (%[5]s) s.referrerPolicy = %[5]s;
	s.onerror = function(){ window[%[6]s]("error:" + %[7]s) };
	%[8]s
})();`, jsString(s.ID), jsString(s.Src), jsString(s.Type), jsString(s.FetchPriority),
		jsString(s.ReferrerPolicy), jsString(bindingName), jsString(key), appendWhenReady(s.ID, ""))
	return t.register(s.ID, js)
}

// RemoveElement drops the element's new-document registration and, once a
// navigation has started, removes it from the live page too. The id is
// recorded page-side so an append still queued on a MutationObserver is
// skipped. A registered element counts as removed even when the live
// page had not attached it yet.
func (t *Tab) RemoveElement(id string) (bool, error) {
	t.mu.Lock()
	remove, registered := t.elements[id]
	delete(t.elements, id)
	live := t.navigating
	t.mu.Unlock()

	if registered && remove != nil {
		if err := remove(); err != nil {
			t.logger.Debug("browser: remove new-document script", "id", id, "error", err)
		}
	}
	if !live {
		return registered, nil
	}
	res, err := t.page.Eval(`(set, id) => {
		(window[set] = window[set] || {})[id] = true;
		const el = document.getElementById(id);
		if (!el) return false;
		el.remove();
		return true
	}`, removedSet, id)
	if err != nil {
		if !t.isNavigated() {
			// Mid-navigation: the committing document has no registration left.
			t.logger.Debug("browser: live remove during navigation", "id", id, "error", err)
			return registered, nil
		}
		return false, fmt.Errorf("browser: remove element: %w", err)
	}
	return res.Value.Bool() || registered, nil
}

// register runs js now when the page is live, or queues it for the next
// document otherwise. id, when set, tracks the element for removal.
func (t *Tab) register(id, js string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.navigated {
		if _, err := t.page.Eval(`(src) => (0, eval)(src)`, js); err != nil {
			return fmt.Errorf("browser: eval: %w", err)
		}
		if id != "" {
			t.elements[id] = nil
		}
		return nil
	}
	remove, err := t.page.EvalOnNewDocument(js)
	if err != nil {
		return fmt.Errorf("browser: eval on new document: %w", err)
	}
	if id != "" {
		t.elements[id] = remove
	}
	return nil
}

func (t *Tab) isNavigated() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.navigated
}

func (t *Tab) isNavigating() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.navigating
}

// appendWhenReady attaches s as soon as the document has a root element,
// running prepare just before. Nothing is attached once id was removed.
func appendWhenReady(id, prepare string) string {
	return fmt.Sprintf(`var add = function(){
		var gone = window[%[1]s];
		if (gone && gone[%[2]s]) return true;
		var p = document.head || document.documentElement; if (!p) return false;
		%[3]s
		p.appendChild(s); return true
	};
	if (!add()) new MutationObserver(function(m, o){ if (add()) o.disconnect() }).observe(document, {childList: true, subtree: true});`,
		jsString(removedSet), jsString(id), prepare)
}

// versionLiteral renders a numeric version as a JS number, anything else
// as a string.
func versionLiteral(v string) string {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return jsString(v)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
