package bootstrap

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// State is the controller's position in the bootstrap sequence.
type State int

const (
	StateIdle State = iota
	StateHiding
	StateAwaitingCompletion
	StateFinished
	// StateSyncLoaded: the synchronous library was injected; nothing hidden.
	StateSyncLoaded
	// StateDisabled: the address opted out with __vwo_disable__.
	StateDisabled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateHiding:
		return "hiding"
	case StateAwaitingCompletion:
		return "awaiting_completion"
	case StateFinished:
		return "finished"
	case StateSyncLoaded:
		return "sync_loaded"
	case StateDisabled:
		return "disabled"
	}
	return "unknown"
}

// Trigger records which path made the page visible.
type Trigger string

const (
	TriggerNone       Trigger = "none"
	TriggerCompletion Trigger = "completion"
	TriggerDeadline   Trigger = "deadline"
	TriggerLoadError  Trigger = "load_error"
)

// Report is a point-in-time view of one bootstrap.
type Report struct {
	Config        Config    `json:"config"`
	PageURL       string    `json:"page_url"`
	RequestTarget string    `json:"request_target"`
	Token         string    `json:"token,omitempty"`
	State         string    `json:"state"`
	Trigger       Trigger   `json:"trigger"`
	Hidden        bool      `json:"hidden"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at,omitempty"`
}

// HiddenFor is how long the page stayed hidden, or zero if it never was
// or is still hidden.
func (r Report) HiddenFor() time.Duration {
	if !r.Hidden || r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithScheduler replaces the scheduler behind the safety deadline.
func WithScheduler(s Scheduler) Option {
	return func(c *Controller) { c.timer = NewSafetyTimer(s) }
}

// WithCompletion wires the external script's completion signal. A value
// or a close on ch finishes the bootstrap.
func WithCompletion(ch <-chan struct{}) Option {
	return func(c *Controller) { c.completion = ch }
}

// WithObserver registers fn to receive the report once the page is
// visible again (or, in sync and disabled mode, once Init returns).
func WithObserver(fn func(Report)) Option {
	return func(c *Controller) { c.observer = fn }
}

// Controller runs the bootstrap for one page load. Its two latches,
// initialized and finished, only ever go from false to true.
type Controller struct {
	doc        Document
	cfg        Config
	logger     *slog.Logger
	guard      *Guard
	timer      *SafetyTimer
	loader     *ScriptLoader
	completion <-chan struct{}
	observer   func(Report)
	handle     *Handle

	mu          sync.Mutex
	initialized bool
	finished    bool
	initErr     error
	state       State
	style       *StyleElement
	token       string
	target      string
	trigger     Trigger
	startedAt   time.Time
	finishedAt  time.Time
	done        chan struct{}
}

// New creates a Controller for doc. Nothing touches the document until Init.
func New(doc Document, cfg Config, opts ...Option) *Controller {
	c := &Controller{
		doc:     doc,
		cfg:     cfg,
		logger:  slog.Default(),
		guard:   NewGuard(doc),
		timer:   NewSafetyTimer(nil),
		trigger: TriggerNone,
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	c.handle = &Handle{c: c}
	c.loader = NewScriptLoader(doc, func() { c.finish(TriggerLoadError) })
	return c
}

// Init runs the bootstrap sequence once. Later calls return the same
// handle and do nothing. When another loader already initialized the
// document, Init returns ErrAlreadyInitialized and leaves it untouched.
//
// In async mode the hide rule is injected before Init returns, the safety
// deadline is armed before the request target is built, and the script is
// injected last. Cancelling ctx means the page was torn down: the deadline
// and the completion watcher stop and nothing more is revealed.
func (c *Controller) Init(ctx context.Context) (*Handle, error) {
	c.mu.Lock()
	if c.initialized {
		err := c.initErr
		c.mu.Unlock()
		if err != nil {
			return nil, err
		}
		return c.handle, nil
	}
	c.initialized = true

	first, err := c.doc.SetFlag(InitializedFlag)
	if err != nil {
		c.logger.Warn("bootstrap: set initialized flag failed", "error", err)
	} else if !first {
		c.initErr = ErrAlreadyInitialized
		c.mu.Unlock()
		c.logger.Debug("bootstrap: document already initialized", "url", c.doc.URL())
		return nil, ErrAlreadyInitialized
	}

	c.logger.Info("bootstrap: init",
		"account", c.cfg.AccountID, "mode", c.cfg.Mode, "url", c.doc.URL())

	if c.cfg.Mode == ModeSync {
		return c.initSync()
	}

	if err := c.doc.Expose(HandleName, c.handle); err != nil {
		c.logger.Warn("bootstrap: expose handle failed", "error", err)
	}

	if c.cfg.Disabled {
		c.state = StateDisabled
		close(c.done)
		c.mu.Unlock()
		c.logger.Info("bootstrap: disabled by address")
		c.notify()
		return c.handle, nil
	}

	c.state = StateHiding
	c.startedAt = time.Now()
	style, err := c.guard.Hide(c.cfg.HideElement, c.cfg.HideElementStyle)
	if err != nil {
		c.logger.Warn("bootstrap: hide failed, continuing visible", "error", err)
	}
	c.style = style

	c.state = StateAwaitingCompletion
	c.timer.Arm(c.cfg.SettingsTolerance, func() { c.finish(TriggerDeadline) })

	c.token = EncodeCombination(c.doc.Cookie())
	c.target = c.cfg.RequestTarget(c.doc.URL(), c.token)
	target := c.target
	c.mu.Unlock()

	go c.watch(ctx)

	// The lock is released: the environment may report a load error
	// synchronously from InjectScript.
	if err := c.loader.Load(target); err != nil {
		c.logger.Warn("bootstrap: script injection failed", "error", err)
		c.finish(TriggerLoadError)
	}
	return c.handle, nil
}

// initSync is called with c.mu held and releases it.
func (c *Controller) initSync() (*Handle, error) {
	c.state = StateSyncLoaded
	c.startedAt = time.Now()
	c.target = c.cfg.SyncLibraryURL()
	close(c.done)
	c.mu.Unlock()

	if err := c.loader.LoadSync(c.cfg); err != nil {
		c.logger.Warn("bootstrap: sync injection failed", "error", err)
	}
	c.notify()
	return c.handle, nil
}

func (c *Controller) watch(ctx context.Context) {
	select {
	case <-c.completion:
		c.finish(TriggerCompletion)
	case <-ctx.Done():
		c.teardown()
	case <-c.done:
	}
}

func (c *Controller) teardown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finished {
		return
	}
	c.timer.Stop()
	c.logger.Debug("bootstrap: page torn down before finish", "url", c.doc.URL())
}

// finish is the single transition into StateFinished. Only the first call
// reveals the page; it reports whether this call did so.
func (c *Controller) finish(trigger Trigger) bool {
	c.mu.Lock()
	if !c.finished && c.state == StateDisabled {
		// Nothing was hidden; the latch still flips for the remote script.
		c.finished = true
		c.finishedAt = time.Now()
		c.mu.Unlock()
		return true
	}
	if c.finished || (c.state != StateHiding && c.state != StateAwaitingCompletion) {
		c.mu.Unlock()
		return false
	}
	c.finished = true
	c.state = StateFinished
	c.trigger = trigger
	c.finishedAt = time.Now()
	if err := c.guard.Reveal(c.style); err != nil {
		c.logger.Warn("bootstrap: reveal failed", "error", err)
	}
	close(c.done)
	c.mu.Unlock()

	c.logger.Info("bootstrap: finished",
		"trigger", trigger, "account", c.cfg.AccountID,
		"hidden_for", c.finishedAt.Sub(c.startedAt))
	c.notify()
	return true
}

func (c *Controller) notify() {
	if c.observer != nil {
		c.observer(c.report())
	}
}

func (c *Controller) report() Report {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Report{
		Config:        c.cfg,
		PageURL:       c.doc.URL(),
		RequestTarget: c.target,
		Token:         c.token,
		State:         c.state.String(),
		Trigger:       c.trigger,
		Hidden:        c.style != nil,
		StartedAt:     c.startedAt,
		FinishedAt:    c.finishedAt,
	}
}

// Handle is the capability given to the remote script. It is the only way
// to reach the controller after Init.
type Handle struct {
	c *Controller
}

// Finish reports completion: the remote script calls it once it has
// applied its changes or given up. Only the first call, from any source,
// reveals the page; it returns true for that call. On a disabled page it
// only flips the latch.
func (h *Handle) Finish() bool { return h.c.finish(TriggerCompletion) }

// Finished reports whether the page has been revealed.
func (h *Handle) Finished() bool {
	h.c.mu.Lock()
	defer h.c.mu.Unlock()
	return h.c.finished
}

// Done is closed once no further visibility change is pending.
func (h *Handle) Done() <-chan struct{} { return h.c.done }

func (h *Handle) Version() string { return h.c.cfg.Version }

func (h *Handle) LibraryTolerance() time.Duration { return h.c.cfg.LibraryTolerance }

// HideElementStyle returns the declaration block, braces included.
func (h *Handle) HideElementStyle() string { return "{" + h.c.cfg.HideElementStyle + "}" }

func (h *Handle) UseExistingJQuery() bool { return h.c.cfg.UseExistingJQuery }

// StopSettingsTimer cancels the safety deadline. It exists for the remote
// script; the loader never calls it.
func (h *Handle) StopSettingsTimer() bool {
	h.c.mu.Lock()
	defer h.c.mu.Unlock()
	return h.c.timer.Stop()
}

func (h *Handle) State() State {
	h.c.mu.Lock()
	defer h.c.mu.Unlock()
	return h.c.state
}

func (h *Handle) Config() Config { return h.c.cfg }

func (h *Handle) Report() Report { return h.c.report() }
