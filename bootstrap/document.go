package bootstrap

// Document is the page the loader runs against. Implementations must be
// safe for concurrent use: load-error callbacks and the safety deadline
// arrive on their own goroutines.
type Document interface {
	// URL is the current page address.
	URL() string

	// Cookie returns the cookie string visible to page scripts.
	Cookie() string

	// SetFlag sets a page-wide boolean global and reports whether this call
	// was the one that set it.
	SetFlag(name string) (bool, error)

	// Expose publishes the capability handle to scripts on the page.
	Expose(name string, h *Handle) error

	// Attr returns an attribute of the element with the given id, or "" if
	// either is missing.
	Attr(id, name string) (string, error)

	HasElement(id string) (bool, error)

	// InjectStyle appends the style element to the document head. It must
	// take effect before the page's first paint.
	InjectStyle(el StyleElement) error

	// RemoveElement removes the element with the given id and reports
	// whether anything was removed.
	RemoveElement(id string) (bool, error)

	// InjectScript appends a script reference for the environment to fetch
	// asynchronously. OnError, if set, runs when the fetch fails.
	InjectScript(s ScriptElement) error
}

// StyleElement is the single hide rule owned by the Guard.
type StyleElement struct {
	ID    string
	CSS   string
	Nonce string
}

// ScriptElement is an external script reference.
type ScriptElement struct {
	ID             string
	Src            string
	Type           string
	FetchPriority  string
	ReferrerPolicy string
	OnError        func()
}
