package bootstrap

import (
	"fmt"
	"sync"
)

// Guard owns the hide rule. At most one rule exists at a time and, once
// revealed, it is never injected again.
type Guard struct {
	doc Document

	mu       sync.Mutex
	el       *StyleElement
	revealed bool
	removed  int
}

// NewGuard creates a Guard for doc.
func NewGuard(doc Document) *Guard {
	return &Guard{doc: doc}
}

// Hide injects selector{style} tagged with HideStyleID. A second call while
// the rule is live returns the existing element; a call after Reveal
// returns nil without touching the document.
func (g *Guard) Hide(selector, style string) (*StyleElement, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.revealed {
		return nil, nil
	}
	if g.el != nil {
		return g.el, nil
	}

	css := ""
	if selector != "" {
		css = selector + "{" + style + "}"
	}
	el := StyleElement{ID: HideStyleID, CSS: css}

	// A rule left by another loader on the same page is adopted, not duplicated.
	exists, err := g.doc.HasElement(HideStyleID)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: hide: %w", err)
	}
	if exists {
		g.el = &el
		return g.el, nil
	}

	nonce, err := g.doc.Attr(SyncScriptID, "nonce")
	if err == nil {
		el.Nonce = nonce
	}
	if err := g.doc.InjectStyle(el); err != nil {
		return nil, fmt.Errorf("bootstrap: hide: %w", err)
	}
	g.el = &el
	return g.el, nil
}

// Reveal removes el if it is still in the document. Calling it again, or
// with nil, is a no-op.
func (g *Guard) Reveal(el *StyleElement) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if el == nil || g.el == nil || el.ID != g.el.ID {
		return nil
	}
	g.el = nil
	g.revealed = true

	removed, err := g.doc.RemoveElement(el.ID)
	if err != nil {
		return fmt.Errorf("bootstrap: reveal: %w", err)
	}
	if removed {
		g.removed++
	}
	return nil
}

// Removals reports how many times Reveal actually removed the rule.
func (g *Guard) Removals() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.removed
}
