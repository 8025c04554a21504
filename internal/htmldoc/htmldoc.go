// Package htmldoc is an offline bootstrap.Document backed by an
// x/net/html tree. Injected scripts are fetched over HTTP and executed in
// a jsvm realm; a failed fetch reports a load error to the loader.
package htmldoc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/smartboot/bootstrap"
	"github.com/hazyhaar/smartboot/internal/fetcher"
	"github.com/hazyhaar/smartboot/internal/jsvm"
)

var (
	// ErrNoHead is returned when the tree has no <head> to inject into.
	ErrNoHead = errors.New("htmldoc: document has no head")
	// ErrClosed is returned by mutations after Close.
	ErrClosed = errors.New("htmldoc: document closed")
)

// Option configures a Document.
type Option func(*Document)

// WithCookie sets the cookie string page scripts see.
func WithCookie(cookie string) Option {
	return func(d *Document) { d.cookie = cookie }
}

// WithFetcher sets the fetcher used for script sources.
func WithFetcher(f *fetcher.Fetcher) Option {
	return func(d *Document) { d.fetch = f }
}

// WithVM sets the script realm.
func WithVM(vm *jsvm.VM) Option {
	return func(d *Document) { d.vm = vm }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Document) { d.logger = l }
}

// Document is safe for concurrent use. Script loads run on their own
// goroutines; Wait blocks until they are all done.
type Document struct {
	url    string
	cookie string
	fetch  *fetcher.Fetcher
	vm     *jsvm.VM
	logger *slog.Logger

	mu     sync.Mutex
	root   *html.Node
	head   *html.Node
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Parse reads an HTML page served at pageURL.
func Parse(r io.Reader, pageURL string, opts ...Option) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("htmldoc: parse: %w", err)
	}
	return FromNode(root, pageURL, opts...), nil
}

// FromNode wraps an existing tree. A tree without <head> still answers
// queries but rejects injections with ErrNoHead.
func FromNode(root *html.Node, pageURL string, opts ...Option) *Document {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Document{
		url:    pageURL,
		root:   root,
		head:   findFirst(root, atom.Head),
		logger: slog.Default(),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, o := range opts {
		o(d)
	}
	if d.fetch == nil {
		d.fetch = fetcher.New(fetcher.WithLogger(d.logger))
	}
	if d.vm == nil {
		d.vm = jsvm.New(jsvm.WithLogger(d.logger))
	}
	d.vm.SetDocument(d.url, d.cookie)
	return d
}

func (d *Document) URL() string { return d.url }

func (d *Document) Cookie() string { return d.cookie }

func (d *Document) SetFlag(name string) (bool, error) {
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return false, ErrClosed
	}
	return d.vm.SetFlag(name), nil
}

func (d *Document) Expose(name string, h *bootstrap.Handle) error {
	return d.vm.Expose(name, h)
}

func (d *Document) Attr(id, name string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := findByID(d.root, id)
	if n == nil {
		return "", nil
	}
	return attr(n, name), nil
}

func (d *Document) HasElement(id string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return findByID(d.root, id) != nil, nil
}

func (d *Document) InjectStyle(el bootstrap.StyleElement) error {
	n := &html.Node{
		Type:     html.ElementNode,
		Data:     "style",
		DataAtom: atom.Style,
		Attr: []html.Attribute{
			{Key: "id", Val: el.ID},
			{Key: "type", Val: "text/css"},
		},
	}
	if el.Nonce != "" {
		n.Attr = append(n.Attr, html.Attribute{Key: "nonce", Val: el.Nonce})
	}
	n.AppendChild(&html.Node{Type: html.TextNode, Data: el.CSS})
	return d.appendToHead(n)
}

func (d *Document) RemoveElement(id string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := findByID(d.root, id)
	if n == nil || n.Parent == nil {
		return false, nil
	}
	n.Parent.RemoveChild(n)
	return true, nil
}

// InjectScript appends the tag and, when it has a src, loads it in the
// background. A failed fetch calls s.OnError; a script that throws is only
// logged, as a browser would.
func (d *Document) InjectScript(s bootstrap.ScriptElement) error {
	n := &html.Node{
		Type:     html.ElementNode,
		Data:     "script",
		DataAtom: atom.Script,
	}
	for _, a := range []html.Attribute{
		{Key: "id", Val: s.ID},
		{Key: "src", Val: s.Src},
		{Key: "type", Val: s.Type},
		{Key: "fetchpriority", Val: s.FetchPriority},
		{Key: "referrerpolicy", Val: s.ReferrerPolicy},
	} {
		if a.Val != "" {
			n.Attr = append(n.Attr, a)
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.appendLocked(n); err != nil {
		return err
	}
	if s.Src == "" {
		return nil
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.load(s)
	}()
	return nil
}

func (d *Document) load(s bootstrap.ScriptElement) {
	referrer := d.url
	if s.ReferrerPolicy == "no-referrer" {
		referrer = ""
	}
	res, err := d.fetch.Script(d.ctx, s.Src, referrer)
	if err != nil {
		if d.ctx.Err() != nil {
			return
		}
		d.logger.Warn("htmldoc: script load failed", "src", s.Src, "error", err)
		if s.OnError != nil {
			s.OnError()
		}
		return
	}
	if err := d.vm.Run(d.ctx, s.Src, string(res.Body)); err != nil {
		d.logger.Warn("htmldoc: script error", "src", s.Src, "error", err)
	}
}

func (d *Document) appendToHead(n *html.Node) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.appendLocked(n)
}

func (d *Document) appendLocked(n *html.Node) error {
	if d.closed {
		return ErrClosed
	}
	if d.head == nil {
		return ErrNoHead
	}
	d.head.AppendChild(n)
	return nil
}

// Wait blocks until every script load started so far has completed.
func (d *Document) Wait() { d.wg.Wait() }

// Close cancels pending script loads and waits for them.
func (d *Document) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.cancel()
	d.wg.Wait()
	return nil
}

// Render serializes the current tree.
func (d *Document) Render() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var buf bytes.Buffer
	if err := html.Render(&buf, d.root); err != nil {
		return "", fmt.Errorf("htmldoc: render: %w", err)
	}
	return buf.String(), nil
}

func findFirst(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findFirst(c, a); found != nil {
			return found
		}
	}
	return nil
}

func findByID(n *html.Node, id string) *html.Node {
	if id == "" || n == nil {
		return nil
	}
	if n.Type == html.ElementNode && attr(n, "id") == id {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findByID(c, id); found != nil {
			return found
		}
	}
	return nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
