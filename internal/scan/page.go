package scan

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

var ErrNoOrigin = errors.New("page has no origin")

// Page is a parsed HTML document together with the URL it was served from.
// Every read and write of the document goes through the page lock, so the
// coordinator and external mutators can share it.
type Page struct {
	mu     sync.Mutex
	doc    *goquery.Document
	origin *url.URL

	watchMu  sync.Mutex
	watchers map[*Watch]struct{}
}

// Watch delivers coalesced page notifications. A pending signal is never
// duplicated; a slow reader sees at most one of each kind.
type Watch struct {
	page      *Page
	mutations chan struct{}
	scrolls   chan struct{}
}

// Mutations fires after structural changes made through Page.Mutate.
func (w *Watch) Mutations() <-chan struct{} { return w.mutations }

// Scrolls fires on every Page.Scroll.
func (w *Watch) Scrolls() <-chan struct{} { return w.scrolls }

// Stop unregisters the watch.
func (w *Watch) Stop() {
	w.page.watchMu.Lock()
	delete(w.page.watchers, w)
	w.page.watchMu.Unlock()
}

// NewPage wraps a parsed document. origin locates the page for relative
// image URLs and same-origin checks.
func NewPage(doc *goquery.Document, origin *url.URL) *Page {
	if origin != nil {
		doc.Url = origin
	}
	return &Page{
		doc:      doc,
		origin:   origin,
		watchers: make(map[*Watch]struct{}),
	}
}

// ParsePage parses HTML from r. baseURL may be empty for documents with no
// origin; such pages treat every remote image as cross-origin.
func ParsePage(r io.Reader, baseURL string) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	var origin *url.URL
	if baseURL != "" {
		origin, err = url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("parse base url: %w", err)
		}
	}
	return NewPage(doc, origin), nil
}

// Origin returns the page URL, or nil.
func (p *Page) Origin() *url.URL {
	return p.origin
}

// Site returns the host the page belongs to; policy and statistics are
// keyed by it.
func (p *Page) Site() string {
	if p.origin == nil {
		return ""
	}
	return p.origin.Hostname()
}

// Resolve turns an attribute reference into an absolute URL.
func (p *Page) Resolve(ref string) (*url.URL, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return nil, err
	}
	if p.origin != nil && !u.IsAbs() {
		u = p.origin.ResolveReference(u)
	}
	return u, nil
}

// Watch subscribes to page notifications.
func (p *Page) Watch() *Watch {
	w := &Watch{
		page:      p,
		mutations: make(chan struct{}, 1),
		scrolls:   make(chan struct{}, 1),
	}
	p.watchMu.Lock()
	p.watchers[w] = struct{}{}
	p.watchMu.Unlock()
	return w
}

// Mutate runs fn with exclusive access to the document and then notifies
// watchers of a structural change.
func (p *Page) Mutate(fn func(doc *goquery.Document)) {
	p.mu.Lock()
	fn(p.doc)
	p.mu.Unlock()
	p.notify(func(w *Watch) chan struct{} { return w.mutations })
}

// Scroll signals that the viewport moved.
func (p *Page) Scroll() {
	p.notify(func(w *Watch) chan struct{} { return w.scrolls })
}

func (p *Page) notify(pick func(*Watch) chan struct{}) {
	p.watchMu.Lock()
	defer p.watchMu.Unlock()
	for w := range p.watchers {
		select {
		case pick(w) <- struct{}{}:
		default:
		}
	}
}

// View runs fn with exclusive access to the document without notifying
// watchers. Attribute updates made by the coordinator go through here.
func (p *Page) View(fn func(doc *goquery.Document)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(p.doc)
}

// Render serializes the current document.
func (p *Page) Render() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out, err := goquery.OuterHtml(p.doc.Selection)
	if err != nil {
		return "", fmt.Errorf("render page: %w", err)
	}
	return out, nil
}

// Contains reports whether n is still attached to the document.
func (p *Page) Contains(n *html.Node) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attached(n)
}

func (p *Page) attached(n *html.Node) bool {
	root := p.doc.Nodes[0]
	for cur := n; cur != nil; cur = cur.Parent {
		if cur == root {
			return true
		}
	}
	return false
}
