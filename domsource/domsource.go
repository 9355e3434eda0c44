// Package domsource feeds live DOM changes from a Chrome page into the
// dispatch loop. A MutationObserver injected into the page reports the
// structural keys of mutated nodes through a CDP binding; the Go side
// fans them out to subscribers as dispatch.Change batches.
//
// Snapshots of the page document are parsed with goquery, which is what
// adapter bundles query against.
package domsource

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/lesshq/cartwatch/dispatch"
)

//go:embed observer.js
var observerJS string

const bindingName = "__cartwatch_binding"

// Page adapts one live browser page into a dispatch.Source.
type Page struct {
	page   *rod.Page
	logger *slog.Logger

	mu      sync.Mutex
	subs    map[int]func(dispatch.Change)
	nextSub int
	started bool
}

// Option customises a Page.
type Option func(*Page)

// WithLogger sets the page source's logger.
func WithLogger(l *slog.Logger) Option { return func(p *Page) { p.logger = l } }

// NewPage wraps an already-navigated rod page.
func NewPage(page *rod.Page, opts ...Option) *Page {
	p := &Page{
		page:   page,
		logger: slog.Default(),
		subs:   map[int]func(dispatch.Change){},
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Start installs the binding, begins listening for it, and injects the
// observer script. Changes flow to subscribers until ctx is cancelled.
func (p *Page) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return nil
	}
	p.started = true
	p.mu.Unlock()

	if err := (proto.RuntimeAddBinding{Name: bindingName}).Call(p.page); err != nil {
		// A reused page may carry the binding already.
		p.logger.Warn("domsource: add binding failed", "error", err)
	}

	go p.listen(ctx)

	if _, err := p.page.Eval(observerJS); err != nil {
		return fmt.Errorf("domsource: inject observer: %w", err)
	}
	p.logger.Debug("domsource: observing", "url", p.pageURL())
	return nil
}

// Subscribe implements dispatch.Source.
func (p *Page) Subscribe(fn func(dispatch.Change)) (func(), error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextSub
	p.nextSub++
	p.subs[id] = fn
	return func() {
		p.mu.Lock()
		delete(p.subs, id)
		p.mu.Unlock()
	}, nil
}

// listen receives binding calls from the injected observer and fans the
// decoded target keys out to subscribers.
func (p *Page) listen(ctx context.Context) {
	p.page.Context(ctx).EachEvent(func(e *proto.RuntimeBindingCalled) {
		if e.Name != bindingName {
			return
		}
		var targets []string
		if err := json.Unmarshal([]byte(e.Payload), &targets); err != nil {
			p.logger.Warn("domsource: bad binding payload", "error", err)
			return
		}
		p.deliver(dispatch.Change{Targets: targets})
	})()
}

func (p *Page) deliver(c dispatch.Change) {
	p.mu.Lock()
	fns := make([]func(dispatch.Change), 0, len(p.subs))
	for _, fn := range p.subs {
		fns = append(fns, fn)
	}
	p.mu.Unlock()
	for _, fn := range fns {
		fn(c)
	}
}

// Snapshot parses the page's current document into a goquery document.
// Each call reads the live DOM fresh; the result is the immutable
// snapshot adapter bundles run against for one dispatch.
func (p *Page) Snapshot() (*goquery.Document, error) {
	html, err := p.page.HTML()
	if err != nil {
		return nil, fmt.Errorf("domsource: read document: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("domsource: parse document: %w", err)
	}
	return doc, nil
}

// Hostname returns the hostname of the page's current URL.
func (p *Page) Hostname() string {
	return HostFromURL(p.pageURL())
}

func (p *Page) pageURL() string {
	info, err := p.page.Info()
	if err != nil {
		p.logger.Warn("domsource: page info failed", "error", err)
		return ""
	}
	return info.URL
}

// HostFromURL extracts the hostname from a page URL, tolerating bare hosts.
func HostFromURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err == nil && u.Host != "" {
		return u.Hostname()
	}
	// Bare "shop.example/cart" style input.
	host := raw
	if i := strings.IndexAny(host, "/?#"); i >= 0 {
		host = host[:i]
	}
	return host
}
