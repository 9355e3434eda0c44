// Package cartwatch wires live browser pages to site adapters. It owns the
// browser connection, the adapter catalog and its hot reload, the per-page
// dispatch loops, and the durable state (permits, carts) that strategies
// consult.
package cartwatch

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/lesshq/cartwatch/adapter"
	"github.com/lesshq/cartwatch/dispatch"
	"github.com/lesshq/cartwatch/domsource"
	"github.com/lesshq/cartwatch/permit"
	"github.com/lesshq/cartwatch/pvalue"
	"github.com/lesshq/cartwatch/report"
	"github.com/lesshq/cartwatch/sqlopen"
	"github.com/lesshq/cartwatch/watch"
)

// Watcher is the top-level runtime. Construct with New, register
// strategies, then Start. Close releases the browser and both databases.
type Watcher struct {
	cfg      *Config
	logger   *slog.Logger
	registry *adapter.Registry
	catalog  *adapter.Catalog
	kv       *pvalue.SQLiteStore
	stateDB  *sql.DB
	reporter report.Reporter
	manager  *domsource.Manager
	poller   *watch.Poller

	mu          sync.Mutex
	strategies  []Strategy
	dispatchers map[string]*dispatch.Dispatcher
	gates       map[string]*permit.Gate
	carts       map[string]*pvalue.Value[[]adapter.Item]
	started     bool
}

// New builds a Watcher from cfg. The catalog and state databases are
// opened (and created) immediately; the browser connects on Start.
func New(cfg *Config, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyDefaults()

	catalog, err := adapter.OpenCatalog(cfg.Storage.ProfileDB, adapter.WithCatalogLogger(logger))
	if err != nil {
		return nil, err
	}

	stateDB, err := sqlopen.Open(cfg.Storage.StateDB,
		sqlopen.WithMkdirAll(), sqlopen.WithSchema(pvalue.Schema))
	if err != nil {
		catalog.Close()
		return nil, err
	}
	kv, err := pvalue.NewSQLiteStore(stateDB)
	if err != nil {
		stateDB.Close()
		catalog.Close()
		return nil, err
	}

	var reporter report.Reporter
	if cfg.Report.WebhookURL != "" {
		reporter = report.NewFanout(logger,
			report.NewLog(logger),
			report.NewWebhook(cfg.Report.WebhookURL, report.WithWebhookLogger(logger)),
		)
	} else {
		reporter = report.NewLog(logger)
	}

	w := &Watcher{
		cfg:      cfg,
		logger:   logger,
		registry: adapter.New(adapter.WithLogger(logger)),
		catalog:  catalog,
		kv:       kv,
		stateDB:  stateDB,
		reporter: reporter,
		manager: domsource.NewManager(domsource.BrowserConfig{
			RemoteURL: cfg.Browser.Remote,
			Headful:   cfg.Browser.Headful,
			Stealth:   cfg.Browser.Stealth,
			Logger:    logger,
		}),
		dispatchers: map[string]*dispatch.Dispatcher{},
		gates:       map[string]*permit.Gate{},
		carts:       map[string]*pvalue.Value[[]adapter.Item]{},
	}

	if cfg.Profiles.SeedFile != "" {
		if err := w.importSeed(context.Background(), cfg.Profiles.SeedFile); err != nil {
			w.Close()
			return nil, err
		}
	}
	if err := catalog.LoadInto(context.Background(), w.registry); err != nil {
		w.Close()
		return nil, err
	}
	return w, nil
}

// AddStrategy registers a strategy. New strategies apply from the next
// dispatch of every page; registration order is invocation order.
func (w *Watcher) AddStrategy(s Strategy) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.strategies = append(w.strategies, s)
}

// Registry exposes the live adapter registry.
func (w *Watcher) Registry() *adapter.Registry { return w.registry }

// Catalog exposes the profile catalog.
func (w *Watcher) Catalog() *adapter.Catalog { return w.catalog }

// Start connects the browser, opens every configured page under its own
// dispatch loop, and begins polling the catalog for profile changes.
// It returns once everything is running; ctx cancellation stops the
// loops but Close still must be called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return errors.New("cartwatch: already started")
	}
	w.started = true
	w.mu.Unlock()

	if _, err := w.manager.Start(ctx); err != nil {
		return err
	}

	for _, pc := range w.cfg.Pages {
		if err := w.watchPage(ctx, pc.URL); err != nil {
			return err
		}
	}

	w.poller = watch.New(w.catalog.DB(), watch.Options{
		Interval: w.cfg.Profiles.ReloadInterval,
		Debounce: w.cfg.Profiles.ReloadDebounce,
		Detector: watch.MaxUpdatedAt("profiles"),
		Logger:   w.logger,
	})
	go w.poller.Run(ctx, func() error {
		return w.catalog.LoadInto(ctx, w.registry)
	})
	return nil
}

func (w *Watcher) watchPage(ctx context.Context, url string) error {
	page, err := w.manager.OpenPage(ctx, url)
	if err != nil {
		return fmt.Errorf("cartwatch: open %s: %w", url, err)
	}
	src := domsource.NewPage(page, domsource.WithLogger(w.logger))
	if err := src.Start(ctx); err != nil {
		return err
	}

	d := dispatch.New(src,
		dispatch.WithDebounce(w.cfg.Dispatch.Debounce),
		dispatch.WithLogger(w.logger))
	d.AddEffect(w.pageEffect(src))
	if err := d.Start(ctx); err != nil {
		return err
	}

	w.mu.Lock()
	w.dispatchers[url] = d
	w.mu.Unlock()
	w.logger.Info("cartwatch: watching page", "url", url)
	return nil
}

// pageEffect is the built-in effect installed on every page: snapshot the
// document, resolve the adapter, persist the cart, then hand the view to
// each registered strategy.
func (w *Watcher) pageEffect(src *domsource.Page) dispatch.Effect {
	return func(h *dispatch.Handle) func() {
		doc, err := src.Snapshot()
		if err != nil {
			w.logger.Warn("cartwatch: snapshot failed", "error", err)
			return nil
		}
		view := w.buildView(h.Context(), doc, src.Hostname())
		w.trackCart(view)

		w.mu.Lock()
		strategies := make([]Strategy, len(w.strategies))
		copy(strategies, w.strategies)
		w.mu.Unlock()

		var cleanups []func()
		for i, s := range strategies {
			if c := w.runStrategy(i, s, view, h); c != nil {
				cleanups = append(cleanups, c)
			}
		}
		if len(cleanups) == 0 {
			return nil
		}
		return func() {
			for _, c := range cleanups {
				c()
			}
		}
	}
}

// runStrategy isolates one strategy invocation so a panic cannot skip the
// remaining strategies or lose their cleanups.
func (w *Watcher) runStrategy(i int, s Strategy, view *PageView, h *dispatch.Handle) (cleanup func()) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("cartwatch: strategy panic",
				"index", i, "domain", view.Domain, "panic", r)
			cleanup = nil
		}
	}()
	return s(view, h)
}

// trackCart persists the latest non-empty cart so strategies and the
// admin surface see it across page loads and restarts.
func (w *Watcher) trackCart(view *PageView) {
	if len(view.CartItems) == 0 {
		return
	}
	w.Cart(view.Domain).Set(view.CartItems)
}

// Permit returns the time-gate for domain, creating it on first use. The
// domain is collapsed to its top-level form so every page of a shop
// shares one permit.
func (w *Watcher) Permit(domain string) *permit.Gate {
	tld := adapter.TopLevelDomain(domain)
	w.mu.Lock()
	defer w.mu.Unlock()
	if g, ok := w.gates[tld]; ok {
		return g
	}
	g := permit.NewGate(w.kv, tld, w.cfg.Permit, permit.WithLogger(w.logger))
	w.gates[tld] = g
	return g
}

// Cart returns the persisted cart value for domain, creating it on first
// use.
func (w *Watcher) Cart(domain string) *pvalue.Value[[]adapter.Item] {
	tld := adapter.TopLevelDomain(domain)
	w.mu.Lock()
	defer w.mu.Unlock()
	if v, ok := w.carts[tld]; ok {
		return v
	}
	v := pvalue.New[[]adapter.Item](w.kv, tld+"-cart", nil, pvalue.WithLogger(w.logger))
	w.carts[tld] = v
	return v
}

// importSeed loads a YAML profile file into the catalog. Existing rows
// for the same domains are replaced; the poller then reloads the registry.
func (w *Watcher) importSeed(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("cartwatch: read seed file: %w", err)
	}
	profiles, err := adapter.ParseProfiles(data)
	if err != nil {
		return err
	}
	for _, p := range profiles {
		if err := w.catalog.Save(ctx, p); err != nil {
			return err
		}
	}
	w.logger.Info("cartwatch: seed profiles imported", "file", path, "count", len(profiles))
	return nil
}

// Stats aggregates the runtime counters of every page loop and the
// profile reload poller.
type Stats struct {
	Pages  map[string]dispatch.Stats
	Reload watch.Stats
}

// Stats returns a snapshot of the runtime counters.
func (w *Watcher) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := Stats{Pages: make(map[string]dispatch.Stats, len(w.dispatchers))}
	for url, d := range w.dispatchers {
		s.Pages[url] = d.Stats()
	}
	if w.poller != nil {
		s.Reload = w.poller.Stats()
	}
	return s
}

// Close flushes durable state and releases the browser and databases.
func (w *Watcher) Close() error {
	w.mu.Lock()
	gates := w.gates
	carts := w.carts
	w.gates = map[string]*permit.Gate{}
	w.carts = map[string]*pvalue.Value[[]adapter.Item]{}
	w.mu.Unlock()

	for _, g := range gates {
		g.Close()
	}
	for _, v := range carts {
		v.Close()
	}
	errs := []error{
		w.reporter.Close(),
		w.manager.Close(),
		w.stateDB.Close(),
		w.catalog.Close(),
	}
	return errors.Join(errs...)
}
