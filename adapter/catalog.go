package adapter

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lesshq/cartwatch/adapter/internal/store"
)

// Report re-exports the stored failure report type.
type Report = store.Report

// Catalog couples the registry to its durable profile store: profiles go
// in as declarative selector specs, come out as compiled bundles, and
// carry failure reports and health counters alongside.
type Catalog struct {
	store  *store.Store
	logger *slog.Logger
}

// CatalogOption customises a Catalog.
type CatalogOption func(*Catalog)

// WithCatalogLogger sets the catalog's logger.
func WithCatalogLogger(l *slog.Logger) CatalogOption {
	return func(c *Catalog) { c.logger = l }
}

// OpenCatalog opens (or creates) the profile database at path.
func OpenCatalog(path string, opts ...CatalogOption) (*Catalog, error) {
	s, err := store.Open(path)
	if err != nil {
		return nil, fmt.Errorf("adapter: open catalog: %w", err)
	}
	return newCatalog(s, opts...), nil
}

func newCatalog(s *store.Store, opts ...CatalogOption) *Catalog {
	c := &Catalog{store: s, logger: slog.Default()}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Close closes the underlying database.
func (c *Catalog) Close() error { return c.store.Close() }

// DB exposes the underlying handle for the hot-reload change detector.
func (c *Catalog) DB() *sql.DB { return c.store.DB }

// Save stores p under the top-level domain of each of its hostnames,
// replacing any prior profile for the same domain.
func (c *Catalog) Save(ctx context.Context, p *Profile) error {
	if err := p.Validate(); err != nil {
		return err
	}
	spec, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("adapter: encode profile: %w", err)
	}
	for _, h := range p.Domains {
		tld := TopLevelDomain(h)
		if tld == "" {
			continue
		}
		if err := c.store.Put(ctx, &store.Record{Domain: tld, Spec: spec}); err != nil {
			return fmt.Errorf("adapter: save profile %q: %w", tld, err)
		}
	}
	return nil
}

// Delete removes the profile for a domain.
func (c *Catalog) Delete(ctx context.Context, domain string) error {
	return c.store.Delete(ctx, TopLevelDomain(domain))
}

// Load compiles every stored profile into its bundle, keyed by top-level
// domain. A profile that fails to decode or compile is skipped and its
// health counter marked down; one broken profile never blocks the rest.
func (c *Catalog) Load(ctx context.Context) (map[string]Bundle, error) {
	recs, err := c.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("adapter: list profiles: %w", err)
	}

	bundles := make(map[string]Bundle, len(recs))
	for _, rec := range recs {
		var p Profile
		if err := json.Unmarshal(rec.Spec, &p); err != nil {
			c.logger.Warn("adapter: stored profile unreadable, skipped",
				"domain", rec.Domain, "error", err)
			c.markFailure(ctx, rec.Domain, "decode", err)
			continue
		}
		b, err := p.Compile()
		if err != nil {
			c.logger.Warn("adapter: stored profile failed to compile, skipped",
				"domain", rec.Domain, "error", err)
			c.markFailure(ctx, rec.Domain, "compile", err)
			continue
		}
		bundles[rec.Domain] = b
	}
	return bundles, nil
}

// LoadInto atomically replaces r's bundle set with the compiled catalog.
func (c *Catalog) LoadInto(ctx context.Context, r *Registry) error {
	bundles, err := c.Load(ctx)
	if err != nil {
		return err
	}
	r.Replace(bundles)
	c.logger.Info("adapter: registry loaded", "profiles", len(bundles))
	return nil
}

// ReportFailure records a getter failure for a domain and marks the
// profile's health down.
func (c *Catalog) ReportFailure(ctx context.Context, domain, area, message string) error {
	tld := TopLevelDomain(domain)
	if err := c.store.InsertReport(ctx, &store.Report{
		Domain:  tld,
		Area:    area,
		Message: message,
	}); err != nil {
		return fmt.Errorf("adapter: report failure: %w", err)
	}
	return c.store.RecordFailure(ctx, tld)
}

// RecordUse bumps usage and health counters after a successful resolution.
func (c *Catalog) RecordUse(ctx context.Context, domain string) error {
	tld := TopLevelDomain(domain)
	if err := c.store.IncrementUses(ctx, tld); err != nil {
		return err
	}
	return c.store.RecordSuccess(ctx, tld)
}

// Reports returns the most recent failure reports for a domain (all
// domains when empty), newest first.
func (c *Catalog) Reports(ctx context.Context, domain string, limit int) ([]*Report, error) {
	return c.store.ListReports(ctx, TopLevelDomain(domain), limit)
}

// PruneReports deletes reports older than the retention window.
func (c *Catalog) PruneReports(ctx context.Context, retention time.Duration) (int64, error) {
	return c.store.PruneReports(ctx, time.Now().Add(-retention))
}

// Stats holds catalog counters.
type Stats struct {
	Profiles int `json:"profiles"`
	Reports  int `json:"reports"`
}

// Stats returns catalog counters.
func (c *Catalog) Stats(ctx context.Context) (*Stats, error) {
	profiles, err := c.store.Count(ctx)
	if err != nil {
		return nil, err
	}
	reports, err := c.store.CountReports(ctx)
	if err != nil {
		return nil, err
	}
	return &Stats{Profiles: profiles, Reports: reports}, nil
}

func (c *Catalog) markFailure(ctx context.Context, domain, area string, err error) {
	if rerr := c.ReportFailure(ctx, domain, area, err.Error()); rerr != nil {
		c.logger.Warn("adapter: failure report not stored", "domain", domain, "error", rerr)
	}
}

// ParseProfiles decodes a YAML document containing a list of profiles,
// the format profile seed files use:
//
//	- domains: [www.shop.example]
//	  selectors:
//	    checkout: "button.checkout"
func ParseProfiles(data []byte) ([]*Profile, error) {
	var profiles []*Profile
	if err := yaml.Unmarshal(data, &profiles); err != nil {
		return nil, fmt.Errorf("adapter: parse profiles: %w", err)
	}
	for _, p := range profiles {
		if err := p.Validate(); err != nil {
			return nil, err
		}
	}
	return profiles, nil
}
