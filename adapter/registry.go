package adapter

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// Registry stores one Bundle per top-level domain. It is an explicit object
// passed by reference, constructed once per process, never a package-level
// singleton.
type Registry struct {
	logger *slog.Logger

	mu      sync.RWMutex
	bundles map[string]Bundle
}

// Option customises a Registry.
type Option func(*Registry)

// WithLogger sets the registry's logger.
func WithLogger(l *slog.Logger) Option { return func(r *Registry) { r.logger = l } }

// New creates an empty Registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		logger:  slog.Default(),
		bundles: make(map[string]Bundle),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Register stores bundle under the top-level domain of each hostname.
// Hostnames sharing a top-level domain collapse to one entry, and a later
// registration for the same key replaces the earlier one entirely (last
// registration wins, which is what makes hot-patching selectors possible).
func (r *Registry) Register(bundle Bundle, hostnames ...string) {
	b := withFallback(bundle)

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, h := range hostnames {
		tld := TopLevelDomain(h)
		if tld == "" {
			r.logger.Warn("adapter: unregisterable hostname skipped", "hostname", h)
			continue
		}
		if _, exists := r.bundles[tld]; exists {
			r.logger.Debug("adapter: bundle replaced", "domain", tld)
		}
		r.bundles[tld] = b
	}
}

// Resolve returns the bundle for hostname's top-level domain, or the total
// fallback bundle when none is registered. The result is always safe to
// call without nil checks.
func (r *Registry) Resolve(hostname string) Bundle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if b, ok := r.bundles[TopLevelDomain(hostname)]; ok {
		return b
	}
	return Fallback()
}

// Has reports whether a bundle is registered for hostname's top-level
// domain. Intended for "this site isn't supported yet" messaging only;
// core logic relies on the fallback instead.
func (r *Registry) Has(hostname string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.bundles[TopLevelDomain(hostname)]
	return ok
}

// Domains returns the registered top-level domains, sorted.
func (r *Registry) Domains() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.bundles))
	for d := range r.bundles {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// Replace swaps the full bundle set atomically, keyed by top-level domain.
// The hot-reload path uses this so a reload is all-or-nothing.
func (r *Registry) Replace(bundles map[string]Bundle) {
	next := make(map[string]Bundle, len(bundles))
	for host, b := range bundles {
		tld := TopLevelDomain(host)
		if tld == "" {
			continue
		}
		next[tld] = withFallback(b)
	}

	r.mu.Lock()
	r.bundles = next
	r.mu.Unlock()
}

// TopLevelDomain reduces a hostname to its final two dot-separated labels:
// "checkout.tula.com", "www.tula.com" and "us.tula.com" all become
// "tula.com". Scheme, path, port and a trailing dot are stripped first.
//
// Deliberately coarse about multi-part public suffixes ("co.uk"): the
// collision it risks is rare across real storefronts, and the heuristic
// holds up across the thousands of checkout/shop/regional subdomains
// actually observed.
func TopLevelDomain(hostname string) string {
	h := strings.ToLower(strings.TrimSpace(hostname))
	if i := strings.Index(h, "://"); i >= 0 {
		h = h[i+3:]
	}
	if i := strings.IndexAny(h, "/?#"); i >= 0 {
		h = h[:i]
	}
	if i := strings.LastIndex(h, ":"); i >= 0 {
		h = h[:i]
	}
	h = strings.Trim(h, ".")
	if h == "" {
		return ""
	}

	labels := strings.Split(h, ".")
	if len(labels) <= 2 {
		return h
	}
	return strings.Join(labels[len(labels)-2:], ".")
}
