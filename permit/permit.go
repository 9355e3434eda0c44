// Package permit implements the time-gated purchase window. A permit is
// requested, waits out a cooling-off delay, opens for a bounded window,
// and collapses to a short grace period once a purchase is made with it.
//
// State is derived, never stored: a permit record carries only its start
// and end instants plus a used flag, and every state question is answered
// against the clock at call time. That keeps the stored record valid no
// matter how long the process was gone.
package permit

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lesshq/cartwatch/pvalue"
)

// State is the lifecycle position of a permit at a given instant.
type State int

const (
	// StateNone means no permit exists for the domain.
	StateNone State = iota
	// StateWaiting means a permit exists but its window has not opened.
	StateWaiting
	// StateActive means the window is open and the permit is unused.
	StateActive
	// StateGrace means the permit was used and its shortened tail is
	// still running.
	StateGrace
	// StateExpired means the window (or grace tail) has closed.
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateNone:
		return "none"
	case StateWaiting:
		return "waiting"
	case StateActive:
		return "active"
	case StateGrace:
		return "grace"
	case StateExpired:
		return "expired"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Permit is the stored record for one domain's purchase window. Start and
// End are unix epoch milliseconds.
type Permit struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
	Used  bool  `json:"used"`
}

// StateAt derives the permit's state at instant now.
func (p *Permit) StateAt(now time.Time) State {
	if p == nil {
		return StateNone
	}
	ms := now.UnixMilli()
	switch {
	case ms >= p.End:
		return StateExpired
	case ms < p.Start:
		return StateWaiting
	case p.Used:
		return StateGrace
	default:
		return StateActive
	}
}

// StartTime returns Start as a time.Time.
func (p *Permit) StartTime() time.Time { return time.UnixMilli(p.Start) }

// EndTime returns End as a time.Time.
func (p *Permit) EndTime() time.Time { return time.UnixMilli(p.End) }

// Config holds the three durations that shape every permit.
type Config struct {
	// WaitTime is the cooling-off delay between requesting a permit and
	// its window opening.
	WaitTime time.Duration `yaml:"wait_time"`
	// WindowLength is how long the window stays open once it does.
	WindowLength time.Duration `yaml:"window_length"`
	// GracePeriod is how much of the window survives a purchase.
	GracePeriod time.Duration `yaml:"grace_period"`
}

func (c *Config) applyDefaults() {
	if c.WaitTime == 0 {
		c.WaitTime = 24 * time.Hour
	}
	if c.WindowLength == 0 {
		c.WindowLength = 48 * time.Hour
	}
	if c.GracePeriod == 0 {
		c.GracePeriod = 50 * time.Minute
	}
}

// Gate manages the permit for a single domain. All mutating operations are
// check-then-set under one mutex, and the backing pvalue applies writes to
// its in-memory copy synchronously, so concurrent callers cannot double-issue
// or resurrect a permit.
type Gate struct {
	domain string
	cfg    Config
	now    func() time.Time
	logger *slog.Logger

	mu  sync.Mutex
	val *pvalue.Value[*Permit]
}

// GateOption customises a Gate.
type GateOption func(*Gate)

// WithClock substitutes the time source. Tests use this to walk a permit
// through its lifecycle without sleeping.
func WithClock(now func() time.Time) GateOption {
	return func(g *Gate) { g.now = now }
}

// WithLogger sets the gate's logger.
func WithLogger(l *slog.Logger) GateOption {
	return func(g *Gate) { g.logger = l }
}

// Key returns the storage key for domain's permit.
func Key(domain string) string { return domain + "-permit" }

// NewGate creates the gate for domain, loading any stored permit from store.
func NewGate(store pvalue.Store, domain string, cfg Config, opts ...GateOption) *Gate {
	cfg.applyDefaults()
	g := &Gate{
		domain: domain,
		cfg:    cfg,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(g)
	}
	g.val = pvalue.New[*Permit](store, Key(domain), nil, pvalue.WithLogger(g.logger))
	return g
}

// Get returns the stored permit (nil when none) and its state now.
func (g *Gate) Get() (*Permit, State) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p := g.val.Get()
	return p, p.StateAt(g.now())
}

// State returns the permit's state at the current instant.
func (g *Gate) State() State {
	_, s := g.Get()
	return s
}

// IsValid reports whether a purchase is permitted right now: the window is
// open, either untouched or within its grace tail.
func (g *Gate) IsValid() bool {
	s := g.State()
	return s == StateActive || s == StateGrace
}

// CreateIfNone creates a permit if none is current, returning the permit that is
// now in force. A nil or expired record is replaced by a fresh one whose
// window opens after the wait time; a waiting, active, or grace permit is
// returned untouched, so repeated requests never push the window out.
func (g *Gate) CreateIfNone() *Permit {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	cur := g.val.Get()
	if s := cur.StateAt(now); s != StateNone && s != StateExpired {
		return cur
	}

	start := now.Add(g.cfg.WaitTime)
	p := &Permit{
		Start: start.UnixMilli(),
		End:   start.Add(g.cfg.WindowLength).UnixMilli(),
	}
	g.val.Set(p)
	g.logger.Info("permit requested",
		"domain", g.domain,
		"opens", p.StartTime(),
		"closes", p.EndTime())
	return p
}

// MarkAsUsed records that a purchase was made with the active permit and
// replaces the window end with now plus the grace period, even when that
// lands past the original end. Only an active permit can be used; in every
// other state the call is a no-op and returns false.
func (g *Gate) MarkAsUsed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	cur := g.val.Get()
	if cur.StateAt(now) != StateActive {
		return false
	}

	p := &Permit{
		Start: cur.Start,
		End:   now.Add(g.cfg.GracePeriod).UnixMilli(),
		Used:  true,
	}
	g.val.Set(p)
	g.logger.Info("permit used",
		"domain", g.domain,
		"grace_until", p.EndTime())
	return true
}

// Clear removes the permit entirely.
func (g *Gate) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.val.Set(nil)
}

// OnChange registers f to run after each committed permit write.
func (g *Gate) OnChange(f func(*Permit)) { g.val.OnChange(f) }

// OnInit registers f to run once the stored permit has loaded.
func (g *Gate) OnInit(f func(*Permit)) { g.val.OnInit(f) }

// Close flushes pending permit writes.
func (g *Gate) Close() { g.val.Close() }
