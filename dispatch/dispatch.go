// Package dispatch re-runs registered effects exactly once per meaningful
// page change. It debounces mutation bursts, filters out the changes its
// own effects caused, and gives every effect instance a cancellation
// handle so superseded work cannot act on a stale snapshot.
//
// The change feed is abstracted behind Source, so the debounce, novelty
// and ordering logic runs identically over a live browser page and a
// synthetic test source.
package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Change is one batch of mutated node keys from a Source. A batch with no
// targets always counts as novel.
type Change struct {
	Targets []string
}

// Source is a feed of page changes. Subscribe registers fn for every
// change until cancel is called; implementations must not call fn after
// cancel returns.
type Source interface {
	Subscribe(fn func(Change)) (cancel func(), err error)
}

// Handle is the cancellation token handed to each effect instance.
// Everything the effect attaches (listeners, timers, goroutines) must
// tie its lifetime to the handle so a superseded instance cannot fire
// after its cleanup.
type Handle struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// Context returns the handle's context, cancelled when the instance is
// superseded or the dispatcher disposes.
func (h *Handle) Context() context.Context { return h.ctx }

// Done returns a channel closed on cancellation.
func (h *Handle) Done() <-chan struct{} { return h.ctx.Done() }

// Cancelled reports whether the handle has been cancelled.
func (h *Handle) Cancelled() bool { return h.ctx.Err() != nil }

// Effect is a unit of dispatch-triggered work. It runs once per dispatch
// and may return a cleanup invoked before the next run (or on dispose).
type Effect func(h *Handle) (cleanup func())

// State is the dispatcher's lifecycle position.
type State int32

const (
	StateIdle State = iota
	StateObserving
	StateDispatching
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateObserving:
		return "observing"
	case StateDispatching:
		return "dispatching"
	case StateDisposed:
		return "disposed"
	default:
		return "unknown"
	}
}

// Stats holds dispatcher counters.
type Stats struct {
	Dispatches   uint64 `json:"dispatches"`
	Coalesced    uint64 `json:"coalesced"`
	Suppressed   uint64 `json:"suppressed"`
	Dropped      uint64 `json:"dropped"`
	EffectPanics uint64 `json:"effect_panics"`
}

type effectEntry struct {
	fn      Effect
	handle  *Handle
	cleanup func()
}

// Dispatcher owns the observe → debounce → dispatch loop for one page.
type Dispatcher struct {
	src      Source
	debounce time.Duration
	buffer   int
	logger   *slog.Logger

	mu      sync.Mutex
	effects []*effectEntry
	started bool

	changeCh chan Change
	addCh    chan *effectEntry
	done     chan struct{}
	state    atomic.Int32

	dispatches   atomic.Uint64
	coalesced    atomic.Uint64
	suppressed   atomic.Uint64
	dropped      atomic.Uint64
	effectPanics atomic.Uint64
}

// Option customises a Dispatcher.
type Option func(*Dispatcher)

// WithDebounce sets the trailing-edge debounce window. Default: 100ms.
func WithDebounce(d time.Duration) Option {
	return func(dp *Dispatcher) {
		if d > 0 {
			dp.debounce = d
		}
	}
}

// WithLogger sets the dispatcher's logger.
func WithLogger(l *slog.Logger) Option { return func(dp *Dispatcher) { dp.logger = l } }

// WithBuffer sets the change queue depth. Changes beyond it are dropped
// and counted, never blocking the source. Default: 256.
func WithBuffer(n int) Option {
	return func(dp *Dispatcher) {
		if n > 0 {
			dp.buffer = n
		}
	}
}

// New creates a Dispatcher over src.
func New(src Source, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		src:      src,
		debounce: 100 * time.Millisecond,
		buffer:   256,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(d)
	}
	d.changeCh = make(chan Change, d.buffer)
	// Buffered so an effect may register further effects mid-dispatch
	// while the loop goroutine is still inside dispatchAll.
	d.addCh = make(chan *effectEntry, 16)
	d.done = make(chan struct{})
	return d
}

// AddEffect registers an effect. Before Start it is queued for the initial
// dispatch; after the first dispatch it additionally mounts immediately
// once, so late registrants don't wait for the next page change.
func (d *Dispatcher) AddEffect(fn Effect) {
	entry := &effectEntry{fn: fn}

	d.mu.Lock()
	started := d.started
	if !started {
		d.effects = append(d.effects, entry)
		d.mu.Unlock()
		return
	}
	d.mu.Unlock()

	// Hand the entry to the loop goroutine so mounting never interleaves
	// with a dispatch in progress.
	select {
	case d.addCh <- entry:
	case <-d.done:
	}
}

// Start subscribes to the source and runs the loop until ctx is cancelled.
// One dispatch fires immediately so effects see the initial page state.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return nil
	}
	d.started = true
	d.mu.Unlock()

	unsub, err := d.src.Subscribe(func(c Change) {
		select {
		case d.changeCh <- c:
		default:
			d.dropped.Add(1)
		}
	})
	if err != nil {
		return err
	}

	d.state.Store(int32(StateObserving))
	go d.run(ctx, unsub)
	return nil
}

// Done returns a channel closed once the dispatcher has disposed.
func (d *Dispatcher) Done() <-chan struct{} { return d.done }

// State returns the dispatcher's current lifecycle state.
func (d *Dispatcher) State() State { return State(d.state.Load()) }

// Stats returns a snapshot of the dispatcher's counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Dispatches:   d.dispatches.Load(),
		Coalesced:    d.coalesced.Load(),
		Suppressed:   d.suppressed.Load(),
		Dropped:      d.dropped.Load(),
		EffectPanics: d.effectPanics.Load(),
	}
}

func (d *Dispatcher) run(ctx context.Context, unsub func()) {
	defer close(d.done)
	defer unsub()

	// Targets of the previously dispatched batch, for the self-trigger
	// guard: a new batch contained entirely within it is our own doing.
	prev := map[string]struct{}{}
	pending := map[string]struct{}{}

	var timer *time.Timer
	var timerCh <-chan time.Time
	arm := func() {
		if timer != nil {
			timer.Stop()
		}
		timer = time.NewTimer(d.debounce)
		timerCh = timer.C
	}
	disarm := func() {
		if timer != nil {
			timer.Stop()
			timer = nil
			timerCh = nil
		}
	}

	// Initial dispatch: effects observe the page as loaded.
	d.mu.Lock()
	entries := d.effects
	d.mu.Unlock()
	d.dispatchAll(ctx, entries)

	for {
		select {
		case <-ctx.Done():
			disarm()
			d.dispose(entries)
			return

		case entry := <-d.addCh:
			d.mu.Lock()
			d.effects = append(d.effects, entry)
			entries = d.effects
			d.mu.Unlock()
			d.mount(ctx, entry)

		case c := <-d.changeCh:
			if !novel(c, prev) {
				d.suppressed.Add(1)
				continue
			}
			if timerCh != nil {
				d.coalesced.Add(1)
			}
			for _, t := range c.Targets {
				pending[t] = struct{}{}
			}
			arm()

		case <-timerCh:
			disarm()
			prev = pending
			pending = map[string]struct{}{}
			d.mu.Lock()
			entries = d.effects
			d.mu.Unlock()
			d.dispatchAll(ctx, entries)
		}
	}
}

// novel reports whether the batch contains at least one target not seen in
// the previous dispatched batch. Target-less batches are always novel.
func novel(c Change, prev map[string]struct{}) bool {
	if len(c.Targets) == 0 {
		return true
	}
	for _, t := range c.Targets {
		if _, ok := prev[t]; !ok {
			return true
		}
	}
	return false
}

// dispatchAll tears down every previous effect instance, in registration
// order, strictly before any effect re-runs. Old and new instances never
// interleave.
func (d *Dispatcher) dispatchAll(ctx context.Context, entries []*effectEntry) {
	d.state.Store(int32(StateDispatching))
	defer d.state.Store(int32(StateObserving))

	for _, e := range entries {
		d.unmount(e)
	}
	for _, e := range entries {
		d.mount(ctx, e)
	}
	d.dispatches.Add(1)
}

func (d *Dispatcher) mount(ctx context.Context, e *effectEntry) {
	hctx, cancel := context.WithCancel(ctx)
	e.handle = &Handle{ctx: hctx, cancel: cancel}

	defer func() {
		if r := recover(); r != nil {
			d.effectPanics.Add(1)
			d.logger.Error("dispatch: effect panicked", "panic", r)
		}
	}()
	e.cleanup = e.fn(e.handle)
}

func (d *Dispatcher) unmount(e *effectEntry) {
	if e.handle != nil {
		e.handle.cancel()
		e.handle = nil
	}
	if e.cleanup == nil {
		return
	}
	cleanup := e.cleanup
	e.cleanup = nil

	defer func() {
		if r := recover(); r != nil {
			d.effectPanics.Add(1)
			d.logger.Error("dispatch: effect cleanup panicked", "panic", r)
		}
	}()
	cleanup()
}

func (d *Dispatcher) dispose(entries []*effectEntry) {
	for _, e := range entries {
		d.unmount(e)
	}
	d.state.Store(int32(StateDisposed))
	d.logger.Debug("dispatch: disposed", "dispatches", d.dispatches.Load())
}
