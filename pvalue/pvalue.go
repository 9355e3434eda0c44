// Package pvalue provides a reactive, durably-stored value cell. A Value is
// usable the moment it is constructed: reads are synchronous against an
// in-memory copy, the real value loads from the store in the background, and
// writes persist asynchronously through a per-value serialized queue.
//
// The ordering contract carried by this package is what makes the permit
// gate race-free: Set updates the in-memory copy before yielding, so a
// synchronous check-then-set sequence within one task always observes its
// own prior writes, regardless of when the durable writes land.
package pvalue

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
)

// Store is the durable key-value backend a Value persists through. Values
// are opaque serialized records; ok is false when the key has never been
// written.
type Store interface {
	Load(ctx context.Context, key string) (data []byte, ok bool, err error)
	Save(ctx context.Context, key string, data []byte) error
}

// Value is a durably-stored cell of type T.
type Value[T any] struct {
	key    string
	store  Store
	logger *slog.Logger

	mu          sync.Mutex
	cur         T
	initialized bool
	initFns     []func(T)
	changeFns   []func(T)

	writeCh   chan T
	writerEnd chan struct{}
	closeOnce sync.Once
}

// Option customises a Value.
type Option func(*options)

type options struct {
	logger *slog.Logger
	queue  int
}

// WithLogger sets the logger used for load and persistence failures.
func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

// New creates a Value seeded with def. The constructor returns immediately;
// the stored value (when present) replaces the in-memory one exactly once,
// after which queued OnInit callbacks run in registration order.
func New[T any](store Store, key string, def T, opts ...Option) *Value[T] {
	o := options{logger: slog.Default(), queue: 64}
	for _, fn := range opts {
		fn(&o)
	}

	v := &Value[T]{
		key:       key,
		store:     store,
		logger:    o.logger,
		cur:       def,
		writeCh:   make(chan T, o.queue),
		writerEnd: make(chan struct{}),
	}

	go v.load()
	go v.writer()
	return v
}

// Get returns the current in-memory value. It never blocks on storage.
func (v *Value[T]) Get() T {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.cur
}

// Set replaces the value. The in-memory copy is updated synchronously,
// so a Get in the same task sees the new value immediately; the durable
// write is queued. OnChange listeners fire only after the write commits.
func (v *Value[T]) Set(val T) {
	v.mu.Lock()
	v.cur = val
	v.mu.Unlock()
	v.writeCh <- val
}

// Update applies f to the synchronously-current value and stores the result.
// Rapid sequential Updates compose without lost writes because f always sees
// the latest in-memory value, never a stale snapshot.
func (v *Value[T]) Update(f func(old T) T) {
	v.mu.Lock()
	v.cur = f(v.cur)
	val := v.cur
	v.mu.Unlock()
	v.writeCh <- val
}

// OnChange registers f to run after each durable write commits. Listeners
// observe values in the order the writes were issued.
func (v *Value[T]) OnChange(f func(T)) {
	v.mu.Lock()
	v.changeFns = append(v.changeFns, f)
	v.mu.Unlock()
}

// OnInit runs f once the initial load has completed. If it already has,
// f runs immediately with the current value; otherwise it is queued and
// invoked in registration order when the load finishes.
func (v *Value[T]) OnInit(f func(T)) {
	v.mu.Lock()
	if v.initialized {
		val := v.cur
		v.mu.Unlock()
		f(val)
		return
	}
	v.initFns = append(v.initFns, f)
	v.mu.Unlock()
}

// Initialized reports whether the initial load has completed.
func (v *Value[T]) Initialized() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.initialized
}

// Close drains the write queue and stops the writer. Set and Update must
// not be called after Close.
func (v *Value[T]) Close() {
	v.closeOnce.Do(func() {
		close(v.writeCh)
	})
	<-v.writerEnd
}

func (v *Value[T]) load() {
	data, ok, err := v.store.Load(context.Background(), v.key)

	v.mu.Lock()
	if err != nil {
		v.logger.Warn("pvalue: load failed, keeping default", "key", v.key, "error", err)
	} else if ok {
		var loaded T
		if uerr := json.Unmarshal(data, &loaded); uerr != nil {
			v.logger.Warn("pvalue: stored value unreadable, keeping default",
				"key", v.key, "error", uerr)
		} else {
			v.cur = loaded
		}
	}
	v.initialized = true
	fns := v.initFns
	v.initFns = nil
	val := v.cur
	v.mu.Unlock()

	for _, f := range fns {
		f(val)
	}
}

// writer serializes durable writes for this value. A single goroutine
// consuming a FIFO queue is what upholds the listener-ordering guarantee
// even when the backing store could complete writes out of order.
func (v *Value[T]) writer() {
	defer close(v.writerEnd)

	for val := range v.writeCh {
		data, err := json.Marshal(val)
		if err != nil {
			v.logger.Error("pvalue: marshal failed, write dropped", "key", v.key, "error", err)
			continue
		}
		if err := v.store.Save(context.Background(), v.key, data); err != nil {
			// Not retried: the in-memory value stays authoritative for the
			// rest of the process lifetime, and listeners are not told a
			// write happened that didn't.
			v.logger.Error("pvalue: save failed", "key", v.key, "error", err)
			continue
		}

		v.mu.Lock()
		fns := make([]func(T), len(v.changeFns))
		copy(fns, v.changeFns)
		v.mu.Unlock()

		for _, f := range fns {
			f(val)
		}
	}
}
