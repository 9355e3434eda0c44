// Package watch reloads in-process state when a SQLite database changes
// underneath the daemon. Its one consumer is profile hot-reload: selector
// fixes written to the catalog land in the running registry without a
// restart.
//
// Usage:
//
//	p := watch.New(catalog.DB(), watch.Options{Debounce: 500 * time.Millisecond})
//	go p.Run(ctx, func() error { return catalog.LoadInto(ctx, registry) })
package watch

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"
)

// Detector reads a version token from the database; two calls returning
// different values mean something changed. int64 maps naturally onto
// PRAGMA data_version or a MAX(updated_at) query.
type Detector func(ctx context.Context, db *sql.DB) (int64, error)

// Options tunes the poller.
type Options struct {
	// Interval is the polling frequency. Default: 1s.
	Interval time.Duration
	// Debounce is the quiet period after a detected change before reload
	// fires; further changes reset the timer. 0 fires immediately.
	Debounce time.Duration
	// Detector overrides the default DataVersion detector.
	Detector Detector
	// Logger overrides slog.Default().
	Logger *slog.Logger
}

func (o *Options) defaults() {
	if o.Interval <= 0 {
		o.Interval = time.Second
	}
	if o.Detector == nil {
		o.Detector = DataVersion
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Stats are point-in-time poller counters.
type Stats struct {
	Checks          int64 `json:"checks"`
	ChangesDetected int64 `json:"changes_detected"`
	Errors          int64 `json:"errors"`
	Reloads         int64 `json:"reloads"`
}

// Poller polls a database and runs a reload action when it changes.
type Poller struct {
	db   *sql.DB
	opts Options

	version atomic.Int64
	checks  atomic.Int64
	changes atomic.Int64
	errors  atomic.Int64
	reloads atomic.Int64
}

// New creates a Poller. Call Run to start the loop.
func New(db *sql.DB, opts Options) *Poller {
	opts.defaults()
	return &Poller{db: db, opts: opts}
}

// Version returns the last successfully processed version token.
func (p *Poller) Version() int64 { return p.version.Load() }

// Stats returns the current counters.
func (p *Poller) Stats() Stats {
	return Stats{
		Checks:          p.checks.Load(),
		ChangesDetected: p.changes.Load(),
		Errors:          p.errors.Load(),
		Reloads:         p.reloads.Load(),
	}
}

// Run blocks until ctx is cancelled, polling at the configured interval.
// If reload returns an error the version does not advance, so the reload
// retries on the next poll cycle.
func (p *Poller) Run(ctx context.Context, reload func() error) {
	log := p.opts.Logger

	if v, err := p.opts.Detector(ctx, p.db); err != nil {
		log.Warn("watch: initial version check failed", "error", err)
	} else {
		p.version.Store(v)
	}

	ticker := time.NewTicker(p.opts.Interval)
	defer ticker.Stop()

	var timer *time.Timer
	var timerCh <-chan time.Time
	pending := int64(-1)

	log.Info("watch: started", "interval", p.opts.Interval, "debounce", p.opts.Debounce)

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			log.Info("watch: stopped")
			return

		case <-ticker.C:
			p.checks.Add(1)
			cur, err := p.opts.Detector(ctx, p.db)
			if err != nil {
				p.errors.Add(1)
				log.Warn("watch: version check failed", "error", err)
				continue
			}
			if cur == p.version.Load() || cur == pending {
				continue
			}
			p.changes.Add(1)
			pending = cur

			if p.opts.Debounce <= 0 {
				p.fire(log, reload, pending)
				pending = -1
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(p.opts.Debounce)
			timerCh = timer.C
			log.Debug("watch: change detected, debouncing", "pending_version", cur)

		case <-timerCh:
			timerCh = nil
			if pending >= 0 {
				p.fire(log, reload, pending)
				pending = -1
			}
		}
	}
}

func (p *Poller) fire(log *slog.Logger, reload func() error, ver int64) {
	start := time.Now()
	if err := reload(); err != nil {
		p.errors.Add(1)
		log.Error("watch: reload failed", "error", err, "version", ver)
		return
	}
	p.reloads.Add(1)
	p.version.Store(ver)
	log.Info("watch: reload complete", "version", ver, "duration", time.Since(start))
}

// DataVersion uses PRAGMA data_version, which increments whenever another
// connection writes the same database file; it sees cross-process writes.
func DataVersion(ctx context.Context, db *sql.DB) (int64, error) {
	var v int64
	err := db.QueryRowContext(ctx, "PRAGMA data_version").Scan(&v)
	return v, err
}

// MaxUpdatedAt returns a Detector polling MAX(updated_at) on a table.
// It also sees writes made through the poller's own connection pool,
// which PRAGMA data_version does not.
func MaxUpdatedAt(table string) Detector {
	query := `SELECT COALESCE(MAX(updated_at), 0) FROM ` + quoteIdent(table)
	return func(ctx context.Context, db *sql.DB) (int64, error) {
		var v int64
		err := db.QueryRowContext(ctx, query).Scan(&v)
		return v, err
	}
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
