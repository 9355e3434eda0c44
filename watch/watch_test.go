package watch

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lesshq/cartwatch/sqlopen"

	_ "modernc.org/sqlite"
)

const testSchema = `CREATE TABLE profiles (
	domain TEXT PRIMARY KEY,
	updated_at INTEGER NOT NULL
)`

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestRun_ReloadsOnChange(t *testing.T) {
	db := sqlopen.OpenMemory(t, sqlopen.WithSchema(testSchema))

	var reloads atomic.Int32
	p := New(db, Options{
		Interval: 10 * time.Millisecond,
		Detector: MaxUpdatedAt("profiles"),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx, func() error {
		reloads.Add(1)
		return nil
	})

	// Quiet database: no reloads.
	time.Sleep(50 * time.Millisecond)
	if got := reloads.Load(); got != 0 {
		t.Fatalf("reloads before any write: got %d, want 0", got)
	}

	if _, err := db.Exec(`INSERT INTO profiles (domain, updated_at) VALUES ('a.example', 100)`); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return reloads.Load() == 1 }, "write did not trigger reload")

	if _, err := db.Exec(`UPDATE profiles SET updated_at = 200 WHERE domain = 'a.example'`); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return reloads.Load() == 2 }, "second write did not trigger reload")

	if got := p.Version(); got != 200 {
		t.Errorf("Version: got %d, want 200", got)
	}
	s := p.Stats()
	if s.Reloads != 2 || s.ChangesDetected != 2 {
		t.Errorf("stats: got %+v, want Reloads=2 ChangesDetected=2", s)
	}
}

func TestRun_DebounceCoalescesWrites(t *testing.T) {
	db := sqlopen.OpenMemory(t, sqlopen.WithSchema(testSchema))

	var reloads atomic.Int32
	p := New(db, Options{
		Interval: 10 * time.Millisecond,
		Debounce: 80 * time.Millisecond,
		Detector: MaxUpdatedAt("profiles"),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx, func() error {
		reloads.Add(1)
		return nil
	})

	// Several writes inside one debounce window.
	for i := 1; i <= 4; i++ {
		if _, err := db.Exec(`INSERT INTO profiles (domain, updated_at) VALUES (?, ?)`,
			fmt.Sprintf("site-%d.example", i), i*10); err != nil {
			t.Fatal(err)
		}
		time.Sleep(12 * time.Millisecond)
	}

	waitFor(t, func() bool { return reloads.Load() >= 1 }, "debounced reload never fired")
	time.Sleep(150 * time.Millisecond)
	if got := reloads.Load(); got != 1 {
		t.Errorf("reloads for one write burst: got %d, want 1", got)
	}
}

func TestRun_FailedReloadRetries(t *testing.T) {
	db := sqlopen.OpenMemory(t, sqlopen.WithSchema(testSchema))

	var calls atomic.Int32
	p := New(db, Options{
		Interval: 10 * time.Millisecond,
		Detector: MaxUpdatedAt("profiles"),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx, func() error {
		if calls.Add(1) == 1 {
			return errors.New("registry busy")
		}
		return nil
	})

	if _, err := db.Exec(`INSERT INTO profiles (domain, updated_at) VALUES ('a.example', 100)`); err != nil {
		t.Fatal(err)
	}

	// First attempt fails, version must not advance, next poll retries.
	waitFor(t, func() bool { return calls.Load() >= 2 }, "failed reload was not retried")
	waitFor(t, func() bool { return p.Version() == 100 }, "version did not advance after successful retry")

	if got := p.Stats().Errors; got < 1 {
		t.Errorf("Errors: got %d, want >= 1", got)
	}
}
