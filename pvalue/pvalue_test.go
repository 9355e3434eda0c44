package pvalue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lesshq/cartwatch/sqlopen"

	_ "modernc.org/sqlite"
)

// slowStore is an in-memory Store whose operations can be delayed or gated,
// to expose the gap between the in-memory value and the durable write.
type slowStore struct {
	mu       sync.Mutex
	data     map[string][]byte
	saveGate chan struct{} // when non-nil, Save blocks until it can receive
	loadGate chan struct{} // when non-nil, Load blocks until it can receive
	failSave bool
}

func newSlowStore() *slowStore {
	return &slowStore{data: map[string][]byte{}}
}

func (s *slowStore) Load(_ context.Context, key string) ([]byte, bool, error) {
	if s.loadGate != nil {
		<-s.loadGate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.data[key]
	return d, ok, nil
}

func (s *slowStore) Save(_ context.Context, key string, data []byte) error {
	if s.saveGate != nil {
		<-s.saveGate
	}
	if s.failSave {
		return errors.New("disk on fire")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = data
	return nil
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal(msg)
}

func TestSet_VisibleBeforeWriteCompletes(t *testing.T) {
	store := newSlowStore()
	store.saveGate = make(chan struct{})

	v := New(store, "counter", 0)
	v.Set(7)

	// The durable write is still blocked on the gate, but the in-memory
	// value must already be the new one.
	if got := v.Get(); got != 7 {
		t.Errorf("Get after Set: got %d, want 7", got)
	}

	close(store.saveGate)
	v.Close()
}

func TestOnChange_FiresAfterCommitInOrder(t *testing.T) {
	store := newSlowStore()
	v := New(store, "seq", 0)

	var mu sync.Mutex
	var seen []int
	v.OnChange(func(n int) {
		mu.Lock()
		seen = append(seen, n)
		mu.Unlock()
	})

	for i := 1; i <= 5; i++ {
		v.Set(i)
	}
	v.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 5 {
		t.Fatalf("listener calls: got %d, want 5 (%v)", len(seen), seen)
	}
	for i, n := range seen {
		if n != i+1 {
			t.Errorf("seen[%d]: got %d, want %d", i, n, i+1)
		}
	}

	// After Close every write has committed.
	d, ok, _ := store.Load(context.Background(), "seq")
	if !ok {
		t.Fatal("expected stored value after Close")
	}
	var stored int
	if err := json.Unmarshal(d, &stored); err != nil {
		t.Fatal(err)
	}
	if stored != 5 {
		t.Errorf("stored value: got %d, want 5", stored)
	}
}

func TestOnChange_NotFiredWhenSaveFails(t *testing.T) {
	store := newSlowStore()
	store.failSave = true

	v := New(store, "k", 0)
	fired := false
	v.OnChange(func(int) { fired = true })

	v.Set(1)
	v.Close()

	if fired {
		t.Error("listener fired for a write that never committed")
	}
	// The in-memory value still reflects the Set.
	if got := v.Get(); got != 1 {
		t.Errorf("Get: got %d, want 1", got)
	}
}

func TestLoad_StoredValueWinsOverDefault(t *testing.T) {
	store := newSlowStore()
	store.data["k"] = []byte(`42`)

	v := New(store, "k", 0)
	waitFor(t, v.Initialized, "load never completed")

	if got := v.Get(); got != 42 {
		t.Errorf("Get after load: got %d, want 42", got)
	}
	v.Close()
}

func TestLoad_AbsentKeyKeepsDefault(t *testing.T) {
	store := newSlowStore()
	v := New(store, "missing", 9)
	waitFor(t, v.Initialized, "load never completed")

	if got := v.Get(); got != 9 {
		t.Errorf("Get: got %d, want 9", got)
	}
	v.Close()
}

func TestOnInit_QueuedAndImmediate(t *testing.T) {
	store := newSlowStore()
	store.loadGate = make(chan struct{})
	store.data["k"] = []byte(`3`)

	v := New(store, "k", 0)

	var mu sync.Mutex
	var order []string
	v.OnInit(func(n int) {
		mu.Lock()
		order = append(order, "first")
		mu.Unlock()
		if n != 3 {
			t.Errorf("queued OnInit value: got %d, want 3", n)
		}
	})
	v.OnInit(func(int) {
		mu.Lock()
		order = append(order, "second")
		mu.Unlock()
	})

	close(store.loadGate)
	waitFor(t, v.Initialized, "load never completed")
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 2
	}, "queued OnInit callbacks never ran")

	// Registered after init: runs immediately.
	ran := false
	v.OnInit(func(n int) {
		ran = true
		if n != 3 {
			t.Errorf("immediate OnInit value: got %d, want 3", n)
		}
	})
	if !ran {
		t.Error("OnInit after load did not run synchronously")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("queued OnInit order: got %v, want [first second]", order)
	}
	v.Close()
}

func TestUpdate_ComposesWithoutLostWrites(t *testing.T) {
	store := newSlowStore()
	store.saveGate = make(chan struct{})

	v := New(store, "n", 0)
	for i := 0; i < 10; i++ {
		v.Update(func(old int) int { return old + 1 })
	}
	if got := v.Get(); got != 10 {
		t.Errorf("Get after 10 increments: got %d, want 10", got)
	}

	go func() {
		for i := 0; i < 10; i++ {
			store.saveGate <- struct{}{}
		}
	}()
	v.Close()
}

func TestSQLiteStore_RoundTrip(t *testing.T) {
	db := sqlopen.OpenMemory(t)
	store, err := NewSQLiteStore(db)
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	if _, ok, err := store.Load(ctx, "nope"); err != nil || ok {
		t.Fatalf("Load absent: got ok=%v err=%v, want false nil", ok, err)
	}

	if err := store.Save(ctx, "k", []byte(`"hello"`)); err != nil {
		t.Fatal(err)
	}
	if err := store.Save(ctx, "k", []byte(`"world"`)); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	d, ok, err := store.Load(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("Load: ok=%v err=%v", ok, err)
	}
	if string(d) != `"world"` {
		t.Errorf("Load: got %s, want %q", d, `"world"`)
	}
}

func TestValue_BackedBySQLite(t *testing.T) {
	db := sqlopen.OpenMemory(t)
	store, err := NewSQLiteStore(db)
	if err != nil {
		t.Fatal(err)
	}

	type prefs struct {
		Muted bool   `json:"muted"`
		Tone  string `json:"tone"`
	}

	v := New(store, "prefs", prefs{Tone: "gentle"})
	v.Set(prefs{Muted: true, Tone: "firm"})
	v.Close()

	// A fresh Value over the same store sees the persisted state.
	v2 := New(store, "prefs", prefs{})
	waitFor(t, v2.Initialized, "load never completed")
	got := v2.Get()
	if !got.Muted || got.Tone != "firm" {
		t.Errorf("reloaded value: got %+v, want {Muted:true Tone:firm}", got)
	}
	v2.Close()
}
