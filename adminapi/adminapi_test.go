package adminapi

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lesshq/cartwatch"
	"github.com/lesshq/cartwatch/adapter"
)

func newTestServer(t *testing.T) (*Server, *cartwatch.Watcher) {
	t.Helper()
	dir := t.TempDir()
	cfg := &cartwatch.Config{
		Storage: cartwatch.StorageConfig{
			ProfileDB: filepath.Join(dir, "profiles.db"),
			StateDB:   filepath.Join(dir, "state.db"),
		},
	}
	w, err := cartwatch.New(cfg, slog.Default())
	if err != nil {
		t.Fatalf("cartwatch.New: %v", err)
	}
	t.Cleanup(func() { w.Close() })
	return New("127.0.0.1:0", w, WithLogger(slog.Default())), w
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t)
	rec := get(t, s.Handler(), "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz: got %d, want 200", rec.Code)
	}
}

func TestDomains(t *testing.T) {
	s, w := newTestServer(t)
	w.Registry().Register(adapter.Fallback(), "shop.example", "other.example")

	rec := get(t, s.Handler(), "/api/domains")
	if rec.Code != http.StatusOK {
		t.Fatalf("domains: got %d, want 200", rec.Code)
	}
	var domains []string
	if err := json.NewDecoder(rec.Body).Decode(&domains); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := []string{"other.example", "shop.example"}
	if len(domains) != 2 || domains[0] != want[0] || domains[1] != want[1] {
		t.Errorf("domains: got %v, want %v", domains, want)
	}
}

func TestPermitLifecycle(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	rec := get(t, h, "/api/permit/shop.example")
	var v struct {
		Domain string `json:"domain"`
		State  string `json:"state"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if v.State != "none" {
		t.Errorf("fresh permit state: got %q, want %q", v.State, "none")
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/permit/shop.example", nil))
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if v.State != "waiting" {
		t.Errorf("created permit state: got %q, want %q", v.State, "waiting")
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/permit/shop.example", nil))
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if v.State != "none" {
		t.Errorf("cleared permit state: got %q, want %q", v.State, "none")
	}
}

func TestCartEndpoint(t *testing.T) {
	s, w := newTestServer(t)
	w.Cart("shop.example").Set([]adapter.Item{{Quantity: 2, Price: 19.99, Currency: "USD"}})

	rec := get(t, s.Handler(), "/api/cart/shop.example")
	var body struct {
		Domain string         `json:"domain"`
		Items  []adapter.Item `json:"items"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Items) != 1 || body.Items[0].Price != 19.99 {
		t.Errorf("cart body: got %+v", body)
	}
}

func TestStatsAndMetrics(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	rec := get(t, h, "/api/stats")
	if rec.Code != http.StatusOK {
		t.Fatalf("stats: got %d, want 200", rec.Code)
	}
	var stats struct {
		Catalog *struct {
			Profiles int `json:"profiles"`
		} `json:"catalog"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats.Catalog == nil {
		t.Error("stats response missing catalog section")
	}

	rec = get(t, h, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics: got %d, want 200", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "cartwatch_dispatches_total") {
		t.Error("metrics output missing cartwatch_dispatches_total")
	}
}
