// Package adminapi exposes the watcher's operational surface over HTTP:
// health, registered domains, permit inspection and control, persisted
// carts, runtime counters, and Prometheus metrics.
package adminapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lesshq/cartwatch"
)

// Server serves the admin API for one Watcher.
type Server struct {
	watcher *cartwatch.Watcher
	logger  *slog.Logger
	metrics *prometheus.Registry
	srv     *http.Server
}

// Option customises a Server.
type Option func(*Server)

// WithLogger sets the server's logger.
func WithLogger(l *slog.Logger) Option { return func(s *Server) { s.logger = l } }

// New builds the admin server for w, listening on addr once Start is
// called.
func New(addr string, w *cartwatch.Watcher, opts ...Option) *Server {
	s := &Server{
		watcher: w,
		logger:  slog.Default(),
		metrics: prometheus.NewRegistry(),
	}
	for _, o := range opts {
		o(s)
	}
	s.registerMetrics()
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler builds the router. Exposed separately so tests can drive it
// without a listener.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/metrics", promhttp.HandlerFor(s.metrics, promhttp.HandlerOpts{}).ServeHTTP)

	r.Route("/api", func(r chi.Router) {
		r.Get("/domains", s.handleDomains)
		r.Get("/stats", s.handleStats)
		r.Route("/permit/{domain}", func(r chi.Router) {
			r.Get("/", s.handlePermitGet)
			r.Post("/", s.handlePermitCreate)
			r.Delete("/", s.handlePermitClear)
		})
		r.Get("/cart/{domain}", s.handleCart)
	})
	return r
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("adminapi: listening", "addr", s.srv.Addr)
		errCh <- s.srv.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) registerMetrics() {
	sum := func(pick func(cartwatch.Stats) float64) func() float64 {
		return func() float64 { return pick(s.watcher.Stats()) }
	}
	s.metrics.MustRegister(
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "cartwatch_dispatches_total",
			Help: "Adaptation dispatches across all pages",
		}, sum(func(st cartwatch.Stats) float64 {
			var n uint64
			for _, p := range st.Pages {
				n += p.Dispatches
			}
			return float64(n)
		})),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "cartwatch_changes_coalesced_total",
			Help: "Change batches folded into a pending dispatch",
		}, sum(func(st cartwatch.Stats) float64 {
			var n uint64
			for _, p := range st.Pages {
				n += p.Coalesced
			}
			return float64(n)
		})),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "cartwatch_changes_suppressed_total",
			Help: "Change batches dropped as echoes of the previous dispatch",
		}, sum(func(st cartwatch.Stats) float64 {
			var n uint64
			for _, p := range st.Pages {
				n += p.Suppressed
			}
			return float64(n)
		})),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "cartwatch_effect_panics_total",
			Help: "Effect invocations that panicked and were recovered",
		}, sum(func(st cartwatch.Stats) float64 {
			var n uint64
			for _, p := range st.Pages {
				n += p.EffectPanics
			}
			return float64(n)
		})),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "cartwatch_profile_reloads_total",
			Help: "Registry reloads triggered by catalog changes",
		}, sum(func(st cartwatch.Stats) float64 {
			return float64(st.Reload.Reloads)
		})),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "cartwatch_pages_watched",
			Help: "Pages currently under observation",
		}, sum(func(st cartwatch.Stats) float64 {
			return float64(len(st.Pages))
		})),
	)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDomains(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.watcher.Registry().Domains())
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := struct {
		Runtime cartwatch.Stats `json:"runtime"`
		Catalog *adapterStats   `json:"catalog,omitempty"`
	}{Runtime: s.watcher.Stats()}

	if cs, err := s.watcher.Catalog().Stats(r.Context()); err != nil {
		s.logger.Warn("adminapi: catalog stats failed", "error", err)
	} else {
		stats.Catalog = &adapterStats{Profiles: cs.Profiles, Reports: cs.Reports}
	}
	writeJSON(w, http.StatusOK, stats)
}

type adapterStats struct {
	Profiles int `json:"profiles"`
	Reports  int `json:"reports"`
}

// permitView is the wire form of a permit plus its derived state.
type permitView struct {
	Domain string `json:"domain"`
	State  string `json:"state"`
	Start  int64  `json:"start,omitempty"`
	End    int64  `json:"end,omitempty"`
	Used   bool   `json:"used,omitempty"`
}

func (s *Server) permitView(domain string) permitView {
	gate := s.watcher.Permit(domain)
	p, state := gate.Get()
	v := permitView{Domain: domain, State: state.String()}
	if p != nil {
		v.Start = p.Start
		v.End = p.End
		v.Used = p.Used
	}
	return v
}

func (s *Server) handlePermitGet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.permitView(chi.URLParam(r, "domain")))
}

func (s *Server) handlePermitCreate(w http.ResponseWriter, r *http.Request) {
	domain := chi.URLParam(r, "domain")
	s.watcher.Permit(domain).CreateIfNone()
	writeJSON(w, http.StatusOK, s.permitView(domain))
}

func (s *Server) handlePermitClear(w http.ResponseWriter, r *http.Request) {
	domain := chi.URLParam(r, "domain")
	s.watcher.Permit(domain).Clear()
	writeJSON(w, http.StatusOK, s.permitView(domain))
}

func (s *Server) handleCart(w http.ResponseWriter, r *http.Request) {
	domain := chi.URLParam(r, "domain")
	items := s.watcher.Cart(domain).Get()
	writeJSON(w, http.StatusOK, map[string]any{
		"domain": domain,
		"items":  items,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
