// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package observability serves PlayfieldGuard metrics and health probes.
package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/oops"
)

// ReadinessCheck reports why a component cannot do its work, or nil when it can.
type ReadinessCheck func() error

// Metrics contains process-level PlayfieldGuard metrics.
type Metrics struct {
	BuildInfo       *prometheus.GaugeVec
	BridgeConnected prometheus.Gauge
}

// NewMetrics creates and registers process-level metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		BuildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "playfieldguard_build_info",
			Help: "Build information, value is always 1",
		}, []string{"version"}),
		BridgeConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "playfieldguard_bridge_connected",
			Help: "Whether the host bridge connection is open (1) or not (0)",
		}),
	}
	reg.MustRegister(m.BuildInfo, m.BridgeConnected)
	return m
}

// TrackBridge holds BridgeConnected at 1 until done is closed or ctx ends,
// then drops it to 0. It blocks; run it in its own goroutine.
func (m *Metrics) TrackBridge(ctx context.Context, done <-chan struct{}) {
	m.BridgeConnected.Set(1)
	defer m.BridgeConnected.Set(0)
	select {
	case <-done:
	case <-ctx.Done():
	}
}

// Server serves /metrics and the liveness and readiness probes.
type Server struct {
	addr     string
	registry *prometheus.Registry
	metrics  *Metrics
	checks   map[string]ReadinessCheck

	mu       sync.Mutex // guards listener and http
	listener net.Listener
	http     *http.Server
}

// NewServer creates a server listening on addr ("host:port"). Readiness
// fails while any named check returns an error.
func NewServer(addr string, checks map[string]ReadinessCheck) *Server {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &Server{
		addr:     addr,
		registry: registry,
		metrics:  NewMetrics(registry),
		checks:   checks,
	}
}

// Metrics returns the process-level metrics.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Registry returns the registry served on /metrics, for registering
// component metrics.
func (s *Server) Registry() prometheus.Registerer {
	return s.registry
}

// Start listens and serves in the background. The returned channel receives
// a serve failure, if any, and is closed when the server stops.
func (s *Server) Start() (<-chan error, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.http != nil {
		return nil, oops.In("observability").Errorf("server already running")
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return nil, oops.In("observability").With("addr", s.addr).Wrap(err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{EnableOpenMetrics: true}))
	mux.HandleFunc("/healthz/liveness", s.handleLiveness)
	mux.HandleFunc("/healthz/readiness", s.handleReadiness)

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	s.listener, s.http = listener, srv

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- oops.In("observability").With("addr", listener.Addr().String()).Wrap(err)
		}
	}()

	slog.Info("observability server started", "addr", listener.Addr().String())
	return errCh, nil
}

// Stop shuts the server down. Stopping a server that is not running is a no-op.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.http
	s.http = nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	if err := srv.Shutdown(ctx); err != nil {
		return oops.In("observability").With("operation", "shutdown").Wrap(err)
	}
	slog.Info("observability server stopped")
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	//nolint:errcheck // client may disconnect
	w.Write([]byte("ok\n"))
}

// handleReadiness reports one line per check and 503 if any of them fails.
func (s *Server) handleReadiness(w http.ResponseWriter, _ *http.Request) {
	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	slices.Sort(names)

	var body strings.Builder
	status := http.StatusOK
	for _, name := range names {
		if err := s.checks[name](); err != nil {
			status = http.StatusServiceUnavailable
			fmt.Fprintf(&body, "%s: %v\n", name, err)
			continue
		}
		fmt.Fprintf(&body, "%s: ok\n", name)
	}
	if len(names) == 0 {
		body.WriteString("ok\n")
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	//nolint:errcheck // client may disconnect
	w.Write([]byte(body.String()))
}
