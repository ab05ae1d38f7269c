// Package http serves the device ingress API, the admin API and the
// health and metrics endpoints.
package http

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/utils/clock"

	"github.com/autopeer-io/adfleet/internal/hub/service"
	"github.com/autopeer-io/adfleet/internal/pkg/metrics"
	"github.com/autopeer-io/adfleet/pkg/log"
	"github.com/autopeer-io/adfleet/pkg/options"
)

type Server struct {
	server  *http.Server
	opts    *options.HttpOptions
	fleet   *options.FleetOptions
	svc     *service.Service
	limiter *deviceLimiter
	admins  sets.Set[string]
	clock   clock.Clock
	log     log.Logger

	ready     atomic.Bool
	closing   chan struct{}
	closeOnce sync.Once
}

// Option customizes a Server.
type Option func(*Server)

// WithClock replaces the clock used by the manifest rate limiter.
func WithClock(c clock.Clock) Option {
	return func(s *Server) { s.clock = c }
}

func NewServer(opts *options.HttpOptions, fleet *options.FleetOptions, svc *service.Service, o ...Option) *Server {
	s := &Server{
		opts:    opts,
		fleet:   fleet,
		svc:     svc,
		admins:  sets.New(fleet.AdminTokens...),
		clock:   clock.RealClock{},
		log:     log.WithName("http"),
		closing: make(chan struct{}),
	}
	for _, fn := range o {
		fn(s)
	}
	s.limiter = newDeviceLimiter(fleet.ManifestRateLimit, s.clock)

	if s.admins.Len() == 0 {
		s.log.Warn("No admin tokens configured; admin API is closed")
	}

	s.server = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: opts.ReadHeaderTimeout,
	}
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) routes() http.Handler {
	r := mux.NewRouter()

	// Basic Liveness Probe
	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	// Readiness Probe: the listener is up and the hub has finished booting.
	r.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if !s.ready.Load() {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	dev := r.PathPrefix("/api/v1/device").Subrouter()
	dev.Use(s.deviceAuth)
	dev.HandleFunc("/manifest", s.getManifest).Methods(http.MethodGet)
	dev.HandleFunc("/heartbeat", s.postHeartbeat).Methods(http.MethodPost)
	dev.HandleFunc("/impressions", s.postImpressions).Methods(http.MethodPost)
	dev.HandleFunc("/stream", s.deviceStream).Methods(http.MethodGet)

	adm := r.PathPrefix("/api/v1/admin").Subrouter()
	adm.Use(s.adminAuth)
	adm.HandleFunc("/presence", s.getPresence).Methods(http.MethodGet)
	adm.HandleFunc("/fleet/stream", s.fleetStream).Methods(http.MethodGet)
	adm.HandleFunc("/fleet/ws", s.fleetWebSocket).Methods(http.MethodGet)
	adm.HandleFunc("/devices/{id}/logs/stream", s.deviceLogStream).Methods(http.MethodGet)
	adm.HandleFunc("/devices/{id}/logs/ws", s.deviceLogWebSocket).Methods(http.MethodGet)
	adm.HandleFunc("/devices/{id}/campaigns", s.putDeviceCampaigns).Methods(http.MethodPut)
	adm.HandleFunc("/vehicles/{id}", s.deleteVehicle).Methods(http.MethodDelete)
	adm.HandleFunc("/vehicles/{id}/playback", s.getPlayback).Methods(http.MethodGet)
	adm.HandleFunc("/vehicles/{id}/campaigns", s.putVehicleCampaigns).Methods(http.MethodPut)
	adm.HandleFunc("/vehicles/{id}/devices", s.pairDevice).Methods(http.MethodPost)
	adm.HandleFunc("/vehicles/{id}/devices/{deviceId}", s.unpairDevice).Methods(http.MethodDelete)

	return r
}

// MarkReady flips /readyz to ok.
func (s *Server) MarkReady() {
	s.ready.Store(true)
}

// shutdownStreams ends every push and observer stream so Shutdown is not
// held open by long-lived responses.
func (s *Server) shutdownStreams() {
	s.closeOnce.Do(func() { close(s.closing) })
}

func (s *Server) Start(ctx context.Context) error {
	s.log.Info("Starting HTTP Server", "addr", s.server.Addr)

	go wait.UntilWithContext(ctx, s.limiter.evictIdle, time.Minute)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.ready.Store(false)
		s.shutdownStreams()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	}
}
