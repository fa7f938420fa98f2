// Package api serves the daemon's read-only status surface: policy maps,
// interface bindings and nexthop-groups as JSON, plus prometheus metrics.
// It is a display consumer of the policy model and never mutates it.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/routeplane/pbrd/internal/policy"
	"github.com/routeplane/pbrd/internal/registry"
)

// Option is a function that configures the API server.
type Option func(*options)

// WithLog configures the API server with a logger.
func WithLog(log *zap.SugaredLogger) Option {
	return func(o *options) {
		o.Log = log
	}
}

type options struct {
	Log *zap.SugaredLogger
}

func newOptions() *options {
	return &options{
		Log: zap.NewNop().Sugar(),
	}
}

// Server is the HTTP status server.
type Server struct {
	httpServer *http.Server
	log        *zap.SugaredLogger
}

// NewServer builds the status server on the given listen address.
func NewServer(addr string, model *policy.Model, ifaces *registry.Ifaces, vrfs *registry.VRFs, groups *registry.NexthopGroups, options ...Option) *Server {
	opts := newOptions()
	for _, o := range options {
		o(opts)
	}

	router := chi.NewRouter()
	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/maps", handleMaps(model))
		r.Get("/bindings", handleBindings(model))
		r.Get("/interfaces", handleInterfaces(ifaces, vrfs))
		r.Get("/nexthop-groups", handleGroups(groups))
	})
	router.Get("/healthcheck", handleHealth)
	router.Handle("/metrics", promhttp.Handler())

	return &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      router,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		log: opts.Log,
	}
}

// Run serves until the context is canceled.
func (s *Server) Run(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		s.log.Infof("status API listening on %s", s.httpServer.Addr)
		errc <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errc:
		return err
	}
}
