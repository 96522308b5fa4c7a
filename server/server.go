// Package server composes the store, its background services and the HTTP
// API into a single process listening on one port.
package server

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"

	"github.com/lapdb/lapdb/pkg/network"
	"github.com/lapdb/lapdb/pkg/utils"
	"github.com/lapdb/lapdb/server/retention"
	"github.com/lapdb/lapdb/server/snapshotter"
	"github.com/lapdb/lapdb/tsdb"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/soheilhy/cmux"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Version is reported by the ping endpoint and the X-Lapdb-Version header.
// The lapdb command overrides it at startup with the build version.
var Version = "unknown"

// Server runs the embedded store with its HTTP API, retention sweeper and
// snapshot service. The HTTP API and the snapshot stream protocol share the
// configured bind address through a connection mux.
type Server struct {
	Config *Config

	err chan error

	listener     net.Listener
	mux          cmux.CMux
	httpListener net.Listener

	httpHandler *Handler
	httpServer  *http.Server

	Store *tsdb.Store

	retentionService *retention.Service
	snapshotService  *snapshotter.Service

	registry *prometheus.Registry

	Logger *zap.Logger
}

// NewServer returns a new instance of Server built from the config.
func NewServer(c *Config) *Server {
	return &Server{
		Config: c,
		err:    make(chan error),
		Logger: zap.NewNop(),
	}
}

// WithLogger sets the logger on the server. Call before Open.
func (s *Server) WithLogger(log *zap.Logger) {
	s.Logger = log
}

// Err returns an error channel that multiplexes errors from background serving.
func (s *Server) Err() <-chan error { return s.err }

// Open opens the store, binds the listener and starts every service.
func (s *Server) Open() error {
	if err := s.initStore(); err != nil {
		return err
	}

	if err := s.initListeners(); err != nil {
		return err
	}

	s.initServices()

	if err := s.initHTTPServer(); err != nil {
		return err
	}

	if err := s.openServices(); err != nil {
		return err
	}

	go utils.WithRecovery(s.Logger, func() {
		err := s.httpServer.Serve(s.httpListener)
		if !isClosed(err) {
			s.err <- fmt.Errorf("http server: %w", err)
			return
		}
		s.Logger.Info("HTTP server stopped")
	}, nil)

	go utils.WithRecovery(s.Logger, func() {
		if err := s.mux.Serve(); err != nil && !isClosed(err) {
			s.Logger.Info("Connection mux stopped", zap.Error(err))
		}
	}, nil)

	s.Logger.Info("Server opened", zap.String("addr", s.listener.Addr().String()))
	return nil
}

// Close shuts the listeners and services down, then closes the store. The
// store goes last so a final snapshot still sees every write.
func (s *Server) Close() error {
	var err error

	if s.listener != nil {
		if e := s.listener.Close(); e != nil && !isClosed(e) {
			err = multierr.Append(err, e)
		}
	}

	if s.httpServer != nil {
		if e := s.httpServer.Close(); e != nil && !isClosed(e) {
			err = multierr.Append(err, e)
		}
	}

	if s.snapshotService != nil {
		err = multierr.Append(err, s.snapshotService.Close())
	}

	if s.retentionService != nil {
		err = multierr.Append(err, s.retentionService.Close())
	}

	if s.httpHandler != nil {
		s.httpHandler.Close()
	}

	if s.Store != nil {
		err = multierr.Append(err, s.Store.Close())
	}

	return err
}

func (s *Server) initStore() error {
	s.Store = tsdb.NewStore(s.Config.Data)
	s.Store.WithLogger(s.Logger)
	if err := s.Store.Open(); err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	return nil
}

func (s *Server) initListeners() error {
	ln, err := net.Listen("tcp", s.Config.BindAddress)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.listener = ln

	s.mux = cmux.New(ln)
	s.httpListener = s.mux.Match(cmux.HTTP1Fast())

	return nil
}

func (s *Server) initServices() {
	s.retentionService = retention.NewService(s.Config.Retention)
	s.retentionService.WithLogger(s.Logger)
	s.retentionService.Store = s.Store

	s.snapshotService = snapshotter.NewService(s.Config.Snapshot)
	s.snapshotService.WithLogger(s.Logger)
	s.snapshotService.Store = s.Store
	s.snapshotService.Listener = network.ListenString(s.mux, snapshotter.MuxHeader)
}

func (s *Server) initHTTPServer() error {
	h := NewHandler(&s.Config.HTTP)
	h.Version = Version
	h.Store = s.Store
	h.WithLogger(s.Logger)
	h.Open()
	s.httpHandler = h

	s.registry = prometheus.NewRegistry()
	if s.Config.HTTP.MetricsEnabled {
		s.registry.MustRegister(prometheus.NewGoCollector())
		s.registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
		s.registry.MustRegister(s.httpHandler.PrometheusCollectors()...)
		s.registry.MustRegister(s.retentionService.PrometheusCollectors()...)
		s.registry.MustRegister(s.snapshotService.PrometheusCollectors()...)
	}

	srv := http.NewServeMux()
	srv.Handle("/", s.httpHandler)

	if s.Config.HTTP.PprofEnabled {
		srv.HandleFunc("/debug/pprof/", pprof.Index)
		srv.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		srv.HandleFunc("/debug/pprof/profile", pprof.Profile)
		srv.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		srv.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	if s.Config.HTTP.MetricsEnabled {
		srv.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}

	s.httpServer = &http.Server{Addr: s.Config.BindAddress, Handler: srv}

	return nil
}

func (s *Server) openServices() error {
	if err := s.retentionService.Open(); err != nil {
		return fmt.Errorf("open retention service: %w", err)
	}

	if err := s.snapshotService.Open(); err != nil {
		return fmt.Errorf("open snapshot service: %w", err)
	}

	return nil
}

// Addr returns the address the server listens on, useful when the config
// asked for port 0.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// isClosed reports whether the error only says that a listener or connection
// was already shut down.
func isClosed(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, net.ErrClosed) || errors.Is(err, cmux.ErrListenerClosed) || errors.Is(err, http.ErrServerClosed)
}
