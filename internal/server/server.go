package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"TradeLedger/internal/observability"
	"TradeLedger/internal/query"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// Config holds the listen addresses. An empty address disables that
// listener.
type Config struct {
	GRPCAddr        string        `yaml:"grpc_addr"`
	HTTPAddr        string        `yaml:"http_addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

func DefaultConfig() Config {
	return Config{
		GRPCAddr:        ":9090",
		HTTPAddr:        ":8080",
		ShutdownTimeout: 5 * time.Second,
	}
}

// Server serves the gRPC health service and the HTTP JSON gateway over the
// query service, with /healthz, /readyz and /metrics beside it.
type Server struct {
	cfg        Config
	grpcServer *grpc.Server
	health     *health.Server
	checker    *observability.HealthChecker
	handler    http.Handler
	logger     zerolog.Logger
}

// New wires the gRPC server and the HTTP handler. gatherer may be nil, in
// which case /metrics is not served.
func New(cfg Config, svc *query.Service, checker *observability.HealthChecker, gatherer prometheus.Gatherer, logger zerolog.Logger) (*Server, error) {
	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	reflection.Register(grpcServer)

	gw, err := newGateway(svc)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", checker.LivenessHandler)
	mux.HandleFunc("/readyz", checker.ReadinessHandler)
	if gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	mux.Handle("/", gw)

	return &Server{
		cfg:        cfg,
		grpcServer: grpcServer,
		health:     healthServer,
		checker:    checker,
		handler:    mux,
		logger:     logger,
	}, nil
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.handler }

// SetServing flips the gRPC health status.
func (s *Server) SetServing(serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", st)
}

// ServeGRPC serves gRPC on lis until the server is stopped.
func (s *Server) ServeGRPC(lis net.Listener) error {
	s.logger.Info().Str("addr", lis.Addr().String()).Msg("grpc server listening")
	return s.grpcServer.Serve(lis)
}

// Stop closes the gRPC listeners and connections.
func (s *Server) Stop() { s.grpcServer.Stop() }

// Run serves both listeners until ctx is cancelled, mirroring the
// readiness of the health checker into the gRPC health service.
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if s.cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", s.cfg.GRPCAddr)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		g.Go(func() error { return s.ServeGRPC(lis) })
		g.Go(func() error {
			<-ctx.Done()
			s.logger.Info().Msg("grpc server shutting down")
			s.health.Shutdown()
			s.grpcServer.GracefulStop()
			return nil
		})
	}

	if s.cfg.HTTPAddr != "" {
		httpServer := &http.Server{
			Addr:              s.cfg.HTTPAddr,
			Handler:           s.handler,
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			s.logger.Info().Str("addr", s.cfg.HTTPAddr).Msg("http gateway listening")
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http serve: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			s.logger.Info().Msg("http gateway shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				s.SetServing(s.checker.IsReady())
			}
		}
	})

	return g.Wait()
}
