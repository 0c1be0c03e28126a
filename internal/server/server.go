package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/yungtweek/byte-proxy/internal/chat"
	"github.com/yungtweek/byte-proxy/internal/logger"
	"github.com/yungtweek/byte-proxy/internal/metrics"
)

var errDraining = errors.New("server is shutting down")

// Deps are the collaborators the HTTP routes need.
type Deps struct {
	Translator    chat.Translator
	Upstream      Completer
	Metrics       *metrics.Metrics
	MaxBodyBytes  int64
	ChunkPolicy   ChunkPolicy
	ExposeMetrics bool
	Probe         Probe
}

// NewHandler mounts /byte, /health and optionally /metrics.
func NewHandler(d Deps) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/byte", Instrument("chat", d.Metrics, NewChatHandler(d.Translator, d.Upstream, d.Metrics, d.MaxBodyBytes, d.ChunkPolicy)))
	mux.Handle("/health", Instrument("health", d.Metrics, NewHealthHandler(d.Translator.Persona.Service, d.Probe)))
	if d.ExposeMetrics {
		mux.Handle("/metrics", d.Metrics.Handler())
	}
	return RequestID(mux)
}

// Server runs the HTTP API and, when grpcAddr is set, the standard gRPC
// health service reporting the same liveness.
type Server struct {
	httpSrv  *http.Server
	grpcAddr string
	grpcSrv  *grpc.Server
	health   *health.Server
	draining atomic.Bool
}

// NewServer builds the listeners. Example addrs: ":8080", ":50051".
func NewServer(addr, grpcAddr string, d Deps) *Server {
	s := &Server{
		grpcAddr: grpcAddr,
		grpcSrv:  grpc.NewServer(),
		health:   health.NewServer(),
	}
	if d.Probe == nil {
		d.Probe = s.Live
	}

	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           NewHandler(d),
		ReadHeaderTimeout: 10 * time.Second,
	}

	healthpb.RegisterHealthServer(s.grpcSrv, s.health)
	// Handy during local development (grpcurl).
	reflection.Register(s.grpcSrv)

	return s
}

// Live fails once shutdown has begun.
func (s *Server) Live(context.Context) error {
	if s.draining.Load() {
		return errDraining
	}
	return nil
}

// Handler returns the HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// Run serves HTTP (and gRPC when configured). It blocks until the HTTP
// server stops; a clean Shutdown returns nil.
func (s *Server) Run() error {
	if s.grpcAddr != "" {
		lis, err := net.Listen("tcp", s.grpcAddr)
		if err != nil {
			logger.Log.Errorw("[grpc] failed to listen", "addr", s.grpcAddr, "err", err)
			return err
		}
		go func() {
			if err := s.ServeGRPC(lis); err != nil {
				logger.Log.Errorw("[grpc] server stopped with error", "err", err)
			}
		}()
	}

	logger.Log.Infow("[http] starting server", "addr", s.httpSrv.Addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Log.Errorw("[http] server stopped with error", "err", err)
		return err
	}

	logger.Log.Info("[http] server stopped gracefully")
	return nil
}

// ServeGRPC serves the health service on lis until GracefulStop.
func (s *Server) ServeGRPC(lis net.Listener) error {
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	logger.Log.Infow("[grpc] starting server", "addr", lis.Addr().String())
	return s.grpcSrv.Serve(lis)
}

// Shutdown marks the process unhealthy, drains HTTP (open streams included)
// until ctx expires, then stops gRPC.
func (s *Server) Shutdown(ctx context.Context) error {
	logger.Log.Infow("[server] graceful stop", "addr", s.httpSrv.Addr)
	s.draining.Store(true)
	s.health.Shutdown()

	err := s.httpSrv.Shutdown(ctx)
	s.grpcSrv.GracefulStop()
	return err
}
