package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path"
	"time"

	"SpotLedger/internal/ledger"
	"SpotLedger/internal/observability"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
)

// GRPCServer wraps the gRPC server and the HTTP/JSON gateway.
type GRPCServer struct {
	grpcServer    *grpc.Server
	healthServer  *health.Server
	httpServer    *http.Server
	grpcAddr      string
	httpAddr      string
	service       LedgerServer
	healthChecker *observability.HealthChecker
	metrics       *observability.Metrics
	log           zerolog.Logger
}

// ServerDeps holds all dependencies needed by the transports.
type ServerDeps struct {
	Service       LedgerServer
	HealthChecker *observability.HealthChecker
	Metrics       *observability.Metrics
	Logger        zerolog.Logger
}

// NewGRPCServer creates a new gRPC server with all services registered.
func NewGRPCServer(grpcAddr, httpAddr string, deps ServerDeps) *GRPCServer {
	s := &GRPCServer{
		grpcAddr:      grpcAddr,
		httpAddr:      httpAddr,
		service:       deps.Service,
		healthChecker: deps.HealthChecker,
		metrics:       deps.Metrics,
		log:           deps.Logger,
	}
	if s.metrics == nil {
		s.metrics = observability.NewNopMetrics()
	}

	s.grpcServer = grpc.NewServer(grpc.ChainUnaryInterceptor(s.unaryInterceptor))
	RegisterLedgerServer(s.grpcServer, deps.Service)

	// Health check
	s.healthServer = health.NewServer()
	healthpb.RegisterHealthServer(s.grpcServer, s.healthServer)
	s.healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.healthServer.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

	// Reflection for grpcurl / grpcui
	reflection.Register(s.grpcServer)

	return s
}

// Server exposes the underlying gRPC server, e.g. to serve on a bufconn.
func (s *GRPCServer) Server() *grpc.Server { return s.grpcServer }

// SetServing flips the gRPC health status of the ledger service.
func (s *GRPCServer) SetServing(serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.healthServer.SetServingStatus(ServiceName, st)
}

// unaryInterceptor records metrics, logs failures and converts ledger
// errors into gRPC statuses.
func (s *GRPCServer) unaryInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	method := path.Base(info.FullMethod)

	resp, err := handler(ctx, req)

	s.metrics.QueryDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	if err == nil {
		s.metrics.QueryRequests.WithLabelValues(method, "OK").Inc()
		return resp, nil
	}

	err = s.logged(method, err)
	st := toStatus(err)
	s.metrics.QueryRequests.WithLabelValues(method, status.Code(st).String()).Inc()
	return nil, st
}

// logged reports infrastructure failures at error level and business
// rejections at debug level.
func (s *GRPCServer) logged(method string, err error) error {
	if ledger.CodeOf(err) == ledger.CodeInternal {
		s.log.Error().Err(err).Str("method", method).Msg("request failed")
	} else {
		s.log.Debug().Err(err).Str("method", method).Msg("request rejected")
	}
	return err
}

// StartGRPC starts the gRPC server (blocking).
func (s *GRPCServer) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	go func() {
		<-ctx.Done()
		s.log.Info().Msg("gRPC server shutting down...")
		s.grpcServer.GracefulStop()
	}()

	s.log.Info().Str("addr", s.grpcAddr).Msg("gRPC server listening")
	return s.grpcServer.Serve(lis)
}

// StartHTTPGateway starts the HTTP/JSON gateway (blocking). The gateway
// calls the service in-process rather than proxying to the gRPC port.
func (s *GRPCServer) StartHTTPGateway(ctx context.Context) error {
	handler, err := s.HTTPHandler()
	if err != nil {
		return err
	}

	s.httpServer = &http.Server{
		Addr:              s.httpAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.log.Info().Msg("HTTP gateway shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
	}()

	s.log.Info().Str("addr", s.httpAddr).Msg("HTTP gateway listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
