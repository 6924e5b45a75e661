package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"EscrowLedger/internal/ingestion"
	"EscrowLedger/internal/observability"
	"EscrowLedger/internal/query"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
)

// Server hosts the gRPC services and the HTTP/JSON gateway.
type Server struct {
	grpcServer    *grpc.Server
	healthServer  *health.Server
	httpServer    *http.Server
	grpcAddr      string
	httpAddr      string
	escrow        *escrowServiceImpl
	query         *queryServiceImpl
	admin         *adminServiceImpl
	adminAuth     ingestion.AdminAuth
	healthChecker *observability.HealthChecker
	gatherer      prometheus.Gatherer
	logger        zerolog.Logger
}

// Deps holds everything the services call into.
type Deps struct {
	Ingest    *ingestion.GRPCIngestService
	Query     *query.QueryService
	Snapshots Snapshotter
	// Admin guards every AdminService method and /v1/admin route. The zero
	// value rejects them all.
	Admin         ingestion.AdminAuth
	HealthChecker *observability.HealthChecker
	// Gatherer backs /metrics; nil means the default registry.
	Gatherer prometheus.Gatherer
	Logger   zerolog.Logger
}

// NewServer creates the gRPC server with all services registered.
func NewServer(grpcAddr, httpAddr string, deps Deps) *Server {
	s := &Server{
		grpcServer: grpc.NewServer(grpc.ChainUnaryInterceptor(
			loggingInterceptor(deps.Logger),
			adminInterceptor(deps.Admin),
		)),
		healthServer:  health.NewServer(),
		grpcAddr:      grpcAddr,
		httpAddr:      httpAddr,
		escrow:        &escrowServiceImpl{ingest: deps.Ingest},
		query:         &queryServiceImpl{qs: deps.Query},
		admin:         &adminServiceImpl{ingest: deps.Ingest, qs: deps.Query, snapshots: deps.Snapshots},
		adminAuth:     deps.Admin,
		healthChecker: deps.HealthChecker,
		gatherer:      deps.Gatherer,
		logger:        deps.Logger,
	}
	if s.gatherer == nil {
		s.gatherer = prometheus.DefaultGatherer
	}

	s.grpcServer.RegisterService(&escrowServiceDesc, s.escrow)
	s.grpcServer.RegisterService(&queryServiceDesc, s.query)
	s.grpcServer.RegisterService(&adminServiceDesc, s.admin)

	healthpb.RegisterHealthServer(s.grpcServer, s.healthServer)
	s.healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

	// Reflection for grpcurl service listing
	reflection.Register(s.grpcServer)

	return s
}

// SetServing flips the gRPC health status once recovery has finished.
func (s *Server) SetServing(serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	for _, svc := range []string{"", escrowServiceDesc.ServiceName, queryServiceDesc.ServiceName, adminServiceDesc.ServiceName} {
		s.healthServer.SetServingStatus(svc, st)
	}
}

// GRPC exposes the underlying server for in-process listeners.
func (s *Server) GRPC() *grpc.Server {
	return s.grpcServer
}

// StartGRPC serves gRPC until ctx is cancelled.
func (s *Server) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("gRPC server shutting down")
		s.healthServer.Shutdown()
		s.grpcServer.GracefulStop()
	}()

	s.logger.Info().Str("addr", s.grpcAddr).Msg("gRPC server listening")
	return s.grpcServer.Serve(lis)
}

// StartHTTPGateway serves the HTTP/JSON routes, health and metrics until ctx
// is cancelled.
func (s *Server) StartHTTPGateway(ctx context.Context) error {
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
		s.logger.Info().Msg("HTTP gateway shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	s.logger.Info().Str("addr", s.httpAddr).Msg("HTTP gateway listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// HTTPHandler builds the full HTTP surface: gateway routes plus /healthz,
// /readyz and /metrics.
func (s *Server) HTTPHandler() (http.Handler, error) {
	gw, err := s.newGateway()
	if err != nil {
		return nil, err
	}

	httpMux := http.NewServeMux()
	if s.healthChecker != nil {
		httpMux.HandleFunc("/healthz", s.healthChecker.LivenessHandler)
		httpMux.HandleFunc("/readyz", s.healthChecker.ReadinessHandler)
	} else {
		httpMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			fmt.Fprintf(w, `{"status":"ok"}`)
		})
	}
	httpMux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	httpMux.Handle("/", gw)
	return httpMux, nil
}

func loggingInterceptor(logger zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		ev := logger.Debug()
		if err != nil {
			ev = logger.Info().Err(err).Stringer("code", status.Code(err))
		}
		ev.Str("method", info.FullMethod).Dur("took", time.Since(start)).Msg("rpc")
		return resp, err
	}
}

// adminMethodPrefix matches every AdminService RPC.
var adminMethodPrefix = "/" + adminServiceDesc.ServiceName + "/"

// adminInterceptor rejects AdminService calls that do not carry the operator
// token in the escrow-admin-token or authorization metadata.
func adminInterceptor(auth ingestion.AdminAuth) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if !strings.HasPrefix(info.FullMethod, adminMethodPrefix) {
			return handler(ctx, req)
		}
		md, _ := metadata.FromIncomingContext(ctx)
		if err := auth.Check(firstValue(md, strings.ToLower(ingestion.AdminTokenHeader), "authorization")); err != nil {
			return nil, toStatus(err)
		}
		return handler(ctx, req)
	}
}

func firstValue(md metadata.MD, keys ...string) string {
	for _, k := range keys {
		if v := md.Get(k); len(v) > 0 && v[0] != "" {
			return v[0]
		}
	}
	return ""
}
