// Package rpc is this node's control surface (§4.6 "Control surface"):
// a gRPC health/liveness service instrumented with Prometheus, and an
// HTTP control+report-mirror surface for apps. Grounded on rpcserver.go's
// rpcServer{started, shutdown, server, quit} shape, with lnrpc's
// generated LightningServer replaced by an explicit JSON table over the
// Funder's control-operation methods: this tree has no protoc-generated
// stubs to serve a second unary RPC surface off, so the gRPC server
// itself carries only the cross-cutting concerns (health checks, the
// interceptor chain, Prometheus histograms) real deployments always run
// regardless of which app-facing transport rides alongside it.
package rpc

import (
	"context"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	grpc_middleware "github.com/grpc-ecosystem/go-grpc-middleware"
	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/offstlabs/offst/funder"
	"github.com/offstlabs/offst/report"
)

const shutdownTimeout = 5 * time.Second

// Config wires a Server's external dependencies.
type Config struct {
	Funder *funder.Funder
	Bus    *report.Bus

	// GRPCListenAddr serves health checks and Prometheus-instrumented
	// gRPC traffic, e.g. "localhost:9736".
	GRPCListenAddr string

	// HTTPListenAddr serves /metrics, /ws, and the JSON control table,
	// e.g. "localhost:8235".
	HTTPListenAddr string
}

// Server is this node's control surface.
type Server struct {
	cfg Config

	started  int32
	shutdown int32

	grpcServer   *grpc.Server
	healthSrv    *health.Server
	grpcListener net.Listener

	httpServer *http.Server
	metricsSub *report.Subscription
}

// NewServer constructs a Server. Call Start to bring it up.
func NewServer(cfg Config) *Server {
	healthSrv := health.NewServer()

	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			grpc_middleware.ChainUnaryServer(
				grpc_prometheus.UnaryServerInterceptor,
			),
		),
	)
	grpc_health_v1.RegisterHealthServer(grpcServer, healthSrv)
	grpc_prometheus.Register(grpcServer)
	grpc_prometheus.EnableHandlingTimeHistogram()

	s := &Server{
		cfg:        cfg,
		grpcServer: grpcServer,
		healthSrv:  healthSrv,
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ws", s.serveWS)
	s.registerControlHandlers(mux)
	s.httpServer = &http.Server{Addr: cfg.HTTPListenAddr, Handler: mux}

	return s
}

// Start brings up both listeners. Mirrors rpcServer.Start's
// atomic-guarded idempotence.
func (s *Server) Start() error {
	if !atomic.CompareAndSwapInt32(&s.started, 0, 1) {
		return nil
	}

	l, err := net.Listen("tcp", s.cfg.GRPCListenAddr)
	if err != nil {
		return err
	}
	s.grpcListener = l
	s.healthSrv.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)

	go func() {
		if err := s.grpcServer.Serve(l); err != nil {
			log.Errorf("rpc: grpc serve: %v", err)
		}
	}()

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("rpc: http serve: %v", err)
		}
	}()

	s.metricsSub = s.cfg.Bus.Subscribe()
	go runMetricsFeed(s.cfg.Bus, s.metricsSub)

	log.Infof("rpc: grpc listening on %s, http listening on %s", s.cfg.GRPCListenAddr, s.cfg.HTTPListenAddr)
	return nil
}

// Stop tears down both listeners. Mirrors rpcServer.Stop's
// atomic-guarded idempotence.
func (s *Server) Stop() error {
	if !atomic.CompareAndSwapInt32(&s.shutdown, 0, 1) {
		return nil
	}

	s.healthSrv.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	s.grpcServer.GracefulStop()
	if s.metricsSub != nil {
		s.metricsSub.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}
