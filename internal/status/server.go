// Package status exposes a run's progress over HTTP and the standard gRPC
// health protocol.
package status

import (
	"Go2NetVision/internal/config"
	"Go2NetVision/internal/engine/manager"
	"Go2NetVision/internal/metrics"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the gRPC health service reported for the pipeline.
const ServiceName = "ntv.Pipeline"

// Pipeline is the view of a running manager the status server needs.
type Pipeline interface {
	RunID() string
	Phase() manager.Phase
	ActiveFlows() int
	QueuedSessions() int
	Metrics() *metrics.Metrics
}

// Report is the JSON body of GET /api/v1/status.
type Report struct {
	RunID          string         `json:"run_id"`
	Phase          manager.Phase  `json:"phase"`
	ActiveFlows    int            `json:"active_flows"`
	QueuedSessions int            `json:"queued_sessions"`
	Totals         metrics.Totals `json:"totals"`
}

// Server serves the status API and health service.
type Server struct {
	cfg      config.StatusConfig
	pipeline Pipeline
	router   *mux.Router
	health   *health.Server

	httpServer *http.Server
	grpcServer *grpc.Server
	group      *errgroup.Group
}

// New builds the server. Nothing listens until Start.
func New(cfg config.StatusConfig, p Pipeline) *Server {
	s := &Server{
		cfg:      cfg,
		pipeline: p,
		router:   mux.NewRouter(),
		health:   health.NewServer(),
	}
	s.router.HandleFunc("/api/v1/status", s.statusHandler).Methods("GET")
	if reg := p.Metrics().Registry(); reg != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods("GET")
	}
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// Router exposes the HTTP routes, mainly for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Health exposes the gRPC health implementation.
func (s *Server) Health() healthpb.HealthServer {
	return s.health
}

// OnPhase keeps the health status in step with the pipeline. It is meant to
// be registered with manager.WithPhaseListener.
func (s *Server) OnPhase(p manager.Phase) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if p == manager.PhaseRunning {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(ServiceName, st)
}

// Start listens on the configured addresses. Empty addresses are skipped.
func (s *Server) Start() error {
	g := &errgroup.Group{}

	if s.cfg.HTTPListenAddr != "" {
		lis, err := net.Listen("tcp", s.cfg.HTTPListenAddr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", s.cfg.HTTPListenAddr, err)
		}
		s.httpServer = &http.Server{Handler: s.router}
		g.Go(func() error {
			log.Printf("Status API listening on %s", lis.Addr())
			if err := s.httpServer.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	if s.cfg.GRPCListenAddr != "" {
		lis, err := net.Listen("tcp", s.cfg.GRPCListenAddr)
		if err != nil {
			if s.httpServer != nil {
				s.httpServer.Close()
			}
			return fmt.Errorf("failed to listen on %s: %w", s.cfg.GRPCListenAddr, err)
		}
		s.grpcServer = grpc.NewServer()
		healthpb.RegisterHealthServer(s.grpcServer, s.health)
		g.Go(func() error {
			log.Printf("gRPC health service listening on %s", lis.Addr())
			return s.grpcServer.Serve(lis)
		})
	}

	s.group = g
	return nil
}

// Shutdown stops both listeners and waits for them to exit.
func (s *Server) Shutdown(ctx context.Context) error {
	s.health.Shutdown()
	var firstErr error
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			firstErr = err
		}
	}
	if s.grpcServer != nil {
		s.grpcServer.GracefulStop()
	}
	if s.group != nil {
		if err := s.group.Wait(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	report := Report{
		RunID:          s.pipeline.RunID(),
		Phase:          s.pipeline.Phase(),
		ActiveFlows:    s.pipeline.ActiveFlows(),
		QueuedSessions: s.pipeline.QueuedSessions(),
		Totals:         s.pipeline.Metrics().Totals(),
	}
	jsonBytes, err := json.Marshal(report)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to marshal response: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(jsonBytes)
}
