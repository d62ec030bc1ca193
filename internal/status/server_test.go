package status

import (
	"Go2NetVision/internal/config"
	"Go2NetVision/internal/engine/manager"
	"Go2NetVision/internal/metrics"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type fakePipeline struct {
	phase   manager.Phase
	metrics *metrics.Metrics
}

func (f *fakePipeline) RunID() string              { return "run-42" }
func (f *fakePipeline) Phase() manager.Phase       { return f.phase }
func (f *fakePipeline) ActiveFlows() int           { return 7 }
func (f *fakePipeline) QueuedSessions() int        { return 2 }
func (f *fakePipeline) Metrics() *metrics.Metrics { return f.metrics }

func TestStatusHandler(t *testing.T) {
	m := metrics.New()
	m.PacketDispatched()
	s := New(config.StatusConfig{}, &fakePipeline{phase: manager.PhaseRunning, metrics: m})

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var report Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, "run-42", report.RunID)
	assert.Equal(t, manager.PhaseRunning, report.Phase)
	assert.Equal(t, 7, report.ActiveFlows)
	assert.Equal(t, 2, report.QueuedSessions)
	assert.Equal(t, uint64(1), report.Totals.PacketsDispatched)
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.New()
	m.PacketDropped("malformed")
	s := New(config.StatusConfig{}, &fakePipeline{metrics: m})

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `ntv_dispatcher_packets_dropped_total{reason="malformed"} 1`)
}

func TestHealthFollowsPhase(t *testing.T) {
	s := New(config.StatusConfig{}, &fakePipeline{metrics: metrics.New()})
	check := func() healthpb.HealthCheckResponse_ServingStatus {
		resp, err := s.Health().Check(context.Background(), &healthpb.HealthCheckRequest{Service: ServiceName})
		require.NoError(t, err)
		return resp.Status
	}

	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check())
	s.OnPhase(manager.PhaseRunning)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check())
	s.OnPhase(manager.PhaseDraining)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check())
}

func TestStartAndShutdown(t *testing.T) {
	s := New(config.StatusConfig{HTTPListenAddr: "127.0.0.1:0", GRPCListenAddr: "127.0.0.1:0"},
		&fakePipeline{metrics: metrics.New()})
	require.NoError(t, s.Start())
	assert.NoError(t, s.Shutdown(context.Background()))
}
