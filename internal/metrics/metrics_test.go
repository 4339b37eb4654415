package metrics

import (
	"io"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHelpersNoopBeforeRegister(t *testing.T) {
	if regOK.Load() {
		t.Skip("metrics already registered by another test")
	}
	IncOperation("start", ResultOK)
	RecordStateTransition("stopped", "starting")
	assert.Equal(t, 0, testutil.CollectAndCount(operations))
}

func TestRegisterIdempotentAndCountersWork(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))
	// idempotent: calling again should be no-op
	require.NoError(t, Register(reg))

	IncOperation("start", ResultOK)
	IncOperation("start", ResultOK)
	IncOperation("stop", ResultRejected)
	IncManagedStopRun("escalated")
	SetManagedStopActive(true)
	IncStatusQuery("cache")
	ObserveStatusQueryDuration(0.002)
	RecordStateTransition("stopped", "starting")
	RecordStateTransition("starting", "starting")
	IncScheduleRun("nightly-restart", ResultRejected)

	assert.Equal(t, 2.0, testutil.ToFloat64(operations.WithLabelValues("start", ResultOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(operations.WithLabelValues("stop", ResultRejected)))
	assert.Equal(t, 1.0, testutil.ToFloat64(managedStopActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(stateTransitions.WithLabelValues("stopped", "starting")))
	assert.Equal(t, 0.0, testutil.ToFloat64(stateTransitions.WithLabelValues("starting", "starting")))
	assert.Equal(t, 1.0, testutil.ToFloat64(currentStates.WithLabelValues("starting")))
	assert.Equal(t, 0.0, testutil.ToFloat64(currentStates.WithLabelValues("stopped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(scheduleRuns.WithLabelValues("nightly-restart", ResultRejected)))

	mfs, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}
	for _, n := range []string{
		"lokivisor_lifecycle_operations_total",
		"lokivisor_managed_stop_runs_total",
		"lokivisor_managed_stop_active",
		"lokivisor_status_queries_total",
		"lokivisor_status_query_duration_seconds",
		"lokivisor_process_state_transitions_total",
		"lokivisor_schedule_runs_total",
	} {
		assert.True(t, names[n], "expected metric %s", n)
	}
}

func TestHandlerFor(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "lokivisor_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()

	srv := httptest.NewServer(HandlerFor(reg))
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, _ := io.ReadAll(resp.Body)
	assert.True(t, strings.Contains(string(body), "lokivisor_test_total 1"))
}

func TestProcessCollector(t *testing.T) {
	self := os.Getpid()
	c := NewProcessCollector(func() (int, error) { return self, nil })
	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(c))

	n, err := testutil.GatherAndCount(reg, "lokivisor_managed_process_resident_memory_bytes")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	idle := NewProcessCollector(func() (int, error) { return 0, nil })
	assert.Equal(t, 0, testutil.CollectAndCount(idle))
}

func TestSample(t *testing.T) {
	m, err := Sample(os.Getpid())
	require.NoError(t, err)
	assert.Equal(t, int32(os.Getpid()), m.PID)
	assert.Greater(t, m.MemoryRSS, uint64(0))
}
