package metric

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/networker/errors"
)

func findFamily(t *testing.T, r *MetricsRegistry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := r.PrometheusRegistry().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func TestNewMetricsRegistry(t *testing.T) {
	r := NewMetricsRegistry()
	require.NotNil(t, r.CoreMetrics())

	r.CoreMetrics().SetPeers(3)
	fam := findFamily(t, r, "networker_router_peers_connected")
	require.NotNil(t, fam)
	assert.Equal(t, 3.0, fam.GetMetric()[0].GetGauge().GetValue())

	assert.NotNil(t, findFamily(t, r, "go_goroutines"))
}

func TestRegisterAndUnregister(t *testing.T) {
	r := NewMetricsRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "bridge_dropped_total", Help: "x"})

	require.NoError(t, r.RegisterCounter("bridge", "dropped", counter))

	err := r.RegisterCounter("bridge", "dropped", counter)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	other := prometheus.NewCounter(prometheus.CounterOpts{Name: "bridge_dropped_total", Help: "x"})
	err = r.RegisterCounter("bridge2", "dropped", other)
	require.Error(t, err, "prometheus rejects a second collector with the same name")
	assert.True(t, errors.IsInvalid(err))

	assert.True(t, r.Unregister("bridge", "dropped"))
	assert.False(t, r.Unregister("bridge", "dropped"))
	require.NoError(t, r.RegisterCounter("bridge", "dropped", counter))
}

func TestRegisterVecs(t *testing.T) {
	r := NewMetricsRegistry()
	cv := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "a_total", Help: "a"}, []string{"l"})
	gv := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "b", Help: "b"}, []string{"l"})
	hv := prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: "c_seconds", Help: "c"}, []string{"l"})
	g := prometheus.NewGauge(prometheus.GaugeOpts{Name: "d", Help: "d"})

	assert.NoError(t, r.RegisterCounterVec("svc", "a", cv))
	assert.NoError(t, r.RegisterGaugeVec("svc", "b", gv))
	assert.NoError(t, r.RegisterHistogramVec("svc", "c", hv))
	assert.NoError(t, r.RegisterGauge("svc", "d", g))
}

func TestRecordHelpers(t *testing.T) {
	m := NewMetricsRegistry().CoreMetrics()

	m.RecordSent("event", "to_server")
	m.RecordSent("event", "to_server")
	m.RecordReceived("function", "to_client")
	m.RecordDropped("decode")
	m.RecordInvocation("to_server", "ok", 10*time.Millisecond)
	m.RecordRoleViolation("Broadcast")
	m.RecordResolve("server", "event", "created")
	m.SetChannels(4)
	m.RecordNATSStatus(true)
	m.RecordNATSReconnect()
	m.RecordCircuitBreakerState(1)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.MessagesSent.WithLabelValues("event", "to_server")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MessagesReceived.WithLabelValues("function", "to_client")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MessagesDropped.WithLabelValues("decode")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Invocations.WithLabelValues("to_server", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RoleViolations.WithLabelValues("Broadcast")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RegistryResolves.WithLabelValues("server", "event", "created")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.RegistryChannels))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NATSConnected))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NATSReconnects))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NATSCircuitBreaker))

	m.RecordNATSStatus(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.NATSConnected))
}

func TestRecordHelpersNilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordSent("event", "to_server")
		m.RecordReceived("event", "to_server")
		m.RecordDropped("decode")
		m.RecordInvocation("to_server", "ok", time.Millisecond)
		m.RecordRoleViolation("x")
		m.RecordResolve("server", "event", "found")
		m.SetChannels(1)
		m.SetPeers(1)
		m.RecordNATSStatus(true)
		m.RecordNATSReconnect()
		m.RecordCircuitBreakerState(0)
	})
}
