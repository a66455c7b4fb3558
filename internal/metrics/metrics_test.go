package metrics_test

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/BrandonDHaskell/Portunus/controller/internal/metrics"
)

func TestNilMetricsAreNoOps(t *testing.T) {
	var m *metrics.Metrics
	assert.NotPanics(t, func() {
		m.ObserveSync("ok", time.Second)
		m.SetCredentials(3)
		m.IncDecision("activated")
		m.IncTelemetry("delivered")
		m.SetTelemetryQueue(1)
		m.IncLinkFrame("in", "SingleUid")
		m.IncLinkError("decode")
		m.IncReaderReinit()
	})
}

func TestCollectorsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	m.ObserveSync("ok", 200*time.Millisecond)
	m.ObserveSync("ok", 100*time.Millisecond)
	m.ObserveSync("error", time.Second)
	m.SetCredentials(42)
	m.IncDecision("denied")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.SyncResults.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SyncResults.WithLabelValues("error")))
	assert.Equal(t, 42.0, testutil.ToFloat64(m.Credentials))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Decisions.WithLabelValues("denied")))
}

func TestNewUsesSeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		metrics.New(prometheus.NewRegistry())
		metrics.New(prometheus.NewRegistry())
	})
}
