package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Counters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveRequest("GroupListGet", "Ok")
	m.ObserveRequest("GroupListGet", "Ok")
	m.ObserveFallback("ThemeListGet")
	m.ObservePoll(nil)
	m.ObservePoll(errors.New("down"))
	m.SetAccessories("theme", 4)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requests.WithLabelValues("GroupListGet", "Ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fallbacks.WithLabelValues("ThemeListGet")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.polls.WithLabelValues("error")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.accessories.WithLabelValues("theme")))
}

func TestMetrics_QueueDepth(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	depth := 3
	m.RegisterQueueDepth(func() int { return depth })

	n, err := testutil.GatherAndCount(reg, "luxord_request_queue_depth")
	assert.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMetrics_NilReceiver(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveRequest("x", "Ok")
		m.ObserveFallback("x")
		m.ObserveTransportError("x")
		m.ObserveResetSuppressed()
		m.ObservePoll(nil)
		m.SetAccessories("theme", 1)
		m.RegisterQueueDepth(func() int { return 0 })
	})
}
