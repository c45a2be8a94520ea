package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestQuotaDecisionCounter(t *testing.T) {
	m := New()

	m.ObserveQuotaDecision("image_processing", OutcomeAllowed)
	m.ObserveQuotaDecision("image_processing", OutcomeAllowed)
	m.ObserveQuotaDecision("image_processing", OutcomeDenied)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.quotaDecisions.WithLabelValues("image_processing", OutcomeAllowed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.quotaDecisions.WithLabelValues("image_processing", OutcomeDenied)))
}

func TestLimiterAndResize(t *testing.T) {
	m := New()

	m.ObserveLimiterRejection("auth")
	m.ObserveResize("lanczos3", "png", 20*time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.limiterRejections.WithLabelValues("auth")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.resizeDuration))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.ObserveQuotaDecision("image_processing", OutcomeFailOpen)
		m.ObserveResize("catmull-rom", "jpeg", time.Second)
		m.ObserveLimiterRejection("api")
	})
	assert.NotNil(t, m.Handler())
	assert.Nil(t, m.Registry())
}
