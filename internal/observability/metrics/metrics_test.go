package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordUsageReport(t *testing.T) {
	m := New()
	m.RecordUsageReport("relative", "created", 15*time.Millisecond)
	m.RecordUsageReport("relative", "created", 5*time.Millisecond)
	m.RecordUsageReport("", "validation_error", time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.usageReports.WithLabelValues("relative", "created")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.usageReports.WithLabelValues("unknown", "validation_error")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordUsageReport("absolute", "updated", time.Second)
		m.RecordUsageRetry()
		m.RecordEntryValued("invoice", "plan")
		m.RecordTransition("cancel")
		m.RecordHTTPRequest("GET", "/metrics", 200, time.Millisecond)
	})
}

func TestRegistryGathers(t *testing.T) {
	m := New()
	m.RecordUsageRetry()
	m.RecordHTTPRequest("get", "/subscriptions/:subscription_id/activate", 200, time.Millisecond)

	families, err := m.Registry().Gather()
	assert.NoError(t, err)

	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["meterbill_usage_conflict_retries_total"])
	assert.True(t, names["meterbill_http_requests_total"])
}
