package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_WhenDisabled(t *testing.T) {
	m := New(false)
	_, ok := m.(noopMetrics)
	assert.True(t, ok, "should return noopMetrics when disabled")

	// No-op methods must not panic.
	m.IncRequestsTotal("/sync", 200)
	m.ObserveRequestDuration("/sync", time.Millisecond)
	m.AddIngested(OutcomeAccepted, 3)
	m.IncDeviceCacheHits()
	m.IncDeviceCacheMisses()
	m.ObserveSweepDuration(time.Second)
	m.AddPurged(1)
	m.AddCompacted(1)
	m.AddArchived(1)
	m.IncSweepErrors()
}

func TestNew_WhenEnabled(t *testing.T) {
	_, ok := New(true).(*Provider)
	assert.True(t, ok, "should return Provider when enabled")
}

func TestProvider_ProvidersAreIndependent(t *testing.T) {
	// Each provider owns its registry, so creating two must not panic
	// on duplicate registration.
	assert.NotPanics(t, func() {
		NewProvider()
		NewProvider()
	})
}

func TestProvider_Handler(t *testing.T) {
	p := NewProvider()
	p.IncRequestsTotal("/sync", 200)
	p.IncRequestsTotal("/sync", 503)
	p.AddIngested(OutcomeAccepted, 4)
	p.AddIngested(OutcomeRejected, 1)
	p.AddPurged(7)

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	text := string(body)

	assert.Contains(t, text, `vitalsync_requests_total{endpoint="/sync",status="2xx"} 1`)
	assert.Contains(t, text, `vitalsync_requests_total{endpoint="/sync",status="5xx"} 1`)
	assert.Contains(t, text, `vitalsync_ingested_samples_total{outcome="accepted"} 4`)
	assert.Contains(t, text, `vitalsync_ingested_samples_total{outcome="rejected"} 1`)
	assert.Contains(t, text, `vitalsync_purged_samples_total 7`)
}

func TestHTTPStatusBucket(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{101, "1xx"},
		{200, "2xx"},
		{302, "3xx"},
		{413, "4xx"},
		{503, "5xx"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, httpStatusBucket(tt.code))
	}
}
