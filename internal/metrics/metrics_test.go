package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/fusionrag/pkg/types"
)

func TestRecorders(t *testing.T) {
	m := New(false)

	m.DeliveryAttempt(types.OutcomeRateLimited, 20)
	m.DeliveryAttempt(types.OutcomeRateLimited, 15)
	m.DeliveryAttempt(types.OutcomeSuccess, 10)
	m.DeliveryFinished("SUCCESS", 1250*time.Millisecond)
	m.WebCache(true)
	m.WebCache(false)
	m.WebCache(false)
	m.RetrievalFinished(OutcomeDegraded, 2*time.Second, []string{types.NoticeEmbeddingUnavailable})
	m.Ingested("chunks", 12)
	m.Ingested("records", 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.deliveryAttempts.WithLabelValues("rate_limited")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.deliveryAttempts.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.deliveries.WithLabelValues("SUCCESS")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.webCache.WithLabelValues("hit")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.webCache.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.retrievals.WithLabelValues(OutcomeDegraded)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.notices.WithLabelValues(types.NoticeEmbeddingUnavailable)))
	assert.Equal(t, 12.0, testutil.ToFloat64(m.ingested.WithLabelValues("chunks")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.ingested), "zero counts create no series")
	assert.Equal(t, 1, testutil.CollectAndCount(m.contextSize))
}

func TestHandler(t *testing.T) {
	m := New(false)
	m.WebCache(true)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `fusionrag_websearch_cache_total{result="hit"} 1`)
	assert.NotContains(t, string(body), "go_goroutines")
}

func TestNew_WithRuntime(t *testing.T) {
	m := New(true)
	families, err := m.Registry().Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["go_goroutines"])
}
