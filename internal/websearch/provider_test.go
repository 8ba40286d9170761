package websearch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPProvider_Search(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var body struct {
			Query      string `json:"query"`
			MaxResults int    `json:"max_results"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "bandi", body.Query)
		assert.Equal(t, 1, body.MaxResults)

		_ = json.NewEncoder(w).Encode(map[string]any{"results": sampleResults()})
	}))
	defer srv.Close()

	p, err := NewHTTPProvider(srv.URL, "secret", time.Second)
	require.NoError(t, err)

	res, err := p.Search(context.Background(), "bandi", 1)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "https://example.org/appalti", res[0].URL)
}

func TestHTTPProvider_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "quota", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p, err := NewHTTPProvider(srv.URL, "", time.Second)
	require.NoError(t, err)
	_, err = p.Search(context.Background(), "x", 3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")

	_, err = NewHTTPProvider("", "", 0)
	assert.Error(t, err)
}

type fakeKV struct {
	data map[string]string
	ttl  time.Duration
}

func (f *fakeKV) Get(_ context.Context, key string) *goredis.StringCmd {
	v, ok := f.data[key]
	if !ok {
		return goredis.NewStringResult("", goredis.Nil)
	}
	return goredis.NewStringResult(v, nil)
}

func (f *fakeKV) Set(_ context.Context, key string, value interface{}, exp time.Duration) *goredis.StatusCmd {
	f.data[key] = string(value.([]byte))
	f.ttl = exp
	return goredis.NewStatusResult("OK", nil)
}

func TestRedisCache_RoundTrip(t *testing.T) {
	kv := &fakeKV{data: map[string]string{}}
	c := newRedisCache(kv, 15*time.Minute)
	ctx := context.Background()

	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)

	c.Set(ctx, "k", sampleResults()[:2])
	assert.Equal(t, 15*time.Minute, kv.ttl)
	assert.Contains(t, kv.data, "fusionrag:websearch:k")

	got, ok := c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, sampleResults()[:2], got)

	kv.data["fusionrag:websearch:bad"] = "{not json"
	_, ok = c.Get(ctx, "bad")
	assert.False(t, ok)
}
