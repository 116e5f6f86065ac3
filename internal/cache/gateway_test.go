package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kwonhoyeong/pwnable-3rd-sub000/internal/metrics"
	"github.com/kwonhoyeong/pwnable-3rd-sub000/internal/model"
)

type memBackend struct {
	mu    sync.Mutex
	data  map[string][]byte
	ttls  map[string]time.Duration
	fail  error
	calls int
}

func newMemBackend() *memBackend {
	return &memBackend{data: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (m *memBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.fail != nil {
		return nil, false, m.fail
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.fail != nil {
		return m.fail
	}
	m.data[key] = value
	m.ttls[key] = ttl
	return nil
}

func (m *memBackend) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.fail != nil {
		return m.fail
	}
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func TestGatewayEmptyValueIsAHit(t *testing.T) {
	ctx := context.Background()
	backend := newMemBackend()
	g := New(backend)

	g.Set(ctx, "mapping:npm:left-pad:latest", model.MappingResult{CVEIDs: []string{}}, 0)

	var got model.MappingResult
	require.True(t, g.Get(ctx, "mapping:npm:left-pad:latest", &got))
	assert.NotNil(t, got.CVEIDs)
	assert.Empty(t, got.CVEIDs)
	assert.Equal(t, DefaultTTL, backend.ttls["pipeline:mapping:npm:left-pad:latest"])
}

func TestGatewayMissWhenAbsent(t *testing.T) {
	g := New(newMemBackend())
	var got model.MappingResult
	assert.False(t, g.Get(context.Background(), "mapping:npm:x:latest", &got))
}

func TestGatewayNilBackendAlwaysMisses(t *testing.T) {
	g := New(nil)
	g.Set(context.Background(), "k", 1, 0)
	var v int
	assert.False(t, g.Get(context.Background(), "k", &v))

	var nilGateway *Gateway
	assert.False(t, nilGateway.Get(context.Background(), "k", &v))
	assert.NotPanics(t, func() { nilGateway.Set(context.Background(), "k", 1, 0) })
}

func TestGatewayFailsOpenAndBreakerStopsCalls(t *testing.T) {
	ctx := context.Background()
	backend := newMemBackend()
	backend.fail = errors.New("connection refused")
	m := metrics.New(prometheus.NewRegistry())
	g := New(backend, WithBreaker(NewBreaker(1, time.Minute)), WithMetrics(m))

	var v int
	assert.False(t, g.Get(ctx, "k", &v))
	assert.Equal(t, BreakerOpen, g.Breaker().State())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheBreakerOpen))

	callsAfterTrip := backend.calls
	assert.False(t, g.Get(ctx, "k", &v))
	g.Set(ctx, "k", 1, 0)
	assert.Equal(t, callsAfterTrip, backend.calls, "open breaker must not touch the backend")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues("bypass")))
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	b := NewBreaker(2, 30*time.Second)
	b.now = func() time.Time { return now }

	b.Failure()
	assert.Equal(t, BreakerClosed, b.State())
	b.Failure()
	assert.Equal(t, BreakerOpen, b.State())
	assert.False(t, b.Allow())

	now = now.Add(31 * time.Second)
	assert.True(t, b.Allow(), "first call after cooldown is the probe")
	assert.Equal(t, BreakerHalfOpen, b.State())
	assert.False(t, b.Allow(), "only one probe at a time")

	b.Failure()
	assert.Equal(t, BreakerOpen, b.State())

	now = now.Add(31 * time.Second)
	require.True(t, b.Allow())
	b.Success()
	assert.Equal(t, BreakerClosed, b.State())
	assert.True(t, b.Allow())
}

func TestGatewayRecoversAfterCooldown(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	backend := newMemBackend()
	br := NewBreaker(1, 10*time.Second)
	br.now = func() time.Time { return now }
	g := New(backend, WithBreaker(br))

	backend.fail = errors.New("timeout")
	g.Set(ctx, "k", 7, 0)
	require.Equal(t, BreakerOpen, br.State())

	backend.fail = nil
	now = now.Add(11 * time.Second)
	g.Set(ctx, "k", 7, 0)
	assert.Equal(t, BreakerClosed, br.State())

	var v int
	require.True(t, g.Get(ctx, "k", &v))
	assert.Equal(t, 7, v)
}

func TestKeysAreStable(t *testing.T) {
	k := model.NaturalKey{Package: "lodash", VersionRange: "<4.17.21", Ecosystem: "npm"}
	assert.Equal(t, "mapping:npm:lodash:<4.17.21", MappingKey(k))
	assert.Equal(t, "threat:npm:lodash:<4.17.21:CVE-2021-23337", ThreatKey(k, "CVE-2021-23337"))
	assert.Equal(t, "analysis:cve:CVE-2021-23337", AnalysisKey(model.NaturalKey{CVEID: "CVE-2021-23337"}, "CVE-2021-23337"))
	assert.Equal(t, "cvss:CVE-2021-23337", CVSSKey("CVE-2021-23337"))
	assert.Equal(t, "mapping:maven:org.foo_bar:1.0", MappingKey(model.NaturalKey{Package: "org.foo:bar", VersionRange: "1.0", Ecosystem: "maven"}))
}
