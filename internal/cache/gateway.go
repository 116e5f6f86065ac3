// Package cache implements the cache-aside gateway used by every pipeline
// stage. A present key is a hit even when its value is an empty collection.
// Backend failures never surface to callers: lookups degrade to misses and
// writes are dropped while the breaker is open.
package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/kwonhoyeong/pwnable-3rd-sub000/internal/metrics"
)

const (
	DefaultNamespace = "pipeline"
	DefaultTTL       = time.Hour
	defaultOpTimeout = time.Second
)

type Gateway struct {
	backend   Backend
	breaker   *Breaker
	namespace string
	ttl       time.Duration
	opTimeout time.Duration
	log       *slog.Logger
	metrics   *metrics.Metrics
}

type Option func(*Gateway)

func WithNamespace(ns string) Option { return func(g *Gateway) { g.namespace = ns } }

func WithTTL(ttl time.Duration) Option { return func(g *Gateway) { g.ttl = ttl } }

func WithBreaker(b *Breaker) Option { return func(g *Gateway) { g.breaker = b } }

func WithLogger(l *slog.Logger) Option { return func(g *Gateway) { g.log = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(g *Gateway) { g.metrics = m } }

func WithOpTimeout(d time.Duration) Option { return func(g *Gateway) { g.opTimeout = d } }

// New builds a gateway over backend. A nil backend yields a gateway that
// always misses.
func New(backend Backend, opts ...Option) *Gateway {
	g := &Gateway{
		backend:   backend,
		namespace: DefaultNamespace,
		ttl:       DefaultTTL,
		opTimeout: defaultOpTimeout,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.breaker == nil {
		g.breaker = NewBreaker(1, 30*time.Second)
	}
	if g.log == nil {
		g.log = slog.Default()
	}
	log := g.log
	m := g.metrics
	g.breaker.onChange = func(s BreakerState) {
		log.Warn("cache: breaker state changed", "state", s.String())
		m.SetBreakerOpen(s == BreakerOpen)
	}
	return g
}

func (g *Gateway) Breaker() *Breaker { return g.breaker }

func (g *Gateway) key(k string) string {
	if g.namespace == "" {
		return k
	}
	return g.namespace + ":" + k
}

// Get decodes the cached value for key into dst and reports whether it was
// present. Any backend or decode problem is reported as a miss.
func (g *Gateway) Get(ctx context.Context, key string, dst any) bool {
	if g == nil || g.backend == nil {
		return false
	}
	if !g.breaker.Allow() {
		g.metrics.CacheLookup("bypass")
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, g.opTimeout)
	defer cancel()

	raw, found, err := g.backend.Get(ctx, g.key(key))
	if err != nil {
		g.breaker.Failure()
		g.metrics.CacheLookup("error")
		g.log.Warn("cache: get failed, recomputing", "key", key, "error", err)
		return false
	}
	g.breaker.Success()
	if !found {
		g.metrics.CacheLookup("miss")
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		g.metrics.CacheLookup("error")
		g.log.Warn("cache: undecodable entry ignored", "key", key, "error", err)
		return false
	}
	g.metrics.CacheLookup("hit")
	return true
}

// Set stores value under key. ttl <= 0 uses the gateway default.
func (g *Gateway) Set(ctx context.Context, key string, value any, ttl time.Duration) {
	if g == nil || g.backend == nil {
		return
	}
	if ttl <= 0 {
		ttl = g.ttl
	}
	raw, err := json.Marshal(value)
	if err != nil {
		g.log.Warn("cache: value not encodable", "key", key, "error", err)
		return
	}
	if !g.breaker.Allow() {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, g.opTimeout)
	defer cancel()
	if err := g.backend.Set(ctx, g.key(key), raw, ttl); err != nil {
		g.breaker.Failure()
		g.log.Warn("cache: set failed", "key", key, "error", err)
		return
	}
	g.breaker.Success()
}

func (g *Gateway) Delete(ctx context.Context, keys ...string) {
	if g == nil || g.backend == nil || len(keys) == 0 {
		return
	}
	if !g.breaker.Allow() {
		return
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = g.key(k)
	}
	ctx, cancel := context.WithTimeout(ctx, g.opTimeout)
	defer cancel()
	if err := g.backend.Delete(ctx, full...); err != nil {
		g.breaker.Failure()
		g.log.Warn("cache: delete failed", "keys", strings.Join(keys, ","), "error", err)
		return
	}
	g.breaker.Success()
}
