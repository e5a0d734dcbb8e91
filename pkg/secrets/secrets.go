// Package secrets provides a process-wide configuration snapshot that
// survives upstream failures: a circuit breaker in front of a live fetch,
// falling back to the last snapshot written to disk.
package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"alephauto/pkg/resilience"
)

// Source identifies where a Snapshot's data came from.
type Source string

const (
	SourceLive  Source = "live"
	SourceCache Source = "cache"
)

// Snapshot is a read-only secrets mapping with fetch provenance attached.
// Callers must treat the Data map as immutable.
type Snapshot struct {
	Data         map[string]string `json:"data"`
	FetchedAt    time.Time         `json:"fetchedAt"`
	Source       Source            `json:"source"`
	CircuitState string            `json:"circuitState"`
}

// cacheFile is the on-disk shape of the last-observed snapshot.
type cacheFile struct {
	Data      map[string]string `json:"data"`
	FetchedAt time.Time         `json:"fetchedAt"`
}

// Fetcher performs the actual live lookup (HTTP call, vault client, etc).
type Fetcher interface {
	Fetch(ctx context.Context) (map[string]string, error)
}

// FetcherFunc adapts a plain function to the Fetcher interface.
type FetcherFunc func(ctx context.Context) (map[string]string, error)

func (f FetcherFunc) Fetch(ctx context.Context) (map[string]string, error) {
	return f(ctx)
}

// Telemetry receives severity-tagged provider events. Any of the funcs may
// be nil.
type Telemetry struct {
	OnError   func(msg string, err error)
	OnInfo    func(msg string)
	OnWarning func(msg string)
}

// Provider serves secrets snapshots, single-flighting concurrent live
// fetches and falling back to a disk cache when the circuit is open.
type Provider struct {
	fetcher   Fetcher
	cachePath string
	breaker   *resilience.CircuitBreaker
	telemetry Telemetry
	invalidate InvalidationSubscriber

	mu       sync.RWMutex
	cached   *Snapshot
	group    singleflight.Group
}

// InvalidationSubscriber notifies the provider that the cache should be
// discarded and re-fetched on next call (e.g. a Redis pub/sub signal).
// Optional; nil disables external invalidation.
type InvalidationSubscriber interface {
	Subscribe(ctx context.Context, onInvalidate func())
}

// Option configures a Provider at construction time.
type Option func(*Provider)

// WithTelemetry attaches severity-tagged observability hooks.
func WithTelemetry(t Telemetry) Option {
	return func(p *Provider) { p.telemetry = t }
}

// WithInvalidationSubscriber wires an external cache-invalidation signal.
func WithInvalidationSubscriber(s InvalidationSubscriber) Option {
	return func(p *Provider) { p.invalidate = s }
}

// WithCircuitBreakerConfig overrides the default breaker tuning.
func WithCircuitBreakerConfig(cfg resilience.CircuitBreakerConfig) Option {
	return func(p *Provider) { p.breaker = resilience.NewCircuitBreaker("secrets", cfg) }
}

// NewProvider constructs a Provider. cachePath is the single on-disk cache
// file; it is created atomically on every successful live fetch.
func NewProvider(fetcher Fetcher, cachePath string, opts ...Option) *Provider {
	p := &Provider{
		fetcher:   fetcher,
		cachePath: cachePath,
		breaker:   resilience.NewCircuitBreaker("secrets", resilience.DefaultCircuitBreakerConfig()),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.invalidate != nil {
		go p.invalidate.Subscribe(context.Background(), p.dropCache)
	}
	return p
}

func (p *Provider) dropCache() {
	p.mu.Lock()
	p.cached = nil
	p.mu.Unlock()
}

// GetSecrets returns the current snapshot: a live fetch when the circuit is
// closed or half-open, the disk cache when it is open. Concurrent callers
// during an in-flight live fetch share its single outcome.
func (p *Provider) GetSecrets(ctx context.Context) (Snapshot, error) {
	stateBefore := p.breaker.State()

	v, err, _ := p.group.Do("fetch", func() (interface{}, error) {
		var data map[string]string
		fetchErr := p.breaker.Execute(ctx, func() error {
			d, err := p.fetcher.Fetch(ctx)
			if err != nil {
				return err
			}
			data = d
			return nil
		})
		return data, fetchErr
	})

	stateAfter := p.breaker.State()
	p.emitTransition(stateBefore, stateAfter)

	if err == nil {
		snap := Snapshot{
			Data:         v.(map[string]string),
			FetchedAt:    time.Now(),
			Source:       SourceLive,
			CircuitState: stateAfter.String(),
		}
		p.writeCache(snap)
		p.mu.Lock()
		p.cached = &snap
		p.mu.Unlock()
		return snap, nil
	}

	// Live fetch failed or circuit is open: fall back to cache.
	if cached := p.readCache(); cached != nil {
		snap := *cached
		snap.Source = SourceCache
		snap.CircuitState = stateAfter.String()
		return snap, nil
	}

	return Snapshot{}, fmt.Errorf("secrets unavailable: no live source and no disk cache: %w", err)
}

// emitTransition fires the severity-tagged telemetry events §4.B requires:
// error on open, info on close, warning on half-open reopen.
func (p *Provider) emitTransition(before, after resilience.CircuitState) {
	if before == after {
		return
	}
	switch after {
	case resilience.CircuitOpen:
		if p.telemetry.OnError != nil {
			p.telemetry.OnError("secrets circuit opened", resilience.ErrCircuitOpen)
		}
	case resilience.CircuitClosed:
		if p.telemetry.OnInfo != nil {
			p.telemetry.OnInfo("secrets circuit closed")
		}
	case resilience.CircuitHalfOpen:
		if before == resilience.CircuitOpen && p.telemetry.OnWarning != nil {
			p.telemetry.OnWarning("secrets circuit half-open, reopen in progress")
		}
	}
}

// Health reports the breaker's structured health plus cache age, matching
// §4.B's { state, failureCount, totalRequests, successRate, cacheAge,
// nextAttemptAt? } shape.
type Health struct {
	resilience.Health
	CacheAgeSeconds float64 `json:"cacheAgeSeconds"`
}

func (p *Provider) Health() Health {
	h := Health{Health: p.breaker.HealthReport()}
	if cached := p.readCache(); cached != nil {
		h.CacheAgeSeconds = time.Since(cached.FetchedAt).Seconds()
	} else {
		h.CacheAgeSeconds = -1
	}
	return h
}

// CacheFreshness classifies the on-disk cache age per §3: fresh <12h,
// warning 12-24h, critical >24h. Read-only classification; never gates use.
type CacheFreshness string

const (
	CacheFresh    CacheFreshness = "fresh"
	CacheWarning  CacheFreshness = "warning"
	CacheCritical CacheFreshness = "critical"
)

func (p *Provider) CacheFreshness() (CacheFreshness, bool) {
	cached := p.readCache()
	if cached == nil {
		return "", false
	}
	age := time.Since(cached.FetchedAt)
	switch {
	case age < 12*time.Hour:
		return CacheFresh, true
	case age < 24*time.Hour:
		return CacheWarning, true
	default:
		return CacheCritical, true
	}
}

func (p *Provider) readCache() *Snapshot {
	p.mu.RLock()
	if p.cached != nil {
		snap := *p.cached
		p.mu.RUnlock()
		return &snap
	}
	p.mu.RUnlock()

	raw, err := os.ReadFile(p.cachePath)
	if err != nil {
		return nil
	}
	var cf cacheFile
	if err := json.Unmarshal(raw, &cf); err != nil {
		return nil
	}
	snap := &Snapshot{Data: cf.Data, FetchedAt: cf.FetchedAt}

	p.mu.Lock()
	p.cached = snap
	p.mu.Unlock()
	return snap
}

// writeCache persists the snapshot atomically: write to a temp file in the
// same directory, then rename, so a concurrent reader never observes a
// partial write.
func (p *Provider) writeCache(snap Snapshot) {
	if p.cachePath == "" {
		return
	}
	dir := filepath.Dir(p.cachePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		if p.telemetry.OnWarning != nil {
			p.telemetry.OnWarning("secrets cache directory create failed: " + err.Error())
		}
		return
	}

	cf := cacheFile{Data: snap.Data, FetchedAt: snap.FetchedAt}
	raw, err := json.Marshal(cf)
	if err != nil {
		return
	}

	tmp, err := os.CreateTemp(dir, ".secrets-cache-*.tmp")
	if err != nil {
		if p.telemetry.OnWarning != nil {
			p.telemetry.OnWarning("secrets cache temp file create failed: " + err.Error())
		}
		return
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once renamed

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return
	}
	if err := tmp.Close(); err != nil {
		return
	}
	if err := os.Rename(tmpName, p.cachePath); err != nil && p.telemetry.OnWarning != nil {
		p.telemetry.OnWarning("secrets cache rename failed: " + err.Error())
	}
}

// envFetcher is the bootstrap-mode Fetcher: it reads a fixed key set from
// the process environment. cmd/api always uses it as the provider's live
// source (Config.SecretsURL is loaded but never read), so the provider has
// a trivially-always-succeeding live source.
type envFetcher struct {
	keys []string
}

// NewEnvFetcher builds a Fetcher that reads the given env var names.
// Missing vars are simply absent from the returned map.
func NewEnvFetcher(keys []string) Fetcher {
	return envFetcher{keys: keys}
}

func (f envFetcher) Fetch(_ context.Context) (map[string]string, error) {
	out := make(map[string]string, len(f.keys))
	for _, k := range f.keys {
		if v, ok := os.LookupEnv(k); ok {
			out[k] = v
		}
	}
	return out, nil
}
