package secrets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"alephauto/pkg/resilience"
)

func tempCachePath(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	return filepath.Join(dir, "secrets-cache.json")
}

func TestProvider_LiveFetchPopulatesCache(t *testing.T) {
	cachePath := tempCachePath(t)
	fetcher := FetcherFunc(func(ctx context.Context) (map[string]string, error) {
		return map[string]string{"foo": "bar"}, nil
	})
	p := NewProvider(fetcher, cachePath)

	snap, err := p.GetSecrets(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Source != SourceLive {
		t.Errorf("expected live source, got %s", snap.Source)
	}
	if snap.Data["foo"] != "bar" {
		t.Errorf("expected foo=bar, got %+v", snap.Data)
	}
	if _, err := os.Stat(cachePath); err != nil {
		t.Errorf("expected cache file to exist: %v", err)
	}
}

func TestProvider_FallsBackToCacheWhenCircuitOpen(t *testing.T) {
	cachePath := tempCachePath(t)

	var calls int32
	fetcher := FetcherFunc(func(ctx context.Context) (map[string]string, error) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			return map[string]string{"foo": "bar"}, nil
		}
		return nil, errors.New("upstream down")
	})

	cfg := resilience.CircuitBreakerConfig{
		FailureThreshold:  1,
		SuccessThreshold:  1,
		Timeout:           1 * time.Hour,
		MaxRequests:       1,
		BackoffMultiplier: 2.0,
		MaxBackoff:        1 * time.Hour,
	}
	p := NewProvider(fetcher, cachePath, WithCircuitBreakerConfig(cfg))

	if _, err := p.GetSecrets(context.Background()); err != nil {
		t.Fatalf("first fetch should succeed: %v", err)
	}

	snap, err := p.GetSecrets(context.Background())
	if err != nil {
		t.Fatalf("second call should fall back to cache, got error: %v", err)
	}
	if snap.Source != SourceCache {
		t.Errorf("expected cache source after circuit opens, got %s", snap.Source)
	}
	if snap.Data["foo"] != "bar" {
		t.Errorf("expected cached data to survive, got %+v", snap.Data)
	}
}

func TestProvider_NoCacheNoLiveFails(t *testing.T) {
	cachePath := tempCachePath(t)
	fetcher := FetcherFunc(func(ctx context.Context) (map[string]string, error) {
		return nil, errors.New("upstream down")
	})
	p := NewProvider(fetcher, cachePath)

	if _, err := p.GetSecrets(context.Background()); err == nil {
		t.Errorf("expected error when no live source and no cache")
	}
}

func TestProvider_SingleFlightDeduplicatesConcurrentFetches(t *testing.T) {
	cachePath := tempCachePath(t)
	var calls int32
	fetcher := FetcherFunc(func(ctx context.Context) (map[string]string, error) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(20 * time.Millisecond)
		return map[string]string{"foo": "bar"}, nil
	})
	p := NewProvider(fetcher, cachePath)

	done := make(chan struct{})
	for i := 0; i < 5; i++ {
		go func() {
			_, _ = p.GetSecrets(context.Background())
			done <- struct{}{}
		}()
	}
	for i := 0; i < 5; i++ {
		<-done
	}

	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("expected exactly 1 upstream fetch for concurrent callers, got %d", calls)
	}
}

func TestProvider_CacheFreshness(t *testing.T) {
	cachePath := tempCachePath(t)
	fetcher := FetcherFunc(func(ctx context.Context) (map[string]string, error) {
		return map[string]string{"foo": "bar"}, nil
	})
	p := NewProvider(fetcher, cachePath)
	if _, err := p.GetSecrets(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	freshness, ok := p.CacheFreshness()
	if !ok {
		t.Fatalf("expected cache to exist")
	}
	if freshness != CacheFresh {
		t.Errorf("expected fresh cache immediately after write, got %s", freshness)
	}
}

func TestEnvFetcher(t *testing.T) {
	os.Setenv("ALEPHAUTO_TEST_SECRET", "value")
	defer os.Unsetenv("ALEPHAUTO_TEST_SECRET")

	f := NewEnvFetcher([]string{"ALEPHAUTO_TEST_SECRET", "ALEPHAUTO_TEST_MISSING"})
	data, err := f.Fetch(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if data["ALEPHAUTO_TEST_SECRET"] != "value" {
		t.Errorf("expected value, got %+v", data)
	}
	if _, ok := data["ALEPHAUTO_TEST_MISSING"]; ok {
		t.Errorf("expected missing var to be absent from map")
	}
}
