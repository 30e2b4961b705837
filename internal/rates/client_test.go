package rates

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func quoteServer(t *testing.T, hits *atomic.Int64, fail *atomic.Bool) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if fail.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"bitcoin":{"usd":64250.5,"usd_24h_change":-1.2}}`))
	}))
}

func TestBTCQuoteFetchesAndCaches(t *testing.T) {
	var hits atomic.Int64
	var fail atomic.Bool
	srv := quoteServer(t, &hits, &fail)
	defer srv.Close()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer cache.Close()

	svc := NewService(cache, time.Minute, WithBaseURL(srv.URL))
	ctx := context.Background()

	q, err := svc.BTCQuote(ctx)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if q.PriceUSD != 64250.5 {
		t.Fatalf("expected price 64250.5, got %f", q.PriceUSD)
	}

	// Second call must be served from the cache.
	if _, err := svc.BTCQuote(ctx); err != nil {
		t.Fatalf("cached quote: %v", err)
	}
	if hits.Load() != 1 {
		t.Fatalf("expected 1 upstream hit, got %d", hits.Load())
	}
}

func TestBTCQuoteStaleFallback(t *testing.T) {
	var hits atomic.Int64
	var fail atomic.Bool
	srv := quoteServer(t, &hits, &fail)
	defer srv.Close()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer cache.Close()

	svc := NewService(cache, time.Minute, WithBaseURL(srv.URL))
	ctx := context.Background()

	if _, err := svc.BTCQuote(ctx); err != nil {
		t.Fatalf("initial quote: %v", err)
	}

	// Expire the fresh cache entry and break the upstream; the stale quote
	// should still be served.
	mr.FastForward(2 * time.Minute)
	fail.Store(true)

	q, err := svc.BTCQuote(ctx)
	if err != nil {
		t.Fatalf("expected stale fallback, got error: %v", err)
	}
	if q.PriceUSD != 64250.5 {
		t.Fatalf("expected stale price 64250.5, got %f", q.PriceUSD)
	}
}

func TestBTCQuoteUpstreamErrorWithoutCache(t *testing.T) {
	var hits atomic.Int64
	var fail atomic.Bool
	fail.Store(true)
	srv := quoteServer(t, &hits, &fail)
	defer srv.Close()

	svc := NewService(nil, time.Minute, WithBaseURL(srv.URL))

	if _, err := svc.BTCQuote(context.Background()); err == nil {
		t.Fatal("expected error when upstream fails and no cache exists")
	}
}
