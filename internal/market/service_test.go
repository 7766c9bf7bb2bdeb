package market

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newUpstreamServer(t *testing.T, calls *atomic.Int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/price":
			_ = json.NewEncoder(w).Encode(PriceQuote{
				Symbol:    r.URL.Query().Get("symbol"),
				Price:     123.45,
				UpdatedAt: time.Now().Unix(),
			})
		case "/orderbook":
			_ = json.NewEncoder(w).Encode(OrderBook{
				Symbol: r.URL.Query().Get("symbol"),
				Bids:   []BookLevel{{Price: 123.4, Size: 10}},
				Asks:   []BookLevel{{Price: 123.5, Size: 8}},
			})
		case "/candles":
			_ = json.NewEncoder(w).Encode([]Candle{
				{OpenTime: 1700000000, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 100},
			})
		default:
			http.NotFound(w, r)
		}
	}))
}

func newTestService(t *testing.T, baseURL string, ttls TTLs) *Service {
	t.Helper()
	upstream, err := NewUpstream(UpstreamConfig{BaseURL: baseURL})
	if err != nil {
		t.Fatalf("new upstream: %v", err)
	}
	return NewService(upstream, NewMemoryCache(), ttls)
}

func TestPriceUsesCacheWithinTTL(t *testing.T) {
	var calls atomic.Int64
	server := newUpstreamServer(t, &calls)
	defer server.Close()

	svc := newTestService(t, server.URL, TTLs{Price: time.Minute})
	ctx := context.Background()

	first, err := svc.Price(ctx, "SOL-USDC")
	if err != nil {
		t.Fatalf("first price: %v", err)
	}
	second, err := svc.Price(ctx, "SOL-USDC")
	if err != nil {
		t.Fatalf("second price: %v", err)
	}
	if first.Price != second.Price {
		t.Fatalf("cached price differs: %v vs %v", first.Price, second.Price)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected exactly 1 upstream call, got %d", got)
	}
}

func TestPriceRefetchesAfterExpiry(t *testing.T) {
	var calls atomic.Int64
	server := newUpstreamServer(t, &calls)
	defer server.Close()

	upstream, err := NewUpstream(UpstreamConfig{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("new upstream: %v", err)
	}
	cache := NewMemoryCache()
	now := time.Now()
	var mu sync.Mutex
	cache.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	svc := NewService(upstream, cache, TTLs{Price: 10 * time.Second})
	ctx := context.Background()

	if _, err := svc.Price(ctx, "SOL-USDC"); err != nil {
		t.Fatalf("first price: %v", err)
	}
	mu.Lock()
	now = now.Add(11 * time.Second)
	mu.Unlock()
	if _, err := svc.Price(ctx, "SOL-USDC"); err != nil {
		t.Fatalf("price after expiry: %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("expected refetch after expiry, got %d calls", got)
	}
}

func TestConcurrentMissesAreCoalesced(t *testing.T) {
	var calls atomic.Int64
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		<-release
		_ = json.NewEncoder(w).Encode(PriceQuote{Symbol: "SOL-USDC", Price: 1})
	}))
	defer server.Close()

	svc := newTestService(t, server.URL, TTLs{Price: time.Minute})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Price(ctx, "SOL-USDC"); err != nil {
				t.Errorf("price: %v", err)
			}
		}()
	}
	// 等待所有协程进入查询后再放行上游响应。
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Fatalf("expected coalesced single upstream call, got %d", got)
	}
}

func TestOrderBookAndCandles(t *testing.T) {
	var calls atomic.Int64
	server := newUpstreamServer(t, &calls)
	defer server.Close()

	svc := newTestService(t, server.URL, TTLs{})
	ctx := context.Background()

	book, err := svc.OrderBook(ctx, "SOL-USDC", 5)
	if err != nil {
		t.Fatalf("orderbook: %v", err)
	}
	if len(book.Bids) != 1 || len(book.Asks) != 1 {
		t.Fatalf("unexpected book: %+v", book)
	}

	candles, err := svc.Candles(ctx, "SOL-USDC", "1m", 10)
	if err != nil {
		t.Fatalf("candles: %v", err)
	}
	if len(candles) != 1 || candles[0].Volume != 100 {
		t.Fatalf("unexpected candles: %+v", candles)
	}
}

func TestEmptySymbolIsRejected(t *testing.T) {
	var calls atomic.Int64
	server := newUpstreamServer(t, &calls)
	defer server.Close()

	svc := newTestService(t, server.URL, TTLs{})
	if _, err := svc.Price(context.Background(), "  "); err == nil {
		t.Fatalf("expected empty symbol to be rejected")
	}
	if got := calls.Load(); got != 0 {
		t.Fatalf("invalid input must not reach upstream, got %d calls", got)
	}
}

func TestUpstreamThrottleEnforcesDelay(t *testing.T) {
	var calls atomic.Int64
	server := newUpstreamServer(t, &calls)
	defer server.Close()

	upstream, err := NewUpstream(UpstreamConfig{BaseURL: server.URL, RequestDelay: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("new upstream: %v", err)
	}
	ctx := context.Background()

	start := time.Now()
	if _, err := upstream.Price(ctx, "A"); err != nil {
		t.Fatalf("first call: %v", err)
	}
	if _, err := upstream.Price(ctx, "B"); err != nil {
		t.Fatalf("second call: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Fatalf("expected at least one delay window, elapsed %v", elapsed)
	}
}
