package contexthub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestListContextsSendsFilters(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/contexts" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("type"); got != "dex" {
			t.Fatalf("expected type filter dex, got %q", got)
		}
		if got := r.URL.Query().Get("capabilities"); got != "token_swaps,route_optimization" {
			t.Fatalf("unexpected capabilities filter: %q", got)
		}
		_ = json.NewEncoder(w).Encode(struct {
			Contexts []Context `json:"contexts"`
			Count    int       `json:"count"`
		}{
			Contexts: []Context{{ID: "jupiter-dex-v4", Name: "Jupiter", Type: "dex"}},
			Count:    1,
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client())
	contexts, err := client.ListContexts(context.Background(), ListOptions{
		Type:         "dex",
		Capabilities: []string{"token_swaps", "route_optimization"},
	})
	if err != nil {
		t.Fatalf("list contexts: %v", err)
	}
	if len(contexts) != 1 || contexts[0].ID != "jupiter-dex-v4" {
		t.Fatalf("unexpected contexts: %+v", contexts)
	}
}

func TestGetContextError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(struct {
			Error APIError `json:"error"`
		}{Error: APIError{Code: "NOT_FOUND", Message: "missing"}})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client())
	_, err := client.GetContext(context.Background(), "does-not-exist")
	if err == nil {
		t.Fatal("expected error")
	}
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("expected APIError, got %T", err)
	}
	if apiErr.Code != "NOT_FOUND" || apiErr.StatusCode != http.StatusNotFound {
		t.Fatalf("unexpected error: %+v", apiErr)
	}
}

func TestRegisterContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("unexpected method: %s", r.Method)
		}
		var payload struct {
			Context   Context `json:"context"`
			Authority string  `json:"authority"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if payload.Context.ID != "pyth-oracle" || payload.Authority != "ops-team" {
			t.Fatalf("unexpected payload: %+v", payload)
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(Registration{Reference: "ref-1", ContextID: "pyth-oracle"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client())
	registration, err := client.RegisterContext(context.Background(), Context{
		ID:   "pyth-oracle",
		Name: "Pyth",
		Type: "oracle",
	}, "ops-team")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if registration.Reference != "ref-1" {
		t.Fatalf("unexpected registration: %+v", registration)
	}
}

func TestMarketHelpers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/market/price":
			_ = json.NewEncoder(w).Encode(PriceQuote{Symbol: "SOL-USDC", Price: 150.25})
		case "/api/v1/market/candles":
			if got := r.URL.Query().Get("limit"); got != "10" {
				t.Fatalf("unexpected limit: %q", got)
			}
			_ = json.NewEncoder(w).Encode(struct {
				Candles []Candle `json:"candles"`
			}{Candles: []Candle{{OpenTime: 1700000000, Close: 150}}})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client())
	quote, err := client.Price(context.Background(), "SOL-USDC")
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	if quote.Price != 150.25 {
		t.Fatalf("unexpected quote: %+v", quote)
	}

	candles, err := client.Candles(context.Background(), "SOL-USDC", "1m", 10)
	if err != nil {
		t.Fatalf("candles: %v", err)
	}
	if len(candles) != 1 {
		t.Fatalf("unexpected candles: %+v", candles)
	}
}
