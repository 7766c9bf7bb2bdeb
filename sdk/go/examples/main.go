package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"ContextHub-Chain/sdk/go/contexthub"
)

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/contexts", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			_ = json.NewEncoder(w).Encode(struct {
				Contexts []contexthub.Context `json:"contexts"`
				Count    int                  `json:"count"`
			}{
				Contexts: []contexthub.Context{{
					ID:           "jupiter-dex-v4",
					Name:         "Jupiter",
					Type:         "dex",
					Capabilities: []string{"token_swaps", "route_optimization"},
				}},
				Count: 1,
			})
		case http.MethodPost:
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(contexthub.Registration{
				Reference: "ref-demo",
				ContextID: "pyth-oracle",
			})
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/api/v1/market/price", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(contexthub.PriceQuote{
			Symbol:    r.URL.Query().Get("symbol"),
			Price:     150.25,
			UpdatedAt: time.Now().Unix(),
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := contexthub.NewClient(srv.URL, srv.Client())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	contexts, err := client.ListContexts(ctx, contexthub.ListOptions{Type: "dex"})
	if err != nil {
		panic(err)
	}
	fmt.Printf("found %d dex contexts, first: %s\n", len(contexts), contexts[0].Name)

	registration, err := client.RegisterContext(ctx, contexthub.Context{
		ID:           "pyth-oracle",
		Name:         "Pyth",
		Type:         "oracle",
		Capabilities: []string{"price_feeds"},
	}, "demo-authority")
	if err != nil {
		panic(err)
	}
	fmt.Printf("registered %s (reference=%s)\n", registration.ContextID, registration.Reference)

	quote, err := client.Price(ctx, "SOL-USDC")
	if err != nil {
		panic(err)
	}
	fmt.Printf("latest price for %s: %.2f\n", quote.Symbol, quote.Price)
}
