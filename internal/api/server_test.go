package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"ContextHub-Chain/internal/agent"
	"ContextHub-Chain/internal/market"
	"ContextHub-Chain/internal/observability/alerting"
	"ContextHub-Chain/internal/registry"
	"ContextHub-Chain/internal/stream"
	"ContextHub-Chain/internal/wallet"
)

func newTestServer(t *testing.T) (*Server, *stream.MemoryBus) {
	t.Helper()

	reg := registry.New()
	records := []registry.Record{
		{
			ID:           "jupiter-dex-v4",
			Name:         "Jupiter",
			Type:         registry.TypeDEX,
			Capabilities: []string{"token_swaps", "route_optimization"},
		},
		{
			ID:           "magiceden-v2",
			Name:         "Magic Eden",
			Type:         registry.TypeNFTMarketplace,
			Capabilities: []string{"nft_listing", "nft_buying"},
		},
	}
	for _, record := range records {
		if _, err := reg.Register(record, "test"); err != nil {
			t.Fatalf("register %s: %v", record.ID, err)
		}
	}

	upstreamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/price":
			_ = json.NewEncoder(w).Encode(market.PriceQuote{Symbol: r.URL.Query().Get("symbol"), Price: 99.5})
		case "/orderbook":
			_ = json.NewEncoder(w).Encode(market.OrderBook{
				Symbol: r.URL.Query().Get("symbol"),
				Bids:   []market.BookLevel{{Price: 99, Size: 1}},
				Asks:   []market.BookLevel{{Price: 100, Size: 2}},
			})
		case "/candles":
			_ = json.NewEncoder(w).Encode([]market.Candle{{OpenTime: 1700000000, Close: 99.5}})
		default:
			http.Error(w, "upstream boom", http.StatusBadGateway)
		}
	}))
	t.Cleanup(upstreamSrv.Close)

	upstream, err := market.NewUpstream(market.UpstreamConfig{BaseURL: upstreamSrv.URL})
	if err != nil {
		t.Fatalf("new upstream: %v", err)
	}
	markets := market.NewService(upstream, market.NewMemoryCache(), market.TTLs{})

	bus := stream.NewMemoryBus(8)
	t.Cleanup(func() { _ = bus.Close() })

	factory := agent.NewFactory(reg, wallet.NewManager(), nil, markets)
	return NewServer("127.0.0.1:0", reg, markets, factory, bus), bus
}

func doJSON(t *testing.T, handler http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)
	return recorder
}

func TestListContexts(t *testing.T) {
	server, _ := newTestServer(t)
	handler := server.Handler()

	recorder := doJSON(t, handler, http.MethodGet, "/api/v1/contexts", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", recorder.Code, recorder.Body.String())
	}
	var payload struct {
		Contexts []registry.Record `json:"contexts"`
		Count    int               `json:"count"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Count != 2 || len(payload.Contexts) != 2 {
		t.Fatalf("expected 2 contexts, got %+v", payload)
	}
	if payload.Contexts[0].ID != "jupiter-dex-v4" {
		t.Fatalf("expected registration order, got %s first", payload.Contexts[0].ID)
	}
}

func TestListContextsFiltered(t *testing.T) {
	server, _ := newTestServer(t)
	handler := server.Handler()

	recorder := doJSON(t, handler, http.MethodGet, "/api/v1/contexts?type=dex", nil)
	var payload struct {
		Contexts []registry.Record `json:"contexts"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(payload.Contexts) != 1 || payload.Contexts[0].ID != "jupiter-dex-v4" {
		t.Fatalf("type filter failed: %+v", payload.Contexts)
	}

	recorder = doJSON(t, handler, http.MethodGet, "/api/v1/contexts?capabilities=NFT_LISTING,nft_buying", nil)
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(payload.Contexts) != 1 || payload.Contexts[0].ID != "magiceden-v2" {
		t.Fatalf("capability filter failed: %+v", payload.Contexts)
	}

	recorder = doJSON(t, handler, http.MethodGet, "/api/v1/contexts?type=bogus", nil)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown type, got %d", recorder.Code)
	}
}

func TestGetContextByID(t *testing.T) {
	server, _ := newTestServer(t)
	handler := server.Handler()

	recorder := doJSON(t, handler, http.MethodGet, "/api/v1/contexts/jupiter-dex-v4", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", recorder.Code)
	}
	var record registry.Record
	if err := json.Unmarshal(recorder.Body.Bytes(), &record); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if record.Name != "Jupiter" {
		t.Fatalf("unexpected record: %+v", record)
	}

	recorder = doJSON(t, handler, http.MethodGet, "/api/v1/contexts/does-not-exist", nil)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", recorder.Code)
	}
}

func TestRegisterContext(t *testing.T) {
	server, bus := newTestServer(t)
	handler := server.Handler()

	updates, cancelSub, err := bus.Subscribe(context.Background())
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancelSub()

	recorder := doJSON(t, handler, http.MethodPost, "/api/v1/contexts", registerRequest{
		Context: registry.Record{
			ID:           "pyth-oracle",
			Name:         "Pyth",
			Type:         registry.TypeOracle,
			Capabilities: []string{"price_feeds"},
		},
		Authority: "ops-team",
	})
	if recorder.Code != http.StatusCreated {
		t.Fatalf("unexpected status: %d body=%s", recorder.Code, recorder.Body.String())
	}
	var payload struct {
		Reference string `json:"reference"`
		ContextID string `json:"context_id"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Reference == "" || payload.ContextID != "pyth-oracle" {
		t.Fatalf("unexpected payload: %+v", payload)
	}

	select {
	case update := <-updates:
		if update.Kind != stream.KindContextRegistered || update.ContextID != "pyth-oracle" {
			t.Fatalf("unexpected update: %+v", update)
		}
	case <-time.After(time.Second):
		t.Fatalf("registration event was not broadcast")
	}

	// 缺失必填字段的记录应返回 400。
	recorder = doJSON(t, handler, http.MethodPost, "/api/v1/contexts", registerRequest{
		Context: registry.Record{Name: "nameless"},
	})
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid record, got %d", recorder.Code)
	}
}

func TestMarketEndpoints(t *testing.T) {
	server, _ := newTestServer(t)
	handler := server.Handler()

	recorder := doJSON(t, handler, http.MethodGet, "/api/v1/market/price?symbol=SOL-USDC", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("price status: %d body=%s", recorder.Code, recorder.Body.String())
	}
	var quote market.PriceQuote
	if err := json.Unmarshal(recorder.Body.Bytes(), &quote); err != nil {
		t.Fatalf("decode quote: %v", err)
	}
	if quote.Price != 99.5 {
		t.Fatalf("unexpected quote: %+v", quote)
	}

	recorder = doJSON(t, handler, http.MethodGet, "/api/v1/market/orderbook?symbol=SOL-USDC&depth=5", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("orderbook status: %d", recorder.Code)
	}

	recorder = doJSON(t, handler, http.MethodGet, "/api/v1/market/candles?symbol=SOL-USDC&interval=1m&limit=10", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("candles status: %d", recorder.Code)
	}

	recorder = doJSON(t, handler, http.MethodGet, "/api/v1/market/price", nil)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing symbol, got %d", recorder.Code)
	}

	recorder = doJSON(t, handler, http.MethodGet, "/api/v1/market/orderbook?symbol=SOL-USDC&depth=abc", nil)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad depth, got %d", recorder.Code)
	}
}

func TestExecuteAgent(t *testing.T) {
	server, _ := newTestServer(t)
	handler := server.Handler()

	recorder := doJSON(t, handler, http.MethodPost, "/api/v1/agents/execute", executeRequest{
		Kind: agent.KindTrading,
		Instruction: agent.Instruction{
			ContextID: "jupiter-dex-v4",
			Action:    "quote",
			Symbol:    "SOL-USDC",
		},
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("execute status: %d body=%s", recorder.Code, recorder.Body.String())
	}
	var result agent.Result
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.AgentID == "" || result.Output["price"] != 99.5 {
		t.Fatalf("unexpected result: %+v", result)
	}

	recorder = doJSON(t, handler, http.MethodPost, "/api/v1/agents/execute", executeRequest{
		Kind:        "chaos",
		Instruction: agent.Instruction{ContextID: "jupiter-dex-v4"},
	})
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown kind, got %d", recorder.Code)
	}

	recorder = doJSON(t, handler, http.MethodPost, "/api/v1/agents/execute", executeRequest{
		Kind:        agent.KindTrading,
		Instruction: agent.Instruction{ContextID: "missing", Action: "quote", Symbol: "SOL-USDC"},
	})
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing context, got %d", recorder.Code)
	}
}

type recordingDispatcher struct {
	events []alerting.Event
}

func (d *recordingDispatcher) Notify(_ context.Context, event alerting.Event) error {
	d.events = append(d.events, event)
	return nil
}

func TestAlertDispatchOnFailure(t *testing.T) {
	dispatcher := &recordingDispatcher{}
	// 行情服务缺失触发 INITIALIZATION_FAILURE，该错误码默认需要告警。
	server := NewServer("127.0.0.1:0", registry.New(), nil, nil, nil, WithAlerts(dispatcher))
	handler := server.Handler()

	recorder := doJSON(t, handler, http.MethodGet, "/api/v1/market/price?symbol=SOL-USDC", nil)
	if recorder.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", recorder.Code)
	}
	if len(dispatcher.events) != 1 {
		t.Fatalf("expected one alert event, got %d", len(dispatcher.events))
	}
	if dispatcher.events[0].Source != "/api/v1/market/price" {
		t.Fatalf("unexpected event source: %s", dispatcher.events[0].Source)
	}

	// 404 不需要告警。
	recorder = doJSON(t, handler, http.MethodGet, "/api/v1/contexts/missing", nil)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", recorder.Code)
	}
	if len(dispatcher.events) != 1 {
		t.Fatalf("not-found must not alert, got %d events", len(dispatcher.events))
	}
}

func TestWebSocketPush(t *testing.T) {
	server, bus := newTestServer(t)

	httpSrv := httptest.NewServer(server.Handler())
	defer httpSrv.Close()

	wsURL := "ws" + strings.TrimPrefix(httpSrv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// 等待订阅建立后再发布，避免事件在订阅前丢失。
	deadline := time.Now().Add(2 * time.Second)
	for {
		if err := bus.Publish(context.Background(), stream.Update{
			Kind:   stream.KindPrice,
			Symbol: "SOL-USDC",
			At:     time.Now().Unix(),
		}); err != nil {
			t.Fatalf("publish: %v", err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		var update stream.Update
		if err := conn.ReadJSON(&update); err == nil {
			if update.Kind != stream.KindPrice || update.Symbol != "SOL-USDC" {
				t.Fatalf("unexpected update: %+v", update)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("no update received over websocket")
		}
	}
}

func TestWebSocketSymbolFilter(t *testing.T) {
	server, bus := newTestServer(t)

	httpSrv := httptest.NewServer(server.Handler())
	defer httpSrv.Close()

	wsURL := "ws" + strings.TrimPrefix(httpSrv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(wsCommand{Op: "subscribe", Symbols: []string{"ETH-USDC"}}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	// 给读协程一点时间应用过滤条件。
	time.Sleep(100 * time.Millisecond)

	deadline := time.Now().Add(2 * time.Second)
	for {
		now := time.Now().Unix()
		if err := bus.Publish(context.Background(), stream.Update{Kind: stream.KindPrice, Symbol: "SOL-USDC", At: now}); err != nil {
			t.Fatalf("publish: %v", err)
		}
		if err := bus.Publish(context.Background(), stream.Update{Kind: stream.KindPrice, Symbol: "ETH-USDC", At: now}); err != nil {
			t.Fatalf("publish: %v", err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		var update stream.Update
		if err := conn.ReadJSON(&update); err == nil {
			// 过滤后只应收到订阅的交易对。
			if update.Symbol != "ETH-USDC" {
				t.Fatalf("filter leaked symbol %s", update.Symbol)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("no filtered update received over websocket")
		}
	}
}
