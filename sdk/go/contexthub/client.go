package contexthub

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. It is intentionally short to avoid hanging network calls.
const DefaultHTTPTimeout = 15 * time.Second

// Client wraps the HTTP interactions with the ContextHub Chain REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// Context mirrors a context descriptor as served by the daemon.
type Context struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Description  string         `json:"description,omitempty"`
	Type         string         `json:"type"`
	Capabilities []string       `json:"capabilities,omitempty"`
	Endpoint     string         `json:"endpoint,omitempty"`
	AuthRequired bool           `json:"auth_required,omitempty"`
	Schema       map[string]any `json:"schema,omitempty"`
}

// ListOptions narrows a context listing. Zero values apply no filter.
type ListOptions struct {
	Type         string
	Capabilities []string
}

// Registration is the outcome of a successful context registration.
type Registration struct {
	Reference string `json:"reference"`
	ContextID string `json:"context_id"`
}

// PriceQuote is the latest traded price for a symbol.
type PriceQuote struct {
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	UpdatedAt int64   `json:"updated_at,omitempty"`
}

// BookLevel is a single price level of an order book.
type BookLevel struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// OrderBook is a depth snapshot for a symbol.
type OrderBook struct {
	Symbol    string      `json:"symbol"`
	Bids      []BookLevel `json:"bids"`
	Asks      []BookLevel `json:"asks"`
	UpdatedAt int64       `json:"updated_at,omitempty"`
}

// Candle is a single OHLCV bar.
type Candle struct {
	OpenTime int64   `json:"open_time"`
	Open     float64 `json:"open"`
	High     float64 `json:"high"`
	Low      float64 `json:"low"`
	Close    float64 `json:"close"`
	Volume   float64 `json:"volume"`
}

// Instruction describes a single order for an agent to carry out.
type Instruction struct {
	ContextID string         `json:"context_id"`
	Action    string         `json:"action"`
	Symbol    string         `json:"symbol,omitempty"`
	Address   string         `json:"address,omitempty"`
	Params    map[string]any `json:"params,omitempty"`
}

// ExecutionResult is the outcome of a delegated instruction.
type ExecutionResult struct {
	AgentID      string         `json:"agent_id"`
	ContextID    string         `json:"context_id"`
	Action       string         `json:"action"`
	Output       map[string]any `json:"output,omitempty"`
	Observations string         `json:"observations,omitempty"`
	CreatedAt    int64          `json:"created_at"`
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("contexthub api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("contexthub api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the ContextHub Chain API. When httpClient
// is nil, a default client with a sensible timeout is used.
func NewClient(rawURL string, httpClient *http.Client) *Client {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		panic(fmt.Sprintf("invalid base url: %v", err))
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}
}

// ListContexts returns the registered context descriptors, optionally filtered
// by type and required capabilities.
func (c *Client) ListContexts(ctx context.Context, opts ListOptions) ([]Context, error) {
	query := url.Values{}
	if opts.Type != "" {
		query.Set("type", opts.Type)
	}
	if len(opts.Capabilities) > 0 {
		query.Set("capabilities", strings.Join(opts.Capabilities, ","))
	}
	endpoint := "/api/v1/contexts"
	if encoded := query.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}

	var payload struct {
		Contexts []Context `json:"contexts"`
	}
	if err := c.get(ctx, endpoint, &payload); err != nil {
		return nil, err
	}
	return payload.Contexts, nil
}

// GetContext fetches a single context descriptor by identifier.
func (c *Client) GetContext(ctx context.Context, id string) (Context, error) {
	var record Context
	if err := c.get(ctx, "/api/v1/contexts/"+url.PathEscape(id), &record); err != nil {
		return Context{}, err
	}
	return record, nil
}

// RegisterContext inserts or overwrites a context descriptor. The authority is
// forwarded as an opaque credential.
func (c *Client) RegisterContext(ctx context.Context, record Context, authority string) (Registration, error) {
	payload := struct {
		Context   Context `json:"context"`
		Authority string  `json:"authority,omitempty"`
	}{Context: record, Authority: authority}

	var registration Registration
	if err := c.post(ctx, "/api/v1/contexts", payload, &registration); err != nil {
		return Registration{}, err
	}
	return registration, nil
}

// Price returns the cached latest price for a symbol.
func (c *Client) Price(ctx context.Context, symbol string) (PriceQuote, error) {
	var quote PriceQuote
	endpoint := "/api/v1/market/price?symbol=" + url.QueryEscape(symbol)
	if err := c.get(ctx, endpoint, &quote); err != nil {
		return PriceQuote{}, err
	}
	return quote, nil
}

// OrderBook returns a cached depth snapshot for a symbol. A depth of zero lets
// the server pick its default.
func (c *Client) OrderBook(ctx context.Context, symbol string, depth int) (OrderBook, error) {
	query := url.Values{"symbol": {symbol}}
	if depth > 0 {
		query.Set("depth", strconv.Itoa(depth))
	}
	var book OrderBook
	if err := c.get(ctx, "/api/v1/market/orderbook?"+query.Encode(), &book); err != nil {
		return OrderBook{}, err
	}
	return book, nil
}

// Candles returns cached OHLCV bars for a symbol.
func (c *Client) Candles(ctx context.Context, symbol, interval string, limit int) ([]Candle, error) {
	query := url.Values{"symbol": {symbol}}
	if interval != "" {
		query.Set("interval", interval)
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	var payload struct {
		Candles []Candle `json:"candles"`
	}
	if err := c.get(ctx, "/api/v1/market/candles?"+query.Encode(), &payload); err != nil {
		return nil, err
	}
	return payload.Candles, nil
}

// Execute delegates an instruction to a freshly created agent of the given
// kind and returns its result.
func (c *Client) Execute(ctx context.Context, kind string, instruction Instruction) (ExecutionResult, error) {
	payload := struct {
		Kind        string      `json:"kind"`
		Instruction Instruction `json:"instruction"`
	}{Kind: kind, Instruction: instruction}

	var result ExecutionResult
	if err := c.post(ctx, "/api/v1/agents/execute", payload, &result); err != nil {
		return ExecutionResult{}, err
	}
	return result, nil
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	rawPath := endpoint
	rawQuery := ""
	if idx := strings.Index(endpoint, "?"); idx >= 0 {
		rawPath, rawQuery = endpoint[:idx], endpoint[idx+1:]
	}
	rel := &url.URL{Path: path.Join(c.baseURL.Path, rawPath), RawQuery: rawQuery}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr APIError
		apiErr.StatusCode = resp.StatusCode
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &struct {
				Error *APIError `json:"error"`
			}{Error: &apiErr}); err != nil {
				// try direct decode into apiErr if server returned flat payload
				_ = json.Unmarshal(data, &apiErr)
			}
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return &apiErr
	}

	if out == nil {
		return nil
	}
	decoder := json.NewDecoder(resp.Body)
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
