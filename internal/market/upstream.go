package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	xerrors "ContextHub-Chain/internal/errors"
)

// UpstreamConfig 描述上游行情服务的访问参数。
type UpstreamConfig struct {
	BaseURL string
	// RequestDelay 是相邻两次上游请求之间的最小间隔，
	// 用于满足未认证接口的限速要求。
	RequestDelay time.Duration
	Timeout      time.Duration
}

// Upstream 是对第三方行情 HTTP API 的瘦代理。
type Upstream struct {
	baseURL    *url.URL
	httpClient *http.Client
	delay      time.Duration

	mu       sync.Mutex
	lastCall time.Time
}

// NewUpstream 创建上游行情客户端。
func NewUpstream(cfg UpstreamConfig) (*Upstream, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		return nil, errors.New("上游行情地址不能为空")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("解析上游行情地址失败: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Upstream{
		baseURL:    parsed,
		httpClient: &http.Client{Timeout: timeout},
		delay:      cfg.RequestDelay,
	}, nil
}

// Price 查询交易对最新价格。
func (u *Upstream) Price(ctx context.Context, symbol string) (*PriceQuote, error) {
	var quote PriceQuote
	query := url.Values{"symbol": {symbol}}
	if err := u.get(ctx, "/price", query, &quote); err != nil {
		return nil, err
	}
	return &quote, nil
}

// OrderBook 查询交易对订单簿快照。
func (u *Upstream) OrderBook(ctx context.Context, symbol string, depth int) (*OrderBook, error) {
	query := url.Values{"symbol": {symbol}}
	if depth > 0 {
		query.Set("depth", strconv.Itoa(depth))
	}
	var book OrderBook
	if err := u.get(ctx, "/orderbook", query, &book); err != nil {
		return nil, err
	}
	return &book, nil
}

// Candles 查询交易对的 K 线序列。
func (u *Upstream) Candles(ctx context.Context, symbol, interval string, limit int) ([]Candle, error) {
	query := url.Values{"symbol": {symbol}}
	if interval != "" {
		query.Set("interval", interval)
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	var candles []Candle
	if err := u.get(ctx, "/candles", query, &candles); err != nil {
		return nil, err
	}
	return candles, nil
}

func (u *Upstream) get(ctx context.Context, endpoint string, query url.Values, out any) error {
	if err := u.throttle(ctx); err != nil {
		return err
	}

	target := *u.baseURL
	target.Path = strings.TrimSuffix(target.Path, "/") + endpoint
	target.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeUpstreamFailure, err, "构造上游请求失败")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := u.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return xerrors.Wrap(xerrors.CodeTimeout, err, "上游行情请求超时")
		}
		return xerrors.Wrap(xerrors.CodeUpstreamFailure, err, "上游行情请求失败")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return xerrors.New(xerrors.CodeUpstreamFailure,
			fmt.Sprintf("上游行情返回状态码 %d", resp.StatusCode),
			xerrors.WithMetadata("endpoint", endpoint),
		)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return xerrors.Wrap(xerrors.CodeUpstreamFailure, err, "解析上游行情响应失败")
	}
	return nil
}

// throttle 在相邻请求之间强制固定的最小间隔。
func (u *Upstream) throttle(ctx context.Context) error {
	if u.delay <= 0 {
		return nil
	}
	u.mu.Lock()
	wait := u.delay - time.Since(u.lastCall)
	u.lastCall = time.Now().Add(wait)
	u.mu.Unlock()

	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
