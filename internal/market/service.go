package market

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	xerrors "ContextHub-Chain/internal/errors"
	"ContextHub-Chain/pkg/logger"
)

// TTLs 描述各类行情数据的缓存时长。
type TTLs struct {
	Price     time.Duration
	OrderBook time.Duration
	Candles   time.Duration
}

// DefaultTTLs 返回参考实现使用的固定缓存时长。
func DefaultTTLs() TTLs {
	return TTLs{
		Price:     10 * time.Second,
		OrderBook: 5 * time.Second,
		Candles:   60 * time.Second,
	}
}

// Service 在上游行情客户端之上提供带缓存与请求合并的查询入口。
// 同一缓存键上的并发未命中只会触发一次上游请求。
type Service struct {
	upstream *Upstream
	cache    Cache
	ttls     TTLs
	group    singleflight.Group
	log      *slog.Logger
}

// NewService 构造行情查询服务。
func NewService(upstream *Upstream, cache Cache, ttls TTLs) *Service {
	if cache == nil {
		cache = NewMemoryCache()
	}
	defaults := DefaultTTLs()
	if ttls.Price <= 0 {
		ttls.Price = defaults.Price
	}
	if ttls.OrderBook <= 0 {
		ttls.OrderBook = defaults.OrderBook
	}
	if ttls.Candles <= 0 {
		ttls.Candles = defaults.Candles
	}
	return &Service{
		upstream: upstream,
		cache:    cache,
		ttls:     ttls,
		log:      logger.Named("market"),
	}
}

// Price 返回交易对最新价格，优先命中缓存。
func (s *Service) Price(ctx context.Context, symbol string) (*PriceQuote, error) {
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "交易对符号不能为空")
	}
	var quote PriceQuote
	err := s.cached(ctx, "price:"+strings.ToUpper(symbol), s.ttls.Price, &quote, func(ctx context.Context) (any, error) {
		return s.upstream.Price(ctx, symbol)
	})
	if err != nil {
		return nil, err
	}
	return &quote, nil
}

// OrderBook 返回交易对订单簿快照，优先命中缓存。
func (s *Service) OrderBook(ctx context.Context, symbol string, depth int) (*OrderBook, error) {
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "交易对符号不能为空")
	}
	key := fmt.Sprintf("book:%s:%d", strings.ToUpper(symbol), depth)
	var book OrderBook
	err := s.cached(ctx, key, s.ttls.OrderBook, &book, func(ctx context.Context) (any, error) {
		return s.upstream.OrderBook(ctx, symbol, depth)
	})
	if err != nil {
		return nil, err
	}
	return &book, nil
}

// Candles 返回交易对的 K 线序列，优先命中缓存。
func (s *Service) Candles(ctx context.Context, symbol, interval string, limit int) ([]Candle, error) {
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "交易对符号不能为空")
	}
	if interval == "" {
		interval = "1m"
	}
	key := "candles:" + strings.ToUpper(symbol) + ":" + interval + ":" + strconv.Itoa(limit)
	var candles []Candle
	err := s.cached(ctx, key, s.ttls.Candles, &candles, func(ctx context.Context) (any, error) {
		return s.upstream.Candles(ctx, symbol, interval, limit)
	})
	if err != nil {
		return nil, err
	}
	return candles, nil
}

// Close 释放缓存资源。
func (s *Service) Close() error {
	if s == nil || s.cache == nil {
		return nil
	}
	return s.cache.Close()
}

// cached 按键查缓存，未命中时通过 singleflight 合并并发请求后回源。
// 缓存故障降级为直接回源，不阻断查询。
func (s *Service) cached(ctx context.Context, key string, ttl time.Duration, out any, fetch func(context.Context) (any, error)) error {
	if raw, ok, err := s.cache.Get(ctx, key); err != nil {
		s.log.Warn("读取行情缓存失败", slog.String("key", key), slog.Any("error", err))
	} else if ok {
		if err := json.Unmarshal(raw, out); err == nil {
			return nil
		}
		s.log.Warn("行情缓存内容损坏，重新回源", slog.String("key", key))
	}

	raw, err, _ := s.group.Do(key, func() (any, error) {
		fresh, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		encoded, err := json.Marshal(fresh)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeCacheFailure, err, "序列化行情数据失败")
		}
		if err := s.cache.Set(ctx, key, encoded, ttl); err != nil {
			s.log.Warn("写入行情缓存失败", slog.String("key", key), slog.Any("error", err))
		}
		return encoded, nil
	})
	if err != nil {
		return err
	}
	return json.Unmarshal(raw.([]byte), out)
}
