package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"ContextHub-Chain/internal/market"
	"ContextHub-Chain/pkg/logger"
)

// Ticker 周期性地从行情服务拉取配置的交易对价格并发布到总线。
type Ticker struct {
	markets  *market.Service
	bus      Publisher
	symbols  []string
	interval time.Duration
	log      *slog.Logger
}

// NewTicker 创建行情推送循环。
func NewTicker(markets *market.Service, bus Publisher, symbols []string, interval time.Duration) *Ticker {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Ticker{
		markets:  markets,
		bus:      bus,
		symbols:  symbols,
		interval: interval,
		log:      logger.Named("ticker"),
	}
}

// Run 阻塞运行推送循环，直到上下文取消。
func (t *Ticker) Run(ctx context.Context) error {
	if t.markets == nil || t.bus == nil || len(t.symbols) == 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			t.publishOnce(ctx)
		}
	}
}

func (t *Ticker) publishOnce(ctx context.Context) {
	for _, symbol := range t.symbols {
		quote, err := t.markets.Price(ctx, symbol)
		if err != nil {
			t.log.Warn("拉取行情失败", slog.String("symbol", symbol), slog.Any("error", err))
			continue
		}
		payload, err := json.Marshal(quote)
		if err != nil {
			continue
		}
		update := Update{
			Kind:    KindPrice,
			Symbol:  quote.Symbol,
			Payload: payload,
			At:      time.Now().Unix(),
		}
		if err := t.bus.Publish(ctx, update); err != nil {
			t.log.Warn("发布行情更新失败", slog.String("symbol", symbol), slog.Any("error", err))
		}
	}
}
