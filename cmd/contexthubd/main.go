package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"ContextHub-Chain/internal/agent"
	"ContextHub-Chain/internal/api"
	"ContextHub-Chain/internal/config"
	"ContextHub-Chain/internal/market"
	"ContextHub-Chain/internal/observability/metrics"
	"ContextHub-Chain/internal/registry"
	"ContextHub-Chain/internal/stream"
	"ContextHub-Chain/internal/wallet"
	"ContextHub-Chain/internal/web3"
	"ContextHub-Chain/internal/web3/provider"
	"ContextHub-Chain/pkg/logger"
)

// main 是 ContextHub 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("contexthubd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("CONTEXTHUB_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "contexthub.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		OutputPaths: cfg.Log.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled: cfg.Log.AuditPath != "",
			Path:    cfg.Log.AuditPath,
		},
	}); err != nil {
		return err
	}
	defer logger.Sync()

	// 加载上下文描述目录。目录缺失只告警，不阻止启动。
	contexts := registry.New()
	loaded := contexts.LoadDir(cfg.Registry.ContextDir)
	logger.L().Info("上下文注册表就绪",
		slog.Int("loaded", loaded),
		slog.String("dir", cfg.Registry.ContextDir),
	)

	// 初始化行情缓存与代理服务。
	marketCache, err := createMarketCache(cfg)
	if err != nil {
		return err
	}
	var markets *market.Service
	if cfg.Market.BaseURL != "" {
		upstream, err := market.NewUpstream(market.UpstreamConfig{
			BaseURL:      cfg.Market.BaseURL,
			RequestDelay: time.Duration(cfg.Market.RequestDelayMS) * time.Millisecond,
			Timeout:      time.Duration(cfg.Market.TimeoutSeconds) * time.Second,
		})
		if err != nil {
			return err
		}
		markets = market.NewService(upstream, marketCache, market.TTLs{
			Price:     time.Duration(cfg.Market.PriceTTLSeconds) * time.Second,
			OrderBook: time.Duration(cfg.Market.BookTTLSeconds) * time.Second,
			Candles:   time.Duration(cfg.Market.CandleTTLSeconds) * time.Second,
		})
		defer markets.Close()
	}

	// 初始化推送通道总线。
	bus, err := createBus(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := bus.Close(); err != nil {
			logger.L().Warn("关闭推送总线失败", slog.Any("error", err))
		}
	}()

	// 周期性行情推送只在行情服务可用时开启。
	if markets != nil && len(cfg.Stream.Symbols) > 0 {
		ticker := stream.NewTicker(markets, bus, cfg.Stream.Symbols,
			time.Duration(cfg.Stream.TickSeconds)*time.Second)
		go func() {
			if err := ticker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.L().Warn("行情推送循环异常退出", slog.Any("error", err))
			}
		}()
	}

	// 链客户端是可选依赖，未配置时智能体降级运行。
	var chainClient web3.Client
	if cfg.Web3.ChainConfig != "" || cfg.Web3.RPCURL != "" {
		chainRegistry, err := provider.NewRegistry(ctx, cfg.Web3)
		if err != nil {
			return err
		}
		defer chainRegistry.Close()
		chainClient, err = chainRegistry.DefaultClient()
		if err != nil {
			return err
		}
	}

	factory := agent.NewFactory(contexts, wallet.NewManager(), chainClient, markets)

	if cfg.Server.MetricsAddress != "" {
		go func() {
			if err := metrics.StartServer(ctx, cfg.Server.MetricsAddress); err != nil && !errors.Is(err, context.Canceled) {
				logger.L().Warn("指标服务异常退出", slog.Any("error", err))
			}
		}()
	}

	server := api.NewServer(cfg.Server.Address, contexts, markets, factory, bus)
	logger.L().Info("API 服务启动", slog.String("address", cfg.Server.Address))

	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// createMarketCache 按配置选择行情缓存驱动。
func createMarketCache(cfg *config.Config) (market.Cache, error) {
	switch cfg.Market.Cache.Driver {
	case "", "memory":
		return market.NewMemoryCache(), nil
	case "redis":
		return market.NewRedisCache(market.RedisCacheConfig{
			Address:  cfg.Market.Cache.Redis.Address,
			Password: cfg.Market.Cache.Redis.Password,
			DB:       cfg.Market.Cache.Redis.DB,
		})
	default:
		return nil, fmt.Errorf("未知的缓存驱动: %s", cfg.Market.Cache.Driver)
	}
}

// createBus 按配置选择推送通道总线驱动。
func createBus(cfg *config.Config) (stream.Bus, error) {
	switch cfg.Stream.Driver {
	case "", "memory":
		return stream.NewMemoryBus(0), nil
	case "redis":
		return stream.NewRedisBus(stream.RedisBusConfig{
			Address:  cfg.Stream.Redis.Address,
			Password: cfg.Stream.Redis.Password,
			DB:       cfg.Stream.Redis.DB,
			Channel:  cfg.Stream.RedisChannel,
		})
	case "rabbitmq":
		return stream.NewRabbitMQBus(stream.RabbitMQBusConfig{
			URL:      cfg.Stream.RabbitMQ.URL,
			Exchange: cfg.Stream.RabbitMQ.Exchange,
		})
	default:
		return nil, fmt.Errorf("未知的总线驱动: %s", cfg.Stream.Driver)
	}
}
