package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Config 描述了 ContextHub 在启动阶段需要加载的核心配置。
type Config struct {
	Server   ServerConfig   `json:"server"`
	Registry RegistryConfig `json:"registry"`
	Market   MarketConfig   `json:"market"`
	Stream   StreamConfig   `json:"stream"`
	Web3     Web3Config     `json:"web3"`
	Log      LogConfig      `json:"log"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address        string `json:"address"`
	MetricsAddress string `json:"metrics_address"`
}

// RegistryConfig 指定上下文描述文件所在目录。
type RegistryConfig struct {
	ContextDir string `json:"context_dir"`
}

// MarketConfig 描述行情代理访问上游服务的方式。
type MarketConfig struct {
	BaseURL          string      `json:"base_url"`
	RequestDelayMS   int         `json:"request_delay_ms"`
	TimeoutSeconds   int         `json:"timeout_seconds"`
	PriceTTLSeconds  int         `json:"price_ttl_seconds"`
	BookTTLSeconds   int         `json:"book_ttl_seconds"`
	CandleTTLSeconds int         `json:"candle_ttl_seconds"`
	Cache            CacheConfig `json:"cache"`
}

// CacheConfig 选择行情缓存的后端驱动。
type CacheConfig struct {
	Driver string      `json:"driver"`
	Redis  RedisConfig `json:"redis"`
}

// RedisConfig 统一描述 Redis 连接参数。
type RedisConfig struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// StreamConfig 控制推送通道使用的事件总线。
type StreamConfig struct {
	Driver       string         `json:"driver"`
	TickSeconds  int            `json:"tick_seconds"`
	Symbols      []string       `json:"symbols"`
	Redis        RedisConfig    `json:"redis"`
	RedisChannel string         `json:"redis_channel"`
	RabbitMQ     RabbitMQConfig `json:"rabbitmq"`
}

// RabbitMQConfig 描述 RabbitMQ 总线的连接参数。
type RabbitMQConfig struct {
	URL      string `json:"url"`
	Exchange string `json:"exchange"`
}

// Web3Config 包含访问区块链节点所需的 RPC 地址。
type Web3Config struct {
	ChainConfig  string `json:"chain_config"`
	DefaultChain string `json:"default_chain"`
	RPCURL       string `json:"rpc_url"`
}

// LogConfig 控制结构化日志与审计日志行为。
type LogConfig struct {
	Level       string   `json:"level"`
	Format      string   `json:"format"`
	OutputPaths []string `json:"output_paths"`
	AuditPath   string   `json:"audit_path"`
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))

	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Registry.ContextDir == "" {
		c.Registry.ContextDir = filepath.Join(baseDir, "contexts")
	} else if !filepath.IsAbs(c.Registry.ContextDir) {
		c.Registry.ContextDir = filepath.Join(baseDir, c.Registry.ContextDir)
	}

	if c.Market.RequestDelayMS <= 0 {
		c.Market.RequestDelayMS = 200
	}
	if c.Market.TimeoutSeconds <= 0 {
		c.Market.TimeoutSeconds = 10
	}
	if c.Market.PriceTTLSeconds <= 0 {
		c.Market.PriceTTLSeconds = 10
	}
	if c.Market.BookTTLSeconds <= 0 {
		c.Market.BookTTLSeconds = 5
	}
	if c.Market.CandleTTLSeconds <= 0 {
		c.Market.CandleTTLSeconds = 60
	}
	if c.Market.Cache.Driver == "" {
		c.Market.Cache.Driver = "memory"
	}

	if c.Stream.Driver == "" {
		c.Stream.Driver = "memory"
	}
	if c.Stream.TickSeconds <= 0 {
		c.Stream.TickSeconds = 5
	}
	if c.Stream.RedisChannel == "" {
		c.Stream.RedisChannel = "contexthub:updates"
	}
	if c.Stream.RabbitMQ.Exchange == "" {
		c.Stream.RabbitMQ.Exchange = "contexthub.updates"
	}

	if c.Web3.ChainConfig != "" && !filepath.IsAbs(c.Web3.ChainConfig) {
		c.Web3.ChainConfig = filepath.Join(baseDir, c.Web3.ChainConfig)
	}
}
