package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisBusConfig 描述 Redis 发布订阅总线的连接参数。
type RedisBusConfig struct {
	Address  string
	Password string
	DB       int
	Channel  string
}

// RedisBus 使用 Redis Pub/Sub 在多个进程之间广播更新事件。
type RedisBus struct {
	client  *redis.Client
	channel string
}

// NewRedisBus 创建 Redis 总线实例。
func NewRedisBus(cfg RedisBusConfig) (*RedisBus, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	channel := cfg.Channel
	if channel == "" {
		channel = "contexthub:updates"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return &RedisBus{client: client, channel: channel}, nil
}

// Publish 将事件序列化后发布到 Redis 频道。
func (b *RedisBus) Publish(ctx context.Context, update Update) error {
	encoded, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("序列化更新事件失败: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, encoded).Err(); err != nil {
		return fmt.Errorf("Redis 发布更新失败: %w", err)
	}
	return nil
}

// Subscribe 订阅 Redis 频道并将消息解码为更新事件。
func (b *RedisBus) Subscribe(ctx context.Context) (<-chan Update, func(), error) {
	pubsub := b.client.Subscribe(ctx, b.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, fmt.Errorf("订阅 Redis 频道失败: %w", err)
	}

	updates := make(chan Update, 64)
	go func() {
		defer close(updates)
		for msg := range pubsub.Channel() {
			var update Update
			if err := json.Unmarshal([]byte(msg.Payload), &update); err != nil {
				continue
			}
			select {
			case updates <- update:
			case <-ctx.Done():
				return
			}
		}
	}()

	cancel := func() { _ = pubsub.Close() }
	return updates, cancel, nil
}

// Close 关闭 Redis 连接。
func (b *RedisBus) Close() error {
	if b == nil || b.client == nil {
		return nil
	}
	return b.client.Close()
}

var _ Bus = (*RedisBus)(nil)
