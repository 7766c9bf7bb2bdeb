package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitMQBusConfig 描述 RabbitMQ 总线的连接参数。
type RabbitMQBusConfig struct {
	URL      string
	Exchange string
}

// RabbitMQBus 通过 fanout exchange 广播更新事件。
type RabbitMQBus struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
}

// NewRabbitMQBus 创建 RabbitMQ 总线实例。
func NewRabbitMQBus(cfg RabbitMQBusConfig) (*RabbitMQBus, error) {
	if cfg.URL == "" {
		return nil, errors.New("RabbitMQ URL 不能为空")
	}
	exchange := cfg.Exchange
	if exchange == "" {
		exchange = "contexthub.updates"
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("连接 RabbitMQ 失败: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("创建 RabbitMQ channel 失败: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "fanout", false, true, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("声明 RabbitMQ exchange 失败: %w", err)
	}
	return &RabbitMQBus{conn: conn, ch: ch, exchange: exchange}, nil
}

// Publish 将事件发布到 fanout exchange。
func (b *RabbitMQBus) Publish(ctx context.Context, update Update) error {
	if b == nil || b.ch == nil {
		return errors.New("RabbitMQ 总线未初始化")
	}
	encoded, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("序列化更新事件失败: %w", err)
	}
	return b.ch.PublishWithContext(ctx, b.exchange, "", false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        encoded,
	})
}

// Subscribe 为订阅者声明独占队列并绑定到 exchange。
func (b *RabbitMQBus) Subscribe(ctx context.Context) (<-chan Update, func(), error) {
	if b == nil || b.ch == nil {
		return nil, nil, errors.New("RabbitMQ 总线未初始化")
	}
	queue, err := b.ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("声明 RabbitMQ 队列失败: %w", err)
	}
	if err := b.ch.QueueBind(queue.Name, "", b.exchange, false, nil); err != nil {
		return nil, nil, fmt.Errorf("绑定 RabbitMQ 队列失败: %w", err)
	}
	msgs, err := b.ch.Consume(queue.Name, "", true, true, false, false, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("订阅 RabbitMQ 队列失败: %w", err)
	}

	updates := make(chan Update, 64)
	done := make(chan struct{})
	go func() {
		defer close(updates)
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var update Update
				if err := json.Unmarshal(msg.Body, &update); err != nil {
					continue
				}
				select {
				case updates <- update:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	var once sync.Once
	cancel := func() { once.Do(func() { close(done) }) }
	return updates, cancel, nil
}

// Close 关闭 RabbitMQ 连接。
func (b *RabbitMQBus) Close() error {
	if b == nil {
		return nil
	}
	if b.ch != nil {
		_ = b.ch.Close()
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}

var _ Bus = (*RabbitMQBus)(nil)
