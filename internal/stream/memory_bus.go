package stream

import (
	"context"
	"errors"
	"sync"
)

// MemoryBus 使用 channel 在进程内广播更新事件，是默认驱动，也用于测试。
// 慢订阅者的缓冲写满后，新事件对其静默丢弃，不阻塞发布方。
type MemoryBus struct {
	mu          sync.Mutex
	subscribers map[int]chan Update
	nextID      int
	buffer      int
	closed      bool
}

// NewMemoryBus 创建内存总线。
func NewMemoryBus(buffer int) *MemoryBus {
	if buffer <= 0 {
		buffer = 64
	}
	return &MemoryBus{
		subscribers: make(map[int]chan Update),
		buffer:      buffer,
	}
}

// Publish 将事件广播给所有订阅者。
func (b *MemoryBus) Publish(ctx context.Context, update Update) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return errors.New("总线已关闭")
	}
	for _, ch := range b.subscribers {
		select {
		case ch <- update:
		default:
		}
	}
	return nil
}

// Subscribe 注册一个新的订阅者。
func (b *MemoryBus) Subscribe(ctx context.Context) (<-chan Update, func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, nil, errors.New("总线已关闭")
	}
	id := b.nextID
	b.nextID++
	ch := make(chan Update, b.buffer)
	b.subscribers[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subscribers[id]; ok {
			delete(b.subscribers, id)
			close(sub)
		}
	}
	return ch, cancel, nil
}

// Close 关闭总线并断开所有订阅者。
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for id, ch := range b.subscribers {
		delete(b.subscribers, id)
		close(ch)
	}
	return nil
}

var _ Bus = (*MemoryBus)(nil)
