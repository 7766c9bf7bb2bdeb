package stream

import (
	"context"
	"encoding/json"
)

// 更新事件的类别。
const (
	KindPrice             = "price"
	KindContextRegistered = "context_registered"
)

// Update 是推送通道上流动的一条更新事件。
type Update struct {
	Kind      string          `json:"kind"`
	Symbol    string          `json:"symbol,omitempty"`
	ContextID string          `json:"context_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	At        int64           `json:"at"`
}

// Publisher 负责向总线投递更新事件。
type Publisher interface {
	Publish(ctx context.Context, update Update) error
	Close() error
}

// Subscriber 负责从总线订阅更新事件。
// cancel 必须被调用以释放订阅资源。
type Subscriber interface {
	Subscribe(ctx context.Context) (updates <-chan Update, cancel func(), err error)
	Close() error
}

// Bus 同时具备发布与订阅能力。
type Bus interface {
	Publisher
	Subscriber
}
