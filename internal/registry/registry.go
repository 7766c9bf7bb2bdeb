package registry

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	xerrors "ContextHub-Chain/internal/errors"
	"ContextHub-Chain/pkg/logger"
)

// Registry 维护上下文标识到记录的权威映射，并响应查询与注册请求。
// 实例通过构造函数注入使用方，不存在包级单例。
type Registry struct {
	mu      sync.RWMutex
	records map[string]Record
	order   []string
	policy  Policy
	log     *slog.Logger
}

// Option 定义可选的 Registry 配置。
type Option func(*Registry)

// WithPolicy 指定权限校验策略，默认放行所有请求。
func WithPolicy(policy Policy) Option {
	return func(r *Registry) {
		if policy != nil {
			r.policy = policy
		}
	}
}

// WithLogger 指定注册表使用的日志实例。
func WithLogger(log *slog.Logger) Option {
	return func(r *Registry) {
		if log != nil {
			r.log = log
		}
	}
}

// New 创建一个空的上下文注册表。
func New(opts ...Option) *Registry {
	r := &Registry{
		records: make(map[string]Record),
		policy:  AllowAll{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	if r.log == nil {
		r.log = logger.Named("registry")
	}
	return r
}

// Lookup 按标识精确查找记录，未命中时返回 false 而非错误。
func (r *Registry) Lookup(id string) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	record, ok := r.records[id]
	if !ok {
		return Record{}, false
	}
	return record.clone(), true
}

// ListAll 按首次注册顺序返回全部记录。
// 覆盖已有 id 不改变其在序列中的位置。
func (r *Registry) ListAll() []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Record, 0, len(r.order))
	for _, id := range r.order {
		if record, ok := r.records[id]; ok {
			out = append(out, record.clone())
		}
	}
	return out
}

// ListByType 返回指定类别的全部记录。类别合法性由调用方通过 ParseType 保证。
func (r *Registry) ListByType(t Type) []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Record, 0)
	for _, id := range r.order {
		record, ok := r.records[id]
		if ok && record.Type == t {
			out = append(out, record.clone())
		}
	}
	return out
}

// FindByCapabilities 返回能力集合覆盖全部请求能力的记录。
// 匹配为合取语义：记录必须同时具备所有请求能力。
func (r *Registry) FindByCapabilities(required []string) []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Record, 0)
	for _, id := range r.order {
		record, ok := r.records[id]
		if ok && record.HasCapabilities(required) {
			out = append(out, record.clone())
		}
	}
	return out
}

// Len 返回当前持有的记录数量。
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// Register 插入或覆盖一条记录，并返回本次注册的外部引用标识。
// authority 仅作为不透明凭证接受，完整校验由外部授权系统负责。
// 同一 id 的后写覆盖先写，注册立即对后续查询可见。
func (r *Registry) Register(record Record, authority string) (string, error) {
	if err := record.Validate(); err != nil {
		return "", xerrors.Wrap(xerrors.CodeInvalidArgument, err, "上下文记录不合法")
	}

	// Validate 已确认类别合法，此处存储 ParseType 归一化后的枚举值，
	// 保证注册表内不会出现带空白或大小写差异的类别。
	record.Type, _ = ParseType(string(record.Type))

	r.mu.Lock()
	if _, exists := r.records[record.ID]; !exists {
		r.order = append(r.order, record.ID)
	}
	r.records[record.ID] = record.clone()
	r.mu.Unlock()

	reference := uuid.NewString()
	logger.Audit().Info("上下文注册成功",
		slog.String("context_id", record.ID),
		slog.String("type", string(record.Type)),
		slog.String("reference", reference),
		slog.String("authority", authority),
	)
	return reference, nil
}

// CheckPermission 判断智能体能否访问指定上下文。
// 参考实现始终放行，仅作为外部授权系统的占位，不构成安全控制。
func (r *Registry) CheckPermission(ctx context.Context, agentID, contextID string) bool {
	return r.policy.CheckPermission(ctx, agentID, contextID)
}
