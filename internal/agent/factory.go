package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	xerrors "ContextHub-Chain/internal/errors"
	"ContextHub-Chain/internal/market"
	"ContextHub-Chain/internal/registry"
	"ContextHub-Chain/internal/wallet"
	"ContextHub-Chain/internal/web3"
)

// Factory 按类别构造智能体并为其配备钱包账户。
// 类别到实现的映射是硬编码的 type switch，新增类别需要修改这里。
type Factory struct {
	contexts *registry.Registry
	wallets  *wallet.Manager
	chain    web3.Client
	markets  *market.Service
}

// NewFactory 创建智能体工厂。chain 与 markets 允许为空，
// 对应的智能体会在执行时将缺失能力记入观察信息。
func NewFactory(contexts *registry.Registry, wallets *wallet.Manager, chain web3.Client, markets *market.Service) *Factory {
	return &Factory{
		contexts: contexts,
		wallets:  wallets,
		chain:    chain,
		markets:  markets,
	}
}

// Create 按类别实例化一个新的智能体。
func (f *Factory) Create(kind Kind) (Agent, error) {
	if f == nil || f.contexts == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "智能体工厂未初始化")
	}

	id := uuid.NewString()
	if f.wallets != nil {
		if _, err := f.wallets.Create(id); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeWalletFailure, err, "初始化智能体钱包失败")
		}
	}

	base := baseAgent{
		id:       id,
		contexts: f.contexts,
		wallets:  f.wallets,
	}
	switch Kind(strings.ToLower(string(kind))) {
	case KindTrading:
		return &tradingAgent{baseAgent: base, chain: f.chain, markets: f.markets}, nil
	case KindNFT:
		return &nftAgent{baseAgent: base}, nil
	case KindData:
		return &dataAgent{baseAgent: base, markets: f.markets}, nil
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("未识别的智能体类别: %s", kind))
	}
}

// baseAgent 承载所有智能体共享的上下文解析与权限检查逻辑。
type baseAgent struct {
	id       string
	contexts *registry.Registry
	wallets  *wallet.Manager
}

func (a *baseAgent) ID() string {
	return a.id
}

// resolveContext 查找上下文记录并验证访问权限与所需能力。
func (a *baseAgent) resolveContext(ctx context.Context, contextID string, requiredCapabilities ...string) (registry.Record, error) {
	if strings.TrimSpace(contextID) == "" {
		return registry.Record{}, xerrors.New(xerrors.CodeInvalidArgument, "指令缺少 context_id")
	}
	record, ok := a.contexts.Lookup(contextID)
	if !ok {
		return registry.Record{}, xerrors.New(xerrors.CodeNotFound, "上下文不存在",
			xerrors.WithMetadata("context_id", contextID))
	}
	if !a.contexts.CheckPermission(ctx, a.id, contextID) {
		return registry.Record{}, xerrors.New(xerrors.CodePermissionDenied, "智能体无权访问该上下文",
			xerrors.WithMetadata("context_id", contextID))
	}
	if !record.HasCapabilities(requiredCapabilities) {
		return registry.Record{}, xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("上下文缺少所需能力: %s", strings.Join(requiredCapabilities, ",")),
			xerrors.WithMetadata("context_id", contextID))
	}
	return record, nil
}

// signReceipt 使用智能体钱包对执行回执签名，钱包缺失时返回空串。
func (a *baseAgent) signReceipt(payload string) (string, error) {
	if a.wallets == nil {
		return "", nil
	}
	signature, err := a.wallets.Sign(a.id, []byte(payload))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("0x%x", signature), nil
}
