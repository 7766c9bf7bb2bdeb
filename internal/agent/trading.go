package agent

import (
	"context"
	"fmt"
	"strings"

	"ContextHub-Chain/internal/market"
	"ContextHub-Chain/internal/web3"

	xerrors "ContextHub-Chain/internal/errors"
)

// tradingAgent 面向 DEX 上下文执行报价与模拟交易指令。
type tradingAgent struct {
	baseAgent
	chain   web3.Client
	markets *market.Service
}

func (a *tradingAgent) Kind() Kind {
	return KindTrading
}

// Execute 支持 quote、swap 与 balance 三种动作。swap 不会发出真实交易，
// 只产出带签名的意向回执；balance 通过链客户端实时查询地址余额。
func (a *tradingAgent) Execute(ctx context.Context, inst Instruction) (*Result, error) {
	action := strings.ToLower(strings.TrimSpace(inst.Action))

	// 余额查询只依赖链客户端，不要求上下文具备交易能力。
	required := []string{"token_swaps"}
	if action == "balance" {
		required = nil
	}
	record, err := a.resolveContext(ctx, inst.ContextID, required...)
	if err != nil {
		return nil, err
	}

	result := newResult(a.id, inst)
	result.Output["context_name"] = record.Name

	if action == "balance" {
		return a.executeBalance(ctx, inst, result)
	}

	if a.markets == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置行情服务")
	}
	symbol := strings.TrimSpace(inst.Symbol)
	if symbol == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "交易指令缺少 symbol")
	}

	quote, err := a.markets.Price(ctx, symbol)
	if err != nil {
		return nil, err
	}
	result.Output["price"] = quote.Price
	result.Output["symbol"] = quote.Symbol

	switch action {
	case "", "quote":
		result.Observations = appendObservation(result.Observations, "仅返回报价，未发起交易")
	case "swap":
		receipt := fmt.Sprintf("swap|%s|%s|%f", inst.ContextID, quote.Symbol, quote.Price)
		signature, err := a.signReceipt(receipt)
		if err != nil {
			return nil, err
		}
		result.Output["receipt"] = receipt
		if signature != "" {
			result.Output["signature"] = signature
		}
		result.Observations = appendObservation(result.Observations, "已生成签名的交易意向回执")
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("交易智能体不支持动作: %s", inst.Action))
	}

	if a.chain != nil {
		snapshot, err := a.chain.FetchChainSnapshot(ctx)
		if err != nil {
			result.Observations = appendObservation(result.Observations,
				fmt.Sprintf("获取链上信息失败: %v", err))
		} else {
			result.Output["chain_id"] = snapshot.ChainID
			result.Output["block_number"] = snapshot.BlockNumber
		}
	} else {
		result.Observations = appendObservation(result.Observations, "未配置链客户端")
	}

	return result, nil
}

// executeBalance 查询指令地址的原生代币余额，结果为十六进制字符串。
func (a *tradingAgent) executeBalance(ctx context.Context, inst Instruction, result *Result) (*Result, error) {
	if a.chain == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置链客户端")
	}
	address := strings.TrimSpace(inst.Address)
	if address == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "余额查询缺少 address")
	}

	balance, err := a.chain.ExecuteAction(ctx, "eth_getBalance", address)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUpstreamFailure, err, "查询链上余额失败")
	}
	result.Output["address"] = address
	result.Output["balance_wei"] = balance
	result.Observations = appendObservation(result.Observations, "余额来自链上实时查询")
	return result, nil
}

// appendObservation 将新的观察结果追加到现有的观察字符串中。
func appendObservation(existing, next string) string {
	next = strings.TrimSpace(next)
	if next == "" {
		return existing
	}
	if strings.TrimSpace(existing) == "" {
		return next
	}
	return existing + "\n" + next
}
