package agent

import (
	"context"
	"fmt"
	"strings"

	"ContextHub-Chain/internal/market"

	xerrors "ContextHub-Chain/internal/errors"
)

// dataAgent 面向预言机等数据类上下文返回行情数据快照。
type dataAgent struct {
	baseAgent
	markets *market.Service
}

func (a *dataAgent) Kind() Kind {
	return KindData
}

// Execute 支持 price 与 candles 两种动作。
func (a *dataAgent) Execute(ctx context.Context, inst Instruction) (*Result, error) {
	record, err := a.resolveContext(ctx, inst.ContextID)
	if err != nil {
		return nil, err
	}
	if a.markets == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置行情服务")
	}
	symbol := strings.TrimSpace(inst.Symbol)
	if symbol == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "数据指令缺少 symbol")
	}

	result := newResult(a.id, inst)
	result.Output["context_name"] = record.Name

	switch action := strings.ToLower(strings.TrimSpace(inst.Action)); action {
	case "", "price":
		quote, err := a.markets.Price(ctx, symbol)
		if err != nil {
			return nil, err
		}
		result.Output["price"] = quote.Price
		result.Output["symbol"] = quote.Symbol
	case "candles":
		interval, _ := inst.Params["interval"].(string)
		limit := 0
		if raw, ok := inst.Params["limit"].(float64); ok {
			limit = int(raw)
		}
		candles, err := a.markets.Candles(ctx, symbol, interval, limit)
		if err != nil {
			return nil, err
		}
		result.Output["candles"] = candles
		result.Output["symbol"] = symbol
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("数据智能体不支持动作: %s", inst.Action))
	}
	return result, nil
}
