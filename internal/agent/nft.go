package agent

import (
	"context"
	"fmt"
	"strings"

	xerrors "ContextHub-Chain/internal/errors"
)

// nftAgent 面向 NFT 市场上下文执行挂单与购买意向指令。
type nftAgent struct {
	baseAgent
}

func (a *nftAgent) Kind() Kind {
	return KindNFT
}

// Execute 支持 list 与 buy 两种动作，二者分别要求上下文具备
// nft_listing 与 nft_buying 能力。
func (a *nftAgent) Execute(ctx context.Context, inst Instruction) (*Result, error) {
	action := strings.ToLower(strings.TrimSpace(inst.Action))

	var capability string
	switch action {
	case "list":
		capability = "nft_listing"
	case "buy":
		capability = "nft_buying"
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("NFT 智能体不支持动作: %s", inst.Action))
	}

	record, err := a.resolveContext(ctx, inst.ContextID, capability)
	if err != nil {
		return nil, err
	}

	mint, _ := inst.Params["mint"].(string)
	if strings.TrimSpace(mint) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "NFT 指令缺少 mint 参数")
	}

	result := newResult(a.id, inst)
	result.Output["context_name"] = record.Name
	result.Output["mint"] = mint

	receipt := fmt.Sprintf("%s|%s|%s", action, inst.ContextID, mint)
	signature, err := a.signReceipt(receipt)
	if err != nil {
		return nil, err
	}
	result.Output["receipt"] = receipt
	if signature != "" {
		result.Output["signature"] = signature
	}
	result.Observations = "已生成签名的意向回执，未发起链上交易"
	return result, nil
}
