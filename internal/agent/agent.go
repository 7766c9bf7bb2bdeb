package agent

import (
	"context"
	"time"
)

// Instruction 描述一次下发给智能体的指令。
type Instruction struct {
	ContextID string         `json:"context_id"`
	Action    string         `json:"action"`
	Symbol    string         `json:"symbol,omitempty"`
	Address   string         `json:"address,omitempty"`
	Params    map[string]any `json:"params,omitempty"`
}

// Result 汇总指令执行得到的结果。
type Result struct {
	AgentID      string         `json:"agent_id"`
	ContextID    string         `json:"context_id"`
	Action       string         `json:"action"`
	Output       map[string]any `json:"output,omitempty"`
	Observations string         `json:"observations,omitempty"`
	CreatedAt    int64          `json:"created_at"`
}

// Agent 是消费上下文描述并执行指令的外部执行体的进程内表示。
type Agent interface {
	// ID 返回智能体的唯一标识。
	ID() string
	// Kind 返回智能体类别。
	Kind() Kind
	// Execute 解析并执行一条指令。
	Execute(ctx context.Context, inst Instruction) (*Result, error)
}

// Kind 枚举智能体类别。
type Kind string

const (
	KindTrading Kind = "trading"
	KindNFT     Kind = "nft"
	KindData    Kind = "data"
)

func newResult(agentID string, inst Instruction) *Result {
	return &Result{
		AgentID:   agentID,
		ContextID: inst.ContextID,
		Action:    inst.Action,
		Output:    make(map[string]any),
		CreatedAt: time.Now().Unix(),
	}
}
