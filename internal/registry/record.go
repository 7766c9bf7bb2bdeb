package registry

import (
	"fmt"
	"strings"
)

// Type 枚举上下文所描述的外部服务类别。
type Type string

const (
	TypeDEX            Type = "dex"
	TypeNFTMarketplace Type = "nft_marketplace"
	TypeOracle         Type = "oracle"
	TypeGovernance     Type = "governance"
	TypeSocial         Type = "social"
	TypeIdentity       Type = "identity"
	TypeStorage        Type = "storage"
)

// Types 列出所有合法的上下文类别。
var Types = []Type{
	TypeDEX,
	TypeNFTMarketplace,
	TypeOracle,
	TypeGovernance,
	TypeSocial,
	TypeIdentity,
	TypeStorage,
}

// ParseType 将外部输入解析为枚举值，未识别的取值返回错误。
func ParseType(raw string) (Type, error) {
	candidate := Type(strings.ToLower(strings.TrimSpace(raw)))
	for _, t := range Types {
		if candidate == t {
			return t, nil
		}
	}
	return "", fmt.Errorf("未识别的上下文类别: %q", raw)
}

// Record 描述一个可被智能体访问的外部服务。
type Record struct {
	ID           string         `json:"id" yaml:"id"`
	Name         string         `json:"name" yaml:"name"`
	Description  string         `json:"description" yaml:"description"`
	Type         Type           `json:"type" yaml:"type"`
	Capabilities []string       `json:"capabilities" yaml:"capabilities"`
	Endpoint     string         `json:"endpoint,omitempty" yaml:"endpoint"`
	AuthRequired bool           `json:"auth_required" yaml:"auth_required"`
	Schema       map[string]any `json:"schema,omitempty" yaml:"schema"`
}

// Validate 检查记录是否具备入库所需的最小字段。
func (r Record) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("上下文缺少 id")
	}
	if _, err := ParseType(string(r.Type)); err != nil {
		return err
	}
	return nil
}

// HasCapabilities 判断记录的能力集合是否覆盖全部请求能力。
// 比较仅忽略大小写，不做空白或 Unicode 归一化；空的请求集合视为匹配任意记录。
func (r Record) HasCapabilities(required []string) bool {
	if len(required) == 0 {
		return true
	}
	owned := make(map[string]struct{}, len(r.Capabilities))
	for _, capability := range r.Capabilities {
		owned[strings.ToLower(capability)] = struct{}{}
	}
	for _, want := range required {
		if _, ok := owned[strings.ToLower(want)]; !ok {
			return false
		}
	}
	return true
}

// clone 返回记录的深拷贝，避免调用方修改注册表内部状态。
func (r Record) clone() Record {
	out := r
	if r.Capabilities != nil {
		out.Capabilities = append([]string(nil), r.Capabilities...)
	}
	if r.Schema != nil {
		out.Schema = make(map[string]any, len(r.Schema))
		for k, v := range r.Schema {
			out.Schema[k] = v
		}
	}
	return out
}
