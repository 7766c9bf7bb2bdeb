package registry

import "context"

// Policy 定义上下文访问的权限校验策略。
// 真实实现由外部授权系统提供，本包仅约定接口；
// 带上下文的签名允许实现方发起远程鉴权调用。
type Policy interface {
	CheckPermission(ctx context.Context, agentID, contextID string) bool
}

// AllowAll 是显式命名的放行策略：任何请求都被允许。
// 它是参考实现的默认策略，替换它不需要改动注册表本身。
type AllowAll struct{}

// CheckPermission 恒定返回 true。
func (AllowAll) CheckPermission(ctx context.Context, agentID, contextID string) bool {
	return true
}

var _ Policy = AllowAll{}
