package policy

import (
	"fmt"
	"sync"

	"AgentGuard-Chain/internal/intent"
)

// WhitelistID 是程序白名单策略的标识。
const WhitelistID = "program_whitelist"

// TargetNativeTransfer 是原生资产转账对应的调用目标标识。
// 代币转账、兑换与铸造的目标是意图中实际被调用的合约地址。
const TargetNativeTransfer = "native_transfer"

// ProgramWhitelist 校验意图将要调用的全部程序/合约标识
// 是否都在配置的放行集合内。允许集合可在运行时整体替换，
// 以支持配置热加载。
type ProgramWhitelist struct {
	mu      sync.RWMutex
	allowed map[string]struct{}
}

// NewProgramWhitelist 构造白名单策略。
func NewProgramWhitelist(allowed []string) *ProgramWhitelist {
	p := &ProgramWhitelist{}
	p.Replace(allowed)
	return p
}

// Replace 用新的放行集合整体替换当前集合。
func (p *ProgramWhitelist) Replace(allowed []string) {
	set := make(map[string]struct{}, len(allowed))
	for _, id := range allowed {
		if id != "" {
			set[id] = struct{}{}
		}
	}
	p.mu.Lock()
	p.allowed = set
	p.mu.Unlock()
}

// Allowed 返回当前放行集合的快照。
func (p *ProgramWhitelist) Allowed() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.allowed))
	for id := range p.allowed {
		out = append(out, id)
	}
	return out
}

// ID 返回策略标识。
func (p *ProgramWhitelist) ID() string { return WhitelistID }

// Evaluate 解析意图的调用目标并逐一检查；
// 任何一个目标不在放行集合内都会被拒绝，并报告该目标。
func (p *ProgramWhitelist) Evaluate(it intent.Intent, pctx Context) Decision {
	targets := invocationTargets(it)

	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, target := range targets {
		if _, ok := p.allowed[target]; !ok {
			return Deny(WhitelistID,
				fmt.Sprintf("调用目标 %s 不在白名单内", target),
				map[string]string{"target": target})
		}
	}
	return Allow(WhitelistID)
}

// invocationTargets 解析意图将要调用的程序/合约标识。
// 这里的 switch 是封闭意图集合的消费点之一。
func invocationTargets(it intent.Intent) []string {
	switch v := it.(type) {
	case *intent.Transfer:
		if v.TokenMint == "" {
			return []string{TargetNativeTransfer}
		}
		return []string{v.TokenMint}
	case *intent.Swap:
		return []string{v.Pool}
	case *intent.Mint:
		return []string{v.TokenMint}
	default:
		return nil
	}
}
