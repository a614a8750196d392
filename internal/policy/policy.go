package policy

import (
	"math/big"
	"time"

	"AgentGuard-Chain/internal/intent"
)

// Context 是策略评估时的瞬时快照，由 Executor 在评估前一次性构造。
// Balance 以链上最小单位计。
type Context struct {
	AgentID     string
	WalletID    string
	Balance     *big.Int
	EvaluatedAt time.Time
}

// Decision 是一次策略评估的结果。Allowed 为 false 时，
// Reason 与 Metadata 必须携带足够的结构化信息，
// 使提交方能够自行修正后重新提交。
type Decision struct {
	Allowed  bool              `json:"allowed"`
	PolicyID string            `json:"policy_id"`
	Reason   string            `json:"reason,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Allow 构造一个放行决定。
func Allow(policyID string) Decision {
	return Decision{Allowed: true, PolicyID: policyID}
}

// Deny 构造一个拒绝决定。
func Deny(policyID, reason string, metadata map[string]string) Decision {
	return Decision{Allowed: false, PolicyID: policyID, Reason: reason, Metadata: metadata}
}

// Policy 是一条可评估的安全规则。实现可以持有内部状态
// （如滑动窗口计数器），但不得读取其他策略的状态。
type Policy interface {
	ID() string
	Evaluate(it intent.Intent, pctx Context) Decision
}

// transactableAmount 从意图中提取参与额度核算的金额。
// 没有可核算金额的意图类型返回 false，对限额策略视为豁免。
// 这里的 switch 是封闭意图集合的消费点之一。
func transactableAmount(it intent.Intent) (*big.Int, bool) {
	switch v := it.(type) {
	case *intent.Transfer:
		return v.Amount, true
	case *intent.Swap:
		return v.AmountIn, true
	case *intent.Mint:
		return nil, false
	default:
		return nil, false
	}
}
