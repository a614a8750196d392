package policy

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"AgentGuard-Chain/internal/intent"
)

// SpendLimitID 是额度限制策略的标识。
const SpendLimitID = "spend_limit"

// spendRecord 是单个 agent 在当前窗口内的额度记录。
type spendRecord struct {
	totalSpent  *big.Int
	windowStart time.Time
}

// SpendLimit 对每个 agent 维护一个滑动窗口内的累计支出上限。
// 额度在评估通过时即提交，不随后续流水线失败回滚；
// 已预留但最终失败的支出会占用剩余额度，直到窗口滚动。
type SpendLimit struct {
	max    *big.Int
	window time.Duration

	mu      sync.Mutex
	records map[string]*spendRecord

	now func() time.Time
}

// NewSpendLimit 构造额度限制策略。max 以最小单位计。
func NewSpendLimit(max *big.Int, window time.Duration) *SpendLimit {
	if max == nil {
		max = big.NewInt(0)
	}
	if window <= 0 {
		window = time.Hour
	}
	return &SpendLimit{
		max:     new(big.Int).Set(max),
		window:  window,
		records: make(map[string]*spendRecord),
		now:     time.Now,
	}
}

// ID 返回策略标识。
func (p *SpendLimit) ID() string { return SpendLimitID }

// Evaluate 核算意图金额。窗口过期时先重置计数；
// 预计支出超过上限则拒绝，且不更新计数；否则提交预计值并放行。
func (p *SpendLimit) Evaluate(it intent.Intent, pctx Context) Decision {
	amount, ok := transactableAmount(it)
	if !ok || amount == nil {
		// 无可核算金额的意图类型不占用额度。
		return Allow(SpendLimitID)
	}

	now := pctx.EvaluatedAt
	if now.IsZero() {
		now = p.now()
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	record, exists := p.records[pctx.AgentID]
	if !exists || now.Sub(record.windowStart) > p.window {
		record = &spendRecord{totalSpent: big.NewInt(0), windowStart: now}
		p.records[pctx.AgentID] = record
	}

	projected := new(big.Int).Add(record.totalSpent, amount)
	if projected.Cmp(p.max) > 0 {
		return Deny(SpendLimitID,
			fmt.Sprintf("窗口内累计支出将达到 %s，超过上限 %s", projected.String(), p.max.String()),
			map[string]string{
				"projected": projected.String(),
				"current":   record.totalSpent.String(),
				"limit":     p.max.String(),
				"window":    p.window.String(),
			})
	}

	record.totalSpent = projected
	return Allow(SpendLimitID)
}

// Spent 返回指定 agent 当前窗口内已提交的支出，主要用于测试与观测。
func (p *SpendLimit) Spent(agentID string) *big.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	record, ok := p.records[agentID]
	if !ok {
		return big.NewInt(0)
	}
	return new(big.Int).Set(record.totalSpent)
}
