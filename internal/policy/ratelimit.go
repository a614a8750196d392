package policy

import (
	"fmt"
	"sync"
	"time"

	"AgentGuard-Chain/internal/intent"
)

// RateLimitID 是频率限制策略的标识。
const RateLimitID = "rate_limit"

// rateLimitWindow 是频率核算的固定窗口。
const rateLimitWindow = 60 * time.Second

// RateLimit 限制单个 agent 在滚动 60 秒窗口内可发起的动作数量。
type RateLimit struct {
	maxPerMinute int

	mu      sync.Mutex
	records map[string][]time.Time

	now func() time.Time
}

// NewRateLimit 构造频率限制策略。
func NewRateLimit(maxPerMinute int) *RateLimit {
	if maxPerMinute <= 0 {
		maxPerMinute = 1
	}
	return &RateLimit{
		maxPerMinute: maxPerMinute,
		records:      make(map[string][]time.Time),
		now:          time.Now,
	}
}

// ID 返回策略标识。
func (p *RateLimit) ID() string { return RateLimitID }

// Evaluate 先剪除窗口外的时间戳，再与上限比较；
// 达到上限即拒绝，否则记录本次动作并放行。
func (p *RateLimit) Evaluate(it intent.Intent, pctx Context) Decision {
	now := pctx.EvaluatedAt
	if now.IsZero() {
		now = p.now()
	}
	cutoff := now.Add(-rateLimitWindow)

	p.mu.Lock()
	defer p.mu.Unlock()

	stamps := p.records[pctx.AgentID]
	pruned := stamps[:0]
	for _, ts := range stamps {
		if ts.After(cutoff) {
			pruned = append(pruned, ts)
		}
	}

	if len(pruned) >= p.maxPerMinute {
		p.records[pctx.AgentID] = pruned
		return Deny(RateLimitID,
			fmt.Sprintf("60 秒窗口内已发起 %d 次动作，达到上限 %d", len(pruned), p.maxPerMinute),
			map[string]string{
				"count":  fmt.Sprintf("%d", len(pruned)),
				"limit":  fmt.Sprintf("%d", p.maxPerMinute),
				"window": rateLimitWindow.String(),
			})
	}

	p.records[pctx.AgentID] = append(pruned, now)
	return Allow(RateLimitID)
}
