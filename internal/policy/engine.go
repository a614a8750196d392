package policy

import (
	"log/slog"
	"sync"

	"AgentGuard-Chain/internal/intent"
)

// EngineID 是引擎在所有策略都放行时返回的合成决定标识。
const EngineID = "policy.engine"

// Engine 维护一个有序、只增的策略集合，并按注册顺序评估。
// 没有注册任何策略的引擎放行一切：门控必须显式配置才会生效。
type Engine struct {
	mu       sync.RWMutex
	policies []Policy
	locks    *keyedMutex
	logger   *slog.Logger
}

// EngineOption 定义可选配置。
type EngineOption func(*Engine)

// WithEngineLogger 指定日志输出。
func WithEngineLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

// NewEngine 构造策略引擎。
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{locks: newKeyedMutex()}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Register 追加一条策略。注册顺序决定先报告哪条拒绝原因，
// 但不影响正确性：任何一条策略拒绝的意图都不会被放行。
func (e *Engine) Register(p Policy) {
	if p == nil {
		return
	}
	e.mu.Lock()
	e.policies = append(e.policies, p)
	e.mu.Unlock()
}

// Policies 返回已注册策略的标识列表。
func (e *Engine) Policies() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ids := make([]string, 0, len(e.policies))
	for _, p := range e.policies {
		ids = append(ids, p.ID())
	}
	return ids
}

// EvaluateAll 按注册顺序评估全部策略，遇到第一条拒绝立即返回。
// 拒绝之前已评估的策略会提交各自的乐观状态（如额度累加），
// 拒绝之后的策略不再执行，状态也不更新——这一不对称是有意保留的：
// 额度核算发生在评估时刻，而不是链上确认时刻。
//
// 同一 agent 的并发评估在此处串行化，避免两笔并发转账
// 读到同一份旧计数而同时越过限额；不同 agent 互不阻塞。
func (e *Engine) EvaluateAll(it intent.Intent, pctx Context) Decision {
	unlock := e.locks.lock(pctx.AgentID)
	defer unlock()

	e.mu.RLock()
	policies := e.policies
	e.mu.RUnlock()

	for _, p := range policies {
		decision := p.Evaluate(it, pctx)
		if !decision.Allowed {
			if e.logger != nil {
				e.logger.Info("策略拒绝意图",
					slog.String("policy_id", decision.PolicyID),
					slog.String("intent_id", it.Common().ID),
					slog.String("agent_id", pctx.AgentID),
					slog.String("reason", decision.Reason),
				)
			}
			return decision
		}
	}
	return Allow(EngineID)
}

// keyedMutex 提供按 key 的互斥锁，带引用计数避免条目泄漏。
type keyedMutex struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{entries: make(map[string]*lockEntry)}
}

// lock 获取 key 对应的锁，返回解锁函数。
func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	entry, ok := k.entries[key]
	if !ok {
		entry = &lockEntry{}
		k.entries[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.entries, key)
		}
		k.mu.Unlock()
	}
}
